package sequencer

// SchedulingStrategy orders Targets before a run begins.
type SchedulingStrategy int

const (
	SchedulingFIFO SchedulingStrategy = iota
	SchedulingPriority
	SchedulingDependencies
)

func (s SchedulingStrategy) String() string {
	switch s {
	case SchedulingFIFO:
		return "FIFO"
	case SchedulingPriority:
		return "Priority"
	case SchedulingDependencies:
		return "Dependencies"
	default:
		return "Unknown"
	}
}

// ExecutionStrategy governs how many ready Targets run at once and in
// what order they are admitted.
type ExecutionStrategy int

const (
	ExecutionSequential ExecutionStrategy = iota
	ExecutionParallel
	ExecutionAdaptive
	ExecutionPriority
)

func (s ExecutionStrategy) String() string {
	switch s {
	case ExecutionSequential:
		return "Sequential"
	case ExecutionParallel:
		return "Parallel"
	case ExecutionAdaptive:
		return "Adaptive"
	case ExecutionPriority:
		return "Priority"
	default:
		return "Unknown"
	}
}

// RecoveryStrategy governs what happens once a Target exhausts its
// retries.
type RecoveryStrategy int

const (
	RecoveryStop RecoveryStrategy = iota
	RecoverySkip
	RecoveryRetry
	RecoveryAlternative
)

func (s RecoveryStrategy) String() string {
	switch s {
	case RecoveryStop:
		return "Stop"
	case RecoverySkip:
		return "Skip"
	case RecoveryRetry:
		return "Retry"
	case RecoveryAlternative:
		return "Alternative"
	default:
		return "Unknown"
	}
}

// State is the Sequence's own lifecycle state, distinct from any one
// Target's Status.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ResourceLimits bounds the resource budget the Parallel/Adaptive/
// Priority execution strategies admit ready Targets against.
type ResourceLimits struct {
	MaxCPUPercent   float64
	MaxMemoryMB     float64
}

// DefaultResourceLimits leaves both budgets unbounded (a zero value
// disables the corresponding check in withinLimits).
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{}
}

// ResourceMonitor reports current resource consumption. A nil
// ResourceMonitor is treated as "always within limits" so Parallel
// execution degrades to a plain concurrency cap.
type ResourceMonitor interface {
	Usage() (cpuPercent, memoryMB float64, err error)
}
