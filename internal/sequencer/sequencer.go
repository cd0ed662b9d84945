// Package sequencer implements Sequencer: an orchestrator that runs a
// collection of Targets under a chosen scheduling, execution, and
// recovery strategy, generalizing Target's own intra-target
// topological executor up one level to a DAG of Targets.
package sequencer

import (
	"context"
	"sync"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/target"
	"github.com/elementastro/orrery/internal/task"
	"github.com/elementastro/orrery/internal/telemetry/events"
)

// Progress is the notification payload emitted at progressInterval
// while a sequence runs.
type Progress struct {
	SequenceID         string
	State              State
	OverallProgress    float64
	CompletedTargets   int
	TotalTargets       int
	CurrentTarget      string
	CurrentTask        string
	Elapsed            time.Duration
	EstimatedRemaining time.Duration
}

// Result is the terminal record of one ExecuteAll run.
type Result struct {
	Success      bool
	Completed    []string
	Failed       []string
	Skipped      []string
	Progress     float64
	ElapsedTime  time.Duration
	Stats        map[string]interface{}
	Warnings     []string
	Errors       []string
}

// Sequencer orchestrates a DAG of named Targets.
type Sequencer struct {
	UUID string
	Name string

	mu              sync.RWMutex
	targets         map[string]*target.Target
	order           []string            // insertion order of target names
	deps            map[string][]string // name -> names it depends on
	alternatives    map[string]*target.Target
	targetTimeouts  map[string]time.Duration
	attempts        map[string]int

	schedulingStrategy   SchedulingStrategy
	executionStrategy    ExecutionStrategy
	recoveryStrategy     RecoveryStrategy
	maxConcurrentTargets int
	globalTimeout        time.Duration
	resourceLimits       ResourceLimits
	resourceMonitor      ResourceMonitor
	ephemeris            Ephemeris
	progressInterval     time.Duration

	state         State
	startedAt     time.Time
	stopRequested bool
	paused        bool
	running       bool
	doneCh        chan struct{}

	bus events.Bus

	cbMu           sync.Mutex
	onSequenceStart func(sequenceID string)
	onSequenceEnd   func(sequenceID string, result Result)
	onTargetStart   func(name string)
	onTargetEnd     func(name string, status target.Status)
	onTaskStart     func(targetName, taskName string)
	onTaskEnd       func(targetName, taskName string, status task.Status)
	onError         func(scope string, err error)
	onProgress      func(p Progress)

	resultMu   sync.Mutex
	lastResult *Result

	current struct {
		sync.Mutex
		target string
		task   string
	}
}

// New constructs an Idle Sequencer. bus may be nil; sequence-level
// telemetry events are then dropped.
func New(uuid, name string, bus events.Bus) *Sequencer {
	return &Sequencer{
		UUID:                 uuid,
		Name:                 name,
		targets:              make(map[string]*target.Target),
		deps:                 make(map[string][]string),
		alternatives:         make(map[string]*target.Target),
		targetTimeouts:       make(map[string]time.Duration),
		attempts:             make(map[string]int),
		schedulingStrategy:   SchedulingFIFO,
		executionStrategy:    ExecutionSequential,
		recoveryStrategy:     RecoveryStop,
		maxConcurrentTargets: 1,
		progressInterval:     time.Second,
		resourceLimits:       DefaultResourceLimits(),
		doneCh:               make(chan struct{}),
		state:                StateIdle,
		bus:                  bus,
	}
}

func (s *Sequencer) publish(kind string, fields map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["sequence_id"] = s.UUID
	_ = s.bus.Publish(events.Event{
		Time:     time.Now(),
		Category: events.CategorySequence,
		Type:     kind,
		Severity: "info",
		Fields:   fields,
	})
}

// Strategy/config setters.

func (s *Sequencer) SetSchedulingStrategy(v SchedulingStrategy) { s.mu.Lock(); s.schedulingStrategy = v; s.mu.Unlock() }
func (s *Sequencer) SetExecutionStrategy(v ExecutionStrategy)   { s.mu.Lock(); s.executionStrategy = v; s.mu.Unlock() }
func (s *Sequencer) SetRecoveryStrategy(v RecoveryStrategy)     { s.mu.Lock(); s.recoveryStrategy = v; s.mu.Unlock() }

func (s *Sequencer) SetMaxConcurrentTargets(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.maxConcurrentTargets = n
	s.mu.Unlock()
}

func (s *Sequencer) SetGlobalTimeout(d time.Duration) { s.mu.Lock(); s.globalTimeout = d; s.mu.Unlock() }
func (s *Sequencer) SetResourceLimits(l ResourceLimits) { s.mu.Lock(); s.resourceLimits = l; s.mu.Unlock() }
func (s *Sequencer) SetResourceMonitor(m ResourceMonitor) { s.mu.Lock(); s.resourceMonitor = m; s.mu.Unlock() }
func (s *Sequencer) SetEphemeris(e Ephemeris) { s.mu.Lock(); s.ephemeris = e; s.mu.Unlock() }
func (s *Sequencer) SetProgressInterval(d time.Duration) { s.mu.Lock(); s.progressInterval = d; s.mu.Unlock() }

// Callback registration. Mirrors Target's own OnX pattern: copied out
// under a dedicated lock before invocation so callbacks run lock-free.

func (s *Sequencer) OnSequenceStart(fn func(sequenceID string))               { s.cbMu.Lock(); s.onSequenceStart = fn; s.cbMu.Unlock() }
func (s *Sequencer) OnSequenceEnd(fn func(sequenceID string, result Result))  { s.cbMu.Lock(); s.onSequenceEnd = fn; s.cbMu.Unlock() }
func (s *Sequencer) OnTargetStart(fn func(name string))                      { s.cbMu.Lock(); s.onTargetStart = fn; s.cbMu.Unlock() }
func (s *Sequencer) OnTargetEnd(fn func(name string, status target.Status))  { s.cbMu.Lock(); s.onTargetEnd = fn; s.cbMu.Unlock() }
func (s *Sequencer) OnTaskStart(fn func(targetName, taskName string))        { s.cbMu.Lock(); s.onTaskStart = fn; s.cbMu.Unlock() }
func (s *Sequencer) OnTaskEnd(fn func(targetName, taskName string, status task.Status)) {
	s.cbMu.Lock()
	s.onTaskEnd = fn
	s.cbMu.Unlock()
}
func (s *Sequencer) OnError(fn func(scope string, err error))     { s.cbMu.Lock(); s.onError = fn; s.cbMu.Unlock() }
func (s *Sequencer) OnProgress(fn func(p Progress))               { s.cbMu.Lock(); s.onProgress = fn; s.cbMu.Unlock() }

func (s *Sequencer) callbacks() (func(string), func(string, Result), func(string), func(string, target.Status), func(string, string), func(string, string, task.Status), func(string, error), func(Progress)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	return s.onSequenceStart, s.onSequenceEnd, s.onTargetStart, s.onTargetEnd, s.onTaskStart, s.onTaskEnd, s.onError, s.onProgress
}

// Composition.

// AddTarget registers tg under its Name. Rejected if the name is
// already present or the sequence is running.
func (s *Sequencer) AddTarget(tg *target.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return orerrors.New(orerrors.KindValidation, "Sequencer.addTarget", orerrors.ErrAlreadyRunning)
	}
	if _, exists := s.targets[tg.Name]; exists {
		return orerrors.New(orerrors.KindValidation, "Sequencer.addTarget", orerrors.ErrAlreadyExists)
	}
	s.wireTarget(tg)
	s.targets[tg.Name] = tg
	s.order = append(s.order, tg.Name)
	return nil
}

// wireTarget bridges a Target's own per-task/per-target callbacks up
// into the Sequencer's notification surface. Must be called with
// s.mu held.
func (s *Sequencer) wireTarget(tg *target.Target) {
	tg.OnTargetStart(func(n string) {
		s.setCurrent(n, "")
		if _, _, onStart, _, _, _, _, _ := s.callbacks(); onStart != nil {
			onStart(n)
		}
		s.publish("target_start", map[string]interface{}{"target": n})
	})
	tg.OnTargetEnd(func(n string, status target.Status) {
		if _, _, _, onEnd, _, _, _, _ := s.callbacks(); onEnd != nil {
			onEnd(n, status)
		}
		s.publish("target_end", map[string]interface{}{"target": n, "status": status.String()})
	})
	tg.OnTaskStart(func(targetName, taskName string) {
		s.setCurrent(targetName, taskName)
		if _, _, _, _, onStart, _, _, _ := s.callbacks(); onStart != nil {
			onStart(targetName, taskName)
		}
	})
	tg.OnTaskEnd(func(targetName, taskName string, status task.Status) {
		if _, _, _, _, _, onEnd, _, _ := s.callbacks(); onEnd != nil {
			onEnd(targetName, taskName, status)
		}
	})
	tg.OnError(func(scope string, err error) {
		if _, _, _, _, _, _, onError, _ := s.callbacks(); onError != nil {
			onError(scope, err)
		}
		s.publish("error", map[string]interface{}{"scope": scope, "error": err.Error()})
	})
}

func (s *Sequencer) setCurrent(targetName, taskName string) {
	s.current.Lock()
	s.current.target = targetName
	if taskName != "" {
		s.current.task = taskName
	} else {
		s.current.task = ""
	}
	s.current.Unlock()
}

// RemoveTarget drops a target by name. Rejected while running.
func (s *Sequencer) RemoveTarget(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return orerrors.New(orerrors.KindValidation, "Sequencer.removeTarget", orerrors.ErrAlreadyRunning)
	}
	if _, ok := s.targets[name]; !ok {
		return orerrors.New(orerrors.KindValidation, "Sequencer.removeTarget", orerrors.ErrUnknownPredecessor)
	}
	delete(s.targets, name)
	delete(s.deps, name)
	delete(s.targetTimeouts, name)
	delete(s.attempts, name)
	delete(s.alternatives, name)
	for dependent, preds := range s.deps {
		out := preds[:0]
		for _, p := range preds {
			if p != name {
				out = append(out, p)
			}
		}
		s.deps[dependent] = out
	}
	out := s.order[:0]
	for _, n := range s.order {
		if n != name {
			out = append(out, n)
		}
	}
	s.order = out
	return nil
}

// ModifyTarget runs modifier against the named target under the
// Sequencer's lock, so structural changes (adding tasks, setting
// priority) cannot race a concurrent run's target admission. A modifier
// that calls back into the same Sequencer deadlocks.
func (s *Sequencer) ModifyTarget(name string, modifier func(*target.Target)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tg, ok := s.targets[name]
	if !ok {
		return orerrors.New(orerrors.KindValidation, "Sequencer.modifyTarget", orerrors.ErrUnknownPredecessor)
	}
	modifier(tg)
	return nil
}

func (s *Sequencer) GetTargetNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.order...)
}

func (s *Sequencer) GetTargetStatus(name string) (target.Status, error) {
	s.mu.RLock()
	tg, ok := s.targets[name]
	s.mu.RUnlock()
	if !ok {
		return 0, orerrors.New(orerrors.KindValidation, "Sequencer.getTargetStatus", orerrors.ErrUnknownPredecessor)
	}
	return tg.Status(), nil
}

// GetProgress returns completedOrResolved/total*100 across all
// targets, 0 if there are none.
func (s *Sequencer) GetProgress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return 0
	}
	var resolved int
	for _, name := range s.order {
		switch s.targets[name].Status() {
		case target.StatusCompleted, target.StatusFailed, target.StatusSkipped, target.StatusAborted:
			resolved++
		}
	}
	return float64(resolved) / float64(len(s.order)) * 100
}

// AddTargetDependency records that name depends on dependsOn,
// rejected if it would introduce a cycle in the target-level DAG.
func (s *Sequencer) AddTargetDependency(name, dependsOn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[name]; !ok {
		return orerrors.New(orerrors.KindDependency, "Sequencer.addTargetDependency", orerrors.ErrUnknownPredecessor)
	}
	if _, ok := s.targets[dependsOn]; !ok {
		return orerrors.New(orerrors.KindDependency, "Sequencer.addTargetDependency", orerrors.ErrUnknownPredecessor)
	}
	trial := cloneDeps(s.deps)
	trial[name] = append(append([]string{}, trial[name]...), dependsOn)
	if hasCycle(trial) {
		return orerrors.New(orerrors.KindDependency, "Sequencer.addTargetDependency", orerrors.ErrCycleDetected)
	}
	s.deps = trial
	return nil
}

func (s *Sequencer) RemoveTargetDependency(name, dependsOn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	preds := s.deps[name]
	out := preds[:0]
	for _, p := range preds {
		if p != dependsOn {
			out = append(out, p)
		}
	}
	s.deps[name] = out
}

func cloneDeps(deps map[string][]string) map[string][]string {
	out := make(map[string][]string, len(deps))
	for k, v := range deps {
		out[k] = append([]string{}, v...)
	}
	return out
}

func hasCycle(deps map[string][]string) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		for _, p := range deps[n] {
			switch color[p] {
			case gray:
				return true
			case white:
				if visit(p) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range deps {
		if color[n] == white {
			if visit(n) {
				return true
			}
		}
	}
	return false
}

// SetTargetPriority delegates to the named Target's astro priority,
// which also governs Priority scheduling/execution tie-break order.
func (s *Sequencer) SetTargetPriority(name string, p int) error {
	s.mu.RLock()
	tg, ok := s.targets[name]
	s.mu.RUnlock()
	if !ok {
		return orerrors.New(orerrors.KindValidation, "Sequencer.setTargetPriority", orerrors.ErrUnknownPredecessor)
	}
	tg.SetPriority(p)
	return nil
}

func (s *Sequencer) SetTargetTimeout(name string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[name]; !ok {
		return orerrors.New(orerrors.KindValidation, "Sequencer.setTargetTimeout", orerrors.ErrUnknownPredecessor)
	}
	s.targetTimeouts[name] = d
	return nil
}

// SetTargetParams broadcasts params to every task owned by the named
// target.
func (s *Sequencer) SetTargetParams(name string, params task.Params) error {
	s.mu.RLock()
	tg, ok := s.targets[name]
	s.mu.RUnlock()
	if !ok {
		return orerrors.New(orerrors.KindValidation, "Sequencer.setTargetParams", orerrors.ErrUnknownPredecessor)
	}
	for _, uuid := range tg.TaskUUIDs() {
		_ = tg.SetTaskParams(uuid, params)
	}
	return nil
}

func (s *Sequencer) SetTargetTaskParams(name, taskUUID string, params task.Params) error {
	s.mu.RLock()
	tg, ok := s.targets[name]
	s.mu.RUnlock()
	if !ok {
		return orerrors.New(orerrors.KindValidation, "Sequencer.setTargetTaskParams", orerrors.ErrUnknownPredecessor)
	}
	return tg.SetTaskParams(taskUUID, params)
}

// RegisterAlternative records alt as the Alternative-recovery
// replacement for the named target. alt's Name should equal name so
// dependents keep resolving against the same key.
func (s *Sequencer) RegisterAlternative(name string, alt *target.Target) {
	s.mu.Lock()
	s.alternatives[name] = alt
	s.mu.Unlock()
}

func (s *Sequencer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Sequencer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Sequencer) LastResult() (Result, bool) {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	if s.lastResult == nil {
		return Result{}, false
	}
	return *s.lastResult, true
}

// WaitForCompletion blocks until the sequence finishes or timeout
// elapses (timeout <= 0 means wait forever, bounded only by ctx).
func (s *Sequencer) WaitForCompletion(ctx context.Context, timeout time.Duration) (Result, bool) {
	s.mu.RLock()
	done := s.doneCh
	s.mu.RUnlock()
	if done == nil {
		return s.LastResult()
	}
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-done:
		return s.LastResult()
	case <-timeoutCh:
		return Result{}, false
	case <-ctx.Done():
		return Result{}, false
	}
}

// tieBreaker returns the ready-queue comparator for the current
// schedulingStrategy (or priority order, forced, when the execution
// strategy itself is Priority). Must be called with s.mu held for
// reading.
func (s *Sequencer) tieBreaker(seq map[string]int) func(a, b string) bool {
	byPriority := func(a, b string) bool {
		pa, pb := s.targets[a].AstroPriority(), s.targets[b].AstroPriority()
		if pa != pb {
			return pa > pb
		}
		return seq[a] < seq[b]
	}
	if s.executionStrategy == ExecutionPriority || s.schedulingStrategy == SchedulingPriority {
		return byPriority
	}
	// FIFO and Dependencies both break ties by insertion order.
	return func(a, b string) bool { return seq[a] < seq[b] }
}
