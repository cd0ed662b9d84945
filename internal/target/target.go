// Package target implements Target: an ordered collection of Tasks,
// their intra-target dependency DAG, named task groups, cooldown
// between tasks, and astronomical metadata. A Target executes its
// tasks in dependency-respecting, priority-broken topological order.
package target

import (
	"context"
	"sort"
	"sync"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/task"
)

// Status is a Target's lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusSkipped
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "InProgress"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusSkipped:
		return "Skipped"
	case StatusAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

type taskEntry struct {
	t       *task.Task
	seq     int // insertion order, used as the final tie-break
	enabled bool
}

// Target owns a list of Tasks, their dependency DAG, named task
// groups, and astronomical metadata.
type Target struct {
	Name string
	UUID string

	mu          sync.RWMutex
	tasks       map[string]*taskEntry // keyed by Task.UUID
	order       []string              // insertion order of task UUIDs
	deps        map[string][]string   // taskUUID -> predecessor UUIDs
	groups      map[string][]string   // group name -> task UUIDs
	cooldown    time.Duration
	maxRetries  int
	enabled     bool
	status      Status
	completed   int
	paused      bool
	aborted     bool

	onTargetStart func(name string)
	onTargetEnd   func(name string, status Status)
	onTaskStart   func(targetName, taskName string)
	onTaskEnd     func(targetName, taskName string, status task.Status)
	onError       func(scope string, err error)

	astro astroState
}

// New constructs an enabled, Pending Target.
func New(uuid, name string) *Target {
	return &Target{
		UUID:    uuid,
		Name:    name,
		tasks:   make(map[string]*taskEntry),
		deps:    make(map[string][]string),
		groups:  make(map[string][]string),
		enabled: true,
		status:  StatusPending,
		astro:   newAstroState(),
	}
}

func (tg *Target) OnTargetStart(fn func(name string))                           { tg.onTargetStart = fn }
func (tg *Target) OnTargetEnd(fn func(name string, status Status))              { tg.onTargetEnd = fn }
func (tg *Target) OnTaskStart(fn func(targetName, taskName string))            { tg.onTaskStart = fn }
func (tg *Target) OnTaskEnd(fn func(targetName, taskName string, s task.Status)) { tg.onTaskEnd = fn }
func (tg *Target) OnError(fn func(scope string, err error))                    { tg.onError = fn }

func (tg *Target) SetEnabled(enabled bool) {
	tg.mu.Lock()
	tg.enabled = enabled
	tg.mu.Unlock()
}

func (tg *Target) SetCooldown(d time.Duration) {
	tg.mu.Lock()
	tg.cooldown = d
	tg.mu.Unlock()
}

func (tg *Target) SetMaxRetries(n int) {
	tg.mu.Lock()
	tg.maxRetries = n
	tg.mu.Unlock()
}

func (tg *Target) MaxRetries() int {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.maxRetries
}

func (tg *Target) Status() Status {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.status
}

// Progress returns completedTasks / totalTasks * 100.
func (tg *Target) Progress() float64 {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	if len(tg.tasks) == 0 {
		return 0
	}
	return float64(tg.completed) / float64(len(tg.tasks)) * 100
}

// AddTask registers a Task, enabled by default, appended to insertion
// order.
func (tg *Target) AddTask(t *task.Task) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.tasks[t.UUID] = &taskEntry{t: t, seq: len(tg.order), enabled: true}
	tg.order = append(tg.order, t.UUID)
}

// TaskUUIDs returns every owned Task's UUID in insertion order.
func (tg *Target) TaskUUIDs() []string {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return append([]string{}, tg.order...)
}

func (tg *Target) SetTaskParams(taskUUID string, params task.Params) error {
	tg.mu.RLock()
	entry, ok := tg.tasks[taskUUID]
	tg.mu.RUnlock()
	if !ok {
		return orerrors.New(orerrors.KindValidation, "Target.setTaskParams", orerrors.ErrUnknownPredecessor)
	}
	entry.t.SetParams(params)
	return nil
}

func (tg *Target) CreateTaskGroup(name string, taskUUIDs []string) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.groups[name] = append([]string{}, taskUUIDs...)
}

func (tg *Target) AddTaskToGroup(group, taskUUID string) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.groups[group] = append(tg.groups[group], taskUUID)
}

func (tg *Target) RemoveTaskFromGroup(group, taskUUID string) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	members := tg.groups[group]
	out := members[:0]
	for _, id := range members {
		if id != taskUUID {
			out = append(out, id)
		}
	}
	tg.groups[group] = out
}

// AddTaskDependency records that task depends on dependsOn. Rejected
// with DependencyError(cycle) if it would introduce a cycle.
func (tg *Target) AddTaskDependency(taskUUID, dependsOn string) error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if _, ok := tg.tasks[taskUUID]; !ok {
		return orerrors.New(orerrors.KindDependency, "Target.addTaskDependency", orerrors.ErrUnknownPredecessor)
	}
	if _, ok := tg.tasks[dependsOn]; !ok {
		return orerrors.New(orerrors.KindDependency, "Target.addTaskDependency", orerrors.ErrUnknownPredecessor)
	}
	trial := cloneDeps(tg.deps)
	trial[taskUUID] = append(append([]string{}, trial[taskUUID]...), dependsOn)
	if hasCycle(trial) {
		return orerrors.New(orerrors.KindDependency, "Target.addTaskDependency", orerrors.ErrCycleDetected)
	}
	tg.deps = trial
	return nil
}

func (tg *Target) RemoveTaskDependency(taskUUID, dependsOn string) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	preds := tg.deps[taskUUID]
	out := preds[:0]
	for _, p := range preds {
		if p != dependsOn {
			out = append(out, p)
		}
	}
	tg.deps[taskUUID] = out
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

// Pause/Resume/Abort affect in-flight and pending tasks.
func (tg *Target) Pause() {
	tg.mu.Lock()
	tg.paused = true
	if tg.status == StatusInProgress {
		tg.status = StatusPaused
	}
	tg.mu.Unlock()
}

func (tg *Target) Resume() {
	tg.mu.Lock()
	tg.paused = false
	if tg.status == StatusPaused {
		tg.status = StatusInProgress
	}
	tg.mu.Unlock()
}

func (tg *Target) Abort() {
	tg.mu.Lock()
	tg.aborted = true
	tg.status = StatusAborted
	tg.mu.Unlock()
}

// MarkSkipped forces a Failed Target's final status to Skipped, used by
// a Sequencer's Skip recovery strategy to resolve a failure without
// retrying it.
func (tg *Target) MarkSkipped() {
	tg.mu.Lock()
	tg.status = StatusSkipped
	tg.mu.Unlock()
}

// Reset returns the Target and every one of its tasks to Pending so it
// can be re-executed by a Sequencer's Retry recovery strategy.
func (tg *Target) Reset() {
	tg.mu.Lock()
	tg.status = StatusPending
	tg.completed = 0
	tg.paused = false
	tg.aborted = false
	entries := make([]*taskEntry, 0, len(tg.order))
	for _, id := range tg.order {
		entries = append(entries, tg.tasks[id])
	}
	tg.mu.Unlock()
	for _, e := range entries {
		e.t.Reset()
	}
}

// Execute runs every task in dependency-respecting order. See
// ExecuteGroup for running a named subset only.
func (tg *Target) Execute(ctx context.Context) Status {
	return tg.execute(ctx, nil)
}

// ExecuteGroup runs only the tasks in the named group, respecting
// their internal dependencies (edges to tasks outside the group are
// treated as already-satisfied).
func (tg *Target) ExecuteGroup(ctx context.Context, group string) Status {
	tg.mu.RLock()
	members := append([]string{}, tg.groups[group]...)
	tg.mu.RUnlock()
	set := make(map[string]bool, len(members))
	for _, m := range members {
		set[m] = true
	}
	return tg.execute(ctx, set)
}

func (tg *Target) execute(ctx context.Context, only map[string]bool) Status {
	tg.mu.Lock()
	if !tg.enabled {
		tg.status = StatusSkipped
		tg.mu.Unlock()
		return StatusSkipped
	}
	tg.status = StatusInProgress
	order := tg.topologicalOrder(only)
	tg.mu.Unlock()

	if tg.onTargetStart != nil {
		tg.onTargetStart(tg.Name)
	}

	completedSet := make(map[string]bool)
	final := StatusCompleted

	for i, id := range order {
		tg.mu.RLock()
		aborted := tg.aborted
		tg.mu.RUnlock()
		if aborted {
			final = StatusAborted
			break
		}
		tg.waitWhilePaused(ctx)

		tg.mu.RLock()
		entry := tg.tasks[id]
		preds := tg.deps[id]
		tg.mu.RUnlock()
		if entry == nil || !entry.enabled {
			continue
		}
		ready := true
		for _, p := range preds {
			if only != nil && !only[p] {
				continue
			}
			if !completedSet[p] {
				ready = false
				break
			}
		}
		if !ready {
			// deferred: dependency not satisfied within this pass.
			// With a correct topological order this should not occur;
			// treat as a dependency failure rather than looping.
			final = StatusFailed
			if tg.onError != nil {
				tg.onError(tg.Name, orerrors.New(orerrors.KindDependency, "Target.execute", orerrors.ErrCycleDetected))
			}
			break
		}

		if tg.onTaskStart != nil {
			tg.onTaskStart(tg.Name, entry.t.Name)
		}
		status := entry.t.Execute(ctx, nil)
		if tg.onTaskEnd != nil {
			tg.onTaskEnd(tg.Name, entry.t.Name, status)
		}

		switch status {
		case task.StatusCompleted:
			completedSet[id] = true
			tg.mu.Lock()
			tg.completed++
			tg.mu.Unlock()
		case task.StatusCancelled:
			final = StatusAborted
		default:
			final = StatusFailed
			if tg.onError != nil {
				tg.onError(tg.Name, orerrors.New(orerrors.KindExecution, "Target.execute["+entry.t.Name+"]", plainError(entry.t.ErrorMessage())))
			}
		}
		if final == StatusFailed || final == StatusAborted {
			break
		}

		if i < len(order)-1 && tg.cooldownDuration() > 0 {
			select {
			case <-time.After(tg.cooldownDuration()):
			case <-ctx.Done():
				final = StatusAborted
			}
		}
	}

	tg.mu.Lock()
	tg.status = final
	tg.mu.Unlock()
	if tg.onTargetEnd != nil {
		tg.onTargetEnd(tg.Name, final)
	}
	return final
}

func (tg *Target) cooldownDuration() time.Duration {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.cooldown
}

func (tg *Target) waitWhilePaused(ctx context.Context) {
	for {
		tg.mu.RLock()
		paused := tg.paused
		tg.mu.RUnlock()
		if !paused {
			return
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

// topologicalOrder returns task UUIDs respecting dependency edges,
// ties broken by descending priority then insertion order. Must be
// called with tg.mu held.
func (tg *Target) topologicalOrder(only map[string]bool) []string {
	inDegree := make(map[string]int)
	for id := range tg.tasks {
		if only != nil && !only[id] {
			continue
		}
		inDegree[id] = 0
	}
	for id := range inDegree {
		for _, p := range tg.deps[id] {
			if only != nil && !only[p] {
				continue
			}
			inDegree[id]++
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	var result []string
	remaining := inDegree
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool {
			pi, pj := tg.tasks[ready[i]].t.Priority(), tg.tasks[ready[j]].t.Priority()
			if pi != pj {
				return pi > pj
			}
			return tg.tasks[ready[i]].seq < tg.tasks[ready[j]].seq
		})
		next := ready[0]
		ready = ready[1:]
		result = append(result, next)
		delete(remaining, next)

		for id := range remaining {
			for _, p := range tg.deps[id] {
				if p == next {
					remaining[id]--
					if remaining[id] == 0 {
						ready = append(ready, id)
					}
				}
			}
		}
	}
	return result
}

func plainError(msg string) error {
	if msg == "" {
		msg = "task failed"
	}
	return simpleError(msg)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }
