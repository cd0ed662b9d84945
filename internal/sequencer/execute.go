package sequencer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/target"
)

type targetResult struct {
	name   string
	status target.Status
}

// ExecuteAll runs every added Target to completion, respecting the
// target-level dependency DAG and the configured scheduling/execution/
// recovery strategies. The orchestration loop runs on the calling
// goroutine and ExecuteAll blocks until the run finishes; it starts no
// worker of its own for that loop. SequenceManager.executeSequence(async)
// wraps it in a goroutine for a non-blocking dispatch.
func (s *Sequencer) ExecuteAll(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return orerrors.New(orerrors.KindValidation, "Sequencer.executeAll", orerrors.ErrAlreadyRunning)
	}
	s.running = true
	s.state = StateRunning
	s.stopRequested = false
	s.paused = false
	s.startedAt = time.Now()
	select {
	case <-s.doneCh:
		// closed by the previous run; waiters from here on wait for this one
		s.doneCh = make(chan struct{})
	default:
	}
	names := append([]string{}, s.order...)
	gt := s.globalTimeout
	s.mu.Unlock()

	if onStart, _, _, _, _, _, _, _ := s.callbacks(); onStart != nil {
		onStart(s.UUID)
	}
	s.publish("sequence_start", nil)

	runCtx := ctx
	var cancel context.CancelFunc
	if gt > 0 {
		runCtx, cancel = context.WithTimeout(ctx, gt)
		defer cancel()
	}

	result := s.run(runCtx, names)

	s.mu.Lock()
	s.running = false
	s.state = StateStopped
	done := s.doneCh
	s.mu.Unlock()

	s.resultMu.Lock()
	s.lastResult = &result
	s.resultMu.Unlock()

	if _, onEnd, _, _, _, _, _, _ := s.callbacks(); onEnd != nil {
		onEnd(s.UUID, result)
	}
	s.publish("sequence_end", map[string]interface{}{"success": result.Success})
	close(done)
	return nil
}

// run is the single-threaded orchestrator: it owns every shared
// scheduling structure (ready queue, in-degree counts) and never
// shares them with the goroutines it launches per target, which
// report back only through resultCh.
func (s *Sequencer) run(ctx context.Context, names []string) Result {
	start := time.Now()

	s.mu.RLock()
	deps := cloneDeps(s.deps)
	s.mu.RUnlock()

	seq := make(map[string]int, len(names))
	for i, n := range names {
		seq[n] = i
	}

	inDegree := make(map[string]int, len(names))
	for _, n := range names {
		inDegree[n] = 0
	}
	for _, n := range names {
		for _, p := range deps[n] {
			if _, ok := inDegree[p]; ok {
				inDegree[n]++
			}
		}
	}
	var ready []string
	for _, n := range names {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	running := make(map[string]bool)
	resultCh := make(chan targetResult, len(names)+4)
	var wg sync.WaitGroup

	var completed, failed, skipped, warnings, errs []string
	total := len(names)

	progressTicker := time.NewTicker(s.progressIntervalOrDefault())
	defer progressTicker.Stop()

	emitProgress := func() {
		_, _, _, _, _, _, _, onProgress := s.callbacks()
		if onProgress == nil {
			return
		}
		s.current.Lock()
		curTarget, curTask := s.current.target, s.current.task
		s.current.Unlock()
		elapsed := time.Since(start)
		resolved := len(completed) + len(failed) + len(skipped)
		var remaining time.Duration
		if resolved > 0 && resolved < total {
			remaining = elapsed / time.Duration(resolved) * time.Duration(total-resolved)
		}
		denom := total
		if denom == 0 {
			denom = 1
		}
		onProgress(Progress{
			SequenceID:         s.UUID,
			State:              s.State(),
			OverallProgress:    float64(resolved) / float64(denom) * 100,
			CompletedTargets:   resolved,
			TotalTargets:       total,
			CurrentTarget:      curTarget,
			CurrentTask:        curTask,
			Elapsed:            elapsed,
			EstimatedRemaining: remaining,
		})
	}

	admit := func() {
		for len(ready) > 0 {
			s.mu.RLock()
			paused, stopReq := s.paused, s.stopRequested
			s.mu.RUnlock()
			if stopReq || paused {
				return
			}
			bound := s.concurrencyBound(len(ready), len(running))
			if len(running) >= bound {
				return
			}
			less := s.tieBreakerSafe(seq)
			sort.SliceStable(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
			name := ready[0]
			ready = ready[1:]
			running[name] = true
			wg.Add(1)
			go s.runOneTarget(ctx, name, &wg, resultCh)
		}
	}

	admit()
	for len(running) > 0 || len(ready) > 0 {
		if len(running) == 0 {
			s.mu.RLock()
			stopping := s.stopRequested
			s.mu.RUnlock()
			if stopping {
				break
			}
		}
		select {
		case r := <-resultCh:
			delete(running, r.name)
			s.handleTargetResult(r, deps, inDegree, &ready, &completed, &failed, &skipped, &warnings, &errs)
		case <-progressTicker.C:
			emitProgress()
		case <-ctx.Done():
			s.mu.Lock()
			s.stopRequested = true
			s.mu.Unlock()
		}
		admit()
	}
	wg.Wait()

	s.mu.RLock()
	stopRequested := s.stopRequested
	s.mu.RUnlock()

	elapsed := time.Since(start)
	return Result{
		Success:     len(failed) == 0 && !stopRequested,
		Completed:   completed,
		Failed:      failed,
		Skipped:     skipped,
		Progress:    s.GetProgress(),
		ElapsedTime: elapsed,
		Stats: map[string]interface{}{
			"total":     total,
			"completed": len(completed),
			"failed":    len(failed),
			"skipped":   len(skipped),
		},
		Warnings: warnings,
		Errors:   errs,
	}
}

func (s *Sequencer) runOneTarget(ctx context.Context, name string, wg *sync.WaitGroup, resultCh chan<- targetResult) {
	defer wg.Done()
	s.mu.RLock()
	tg := s.targets[name]
	timeout := s.targetTimeouts[name]
	s.mu.RUnlock()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	status := tg.Execute(runCtx)
	if cancel != nil {
		cancel()
	}
	resultCh <- targetResult{name: name, status: status}
}

func (s *Sequencer) handleTargetResult(r targetResult, deps map[string][]string, inDegree map[string]int, ready, completed, failed, skipped, warnings, errs *[]string) {
	switch r.status {
	case target.StatusCompleted:
		*completed = append(*completed, r.name)
		resolveDependents(r.name, deps, inDegree, ready)
	case target.StatusSkipped:
		*skipped = append(*skipped, r.name)
		resolveDependents(r.name, deps, inDegree, ready)
	case target.StatusAborted:
		*failed = append(*failed, r.name)
		*errs = append(*errs, r.name+": aborted")
	default: // StatusFailed (or any non-terminal status reported in error)
		s.applyRecovery(r.name, deps, inDegree, ready, completed, failed, skipped, warnings, errs)
	}
}

func resolveDependents(name string, deps map[string][]string, inDegree map[string]int, ready *[]string) {
	for n, preds := range deps {
		for _, p := range preds {
			if p != name {
				continue
			}
			if _, ok := inDegree[n]; !ok {
				continue
			}
			inDegree[n]--
			if inDegree[n] == 0 {
				*ready = append(*ready, n)
			}
		}
	}
}

func (s *Sequencer) applyRecovery(name string, deps map[string][]string, inDegree map[string]int, ready, completed, failed, skipped, warnings, errs *[]string) {
	s.mu.RLock()
	strategy := s.recoveryStrategy
	tg := s.targets[name]
	s.mu.RUnlock()
	maxRetries := tg.MaxRetries()

	switch strategy {
	case RecoverySkip:
		tg.MarkSkipped()
		*skipped = append(*skipped, name)
		*warnings = append(*warnings, fmt.Sprintf("%s: failed, skipped", name))
		resolveDependents(name, deps, inDegree, ready)

	case RecoveryRetry:
		s.mu.Lock()
		s.attempts[name]++
		attempt := s.attempts[name]
		s.mu.Unlock()
		if attempt <= maxRetries {
			tg.Reset()
			*ready = append(*ready, name)
			*warnings = append(*warnings, fmt.Sprintf("%s: retrying (attempt %d)", name, attempt))
		} else {
			tg.MarkSkipped()
			*skipped = append(*skipped, name)
			*warnings = append(*warnings, fmt.Sprintf("%s: retries exhausted, skipped", name))
			resolveDependents(name, deps, inDegree, ready)
		}

	case RecoveryAlternative:
		s.mu.Lock()
		alt, ok := s.alternatives[name]
		if ok {
			s.wireTarget(alt)
			s.targets[name] = alt
		}
		s.mu.Unlock()
		if ok {
			*ready = append(*ready, name)
			*warnings = append(*warnings, fmt.Sprintf("%s: replaced with registered alternative", name))
		} else {
			tg.MarkSkipped()
			*skipped = append(*skipped, name)
			*warnings = append(*warnings, fmt.Sprintf("%s: no alternative registered, skipped", name))
			resolveDependents(name, deps, inDegree, ready)
		}

	default: // RecoveryStop
		*failed = append(*failed, name)
		*errs = append(*errs, fmt.Sprintf("%s: failed, stopping sequence", name))
		s.mu.Lock()
		s.stopRequested = true
		s.state = StateStopping
		s.mu.Unlock()
	}
}

func (s *Sequencer) concurrencyBound(readyCount, runningCount int) int {
	s.mu.RLock()
	strategy := s.executionStrategy
	maxC := s.maxConcurrentTargets
	limits := s.resourceLimits
	monitor := s.resourceMonitor
	s.mu.RUnlock()

	switch strategy {
	case ExecutionSequential:
		return 1
	case ExecutionAdaptive:
		if monitor == nil || readyCount <= 1 {
			return 1
		}
		if !withinLimits(monitor, limits) {
			return runningCount
		}
		return maxC
	case ExecutionParallel, ExecutionPriority:
		if !withinLimits(monitor, limits) {
			return runningCount
		}
		return maxC
	default:
		return 1
	}
}

func withinLimits(m ResourceMonitor, limits ResourceLimits) bool {
	if m == nil {
		return true
	}
	cpu, mem, err := m.Usage()
	if err != nil {
		return true
	}
	if limits.MaxCPUPercent > 0 && cpu >= limits.MaxCPUPercent {
		return false
	}
	if limits.MaxMemoryMB > 0 && mem >= limits.MaxMemoryMB {
		return false
	}
	return true
}

// tieBreakerSafe snapshots the comparator under lock. The returned
// closure itself reads s.targets without holding the lock, which is
// safe only because the single orchestrator goroutine running in run()
// is the sole writer of s.targets during a run (AddTarget/RemoveTarget
// are rejected while running; the only in-run mutation, an Alternative
// swap, happens from this same goroutine between sort calls).
func (s *Sequencer) tieBreakerSafe(seq map[string]int) func(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tieBreaker(seq)
}

func (s *Sequencer) progressIntervalOrDefault() time.Duration {
	s.mu.RLock()
	d := s.progressInterval
	s.mu.RUnlock()
	if d <= 0 {
		return time.Second
	}
	return d
}

// Stop cooperatively halts the sequence: running Targets finish their
// current hardware call, no new Target is admitted, and the sequence
// transitions Stopping then Stopped.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	s.stopRequested = true
	if s.state == StateRunning || s.state == StatePaused {
		s.state = StateStopping
	}
	s.mu.Unlock()
}

// Pause suspends admission of new Targets and propagates to every
// currently tracked Target's own pause (which takes effect between
// its tasks, never mid-task).
func (s *Sequencer) Pause() {
	s.mu.Lock()
	s.paused = true
	if s.state == StateRunning {
		s.state = StatePaused
	}
	targets := make([]*target.Target, 0, len(s.targets))
	for _, tg := range s.targets {
		targets = append(targets, tg)
	}
	s.mu.Unlock()
	for _, tg := range targets {
		tg.Pause()
	}
}

func (s *Sequencer) Resume() {
	s.mu.Lock()
	s.paused = false
	if s.state == StatePaused {
		s.state = StateRunning
	}
	targets := make([]*target.Target, 0, len(s.targets))
	for _, tg := range s.targets {
		targets = append(targets, tg)
	}
	s.mu.Unlock()
	for _, tg := range targets {
		tg.Resume()
	}
}

// RetryFailedTargets resets every currently Failed target to Pending
// and re-runs the whole sequence. Rejected while already running.
func (s *Sequencer) RetryFailedTargets(ctx context.Context) error {
	s.mu.RLock()
	if s.running {
		s.mu.RUnlock()
		return orerrors.New(orerrors.KindValidation, "Sequencer.retryFailedTargets", orerrors.ErrAlreadyRunning)
	}
	var failedNames []string
	for _, name := range s.order {
		if s.targets[name].Status() == target.StatusFailed {
			failedNames = append(failedNames, name)
		}
	}
	s.mu.RUnlock()
	if len(failedNames) == 0 {
		return nil
	}
	for _, name := range failedNames {
		s.mu.RLock()
		tg := s.targets[name]
		s.mu.RUnlock()
		tg.Reset()
		s.mu.Lock()
		s.attempts[name] = 0
		s.mu.Unlock()
	}
	return s.ExecuteAll(ctx)
}

// SkipFailedTargets marks every currently Failed target Skipped
// without re-running anything.
func (s *Sequencer) SkipFailedTargets() {
	s.mu.RLock()
	names := append([]string{}, s.order...)
	s.mu.RUnlock()
	for _, name := range names {
		s.mu.RLock()
		tg := s.targets[name]
		s.mu.RUnlock()
		if tg.Status() == target.StatusFailed {
			tg.MarkSkipped()
		}
	}
}
