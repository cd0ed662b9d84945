package sequencer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/elementastro/orrery/internal/target"
	"github.com/elementastro/orrery/internal/task"
)

func okTask(uuid, name string) *task.Task {
	return task.New(uuid, name, "generic", func(ctx context.Context, p task.Params) error { return nil })
}

func failTask(uuid, name string, calls *int) *task.Task {
	return task.New(uuid, name, "generic", func(ctx context.Context, p task.Params) error {
		if calls != nil {
			*calls++
		}
		return context.DeadlineExceeded
	})
}

func newTarget(name string, tasks ...*task.Task) *target.Target {
	tg := target.New(name+"-uuid", name)
	for _, t := range tasks {
		tg.AddTask(t)
	}
	return tg
}

func TestExecuteAllRunsSequentiallyInFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) *target.Target {
		return newTarget(name, task.New(name+"-t", name, "generic", func(ctx context.Context, p task.Params) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}))
	}

	s := New("seq-1", "test sequence", nil)
	if err := s.AddTarget(record("alpha")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := s.AddTarget(record("beta")); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if err := s.ExecuteAll(context.Background()); err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	result, ok := s.LastResult()
	if !ok || !result.Success {
		t.Fatalf("expected successful result, got %+v", result)
	}
	if len(order) != 2 || order[0] != "alpha" || order[1] != "beta" {
		t.Fatalf("expected [alpha beta], got %v", order)
	}
}

func TestAddTargetDependencyRejectsCycle(t *testing.T) {
	s := New("seq-2", "cycles", nil)
	a := newTarget("a", okTask("a-t", "a"))
	b := newTarget("b", okTask("b-t", "b"))
	s.AddTarget(a)
	s.AddTarget(b)

	if err := s.AddTargetDependency("b", "a"); err != nil {
		t.Fatalf("addTargetDependency: %v", err)
	}
	if err := s.AddTargetDependency("a", "b"); err == nil {
		t.Fatalf("expected cycle rejection")
	}
}

func TestAddTargetRejectsDuplicateName(t *testing.T) {
	s := New("seq-3", "dup", nil)
	if err := s.AddTarget(newTarget("a", okTask("a1", "a1"))); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := s.AddTarget(newTarget("a", okTask("a2", "a2"))); err == nil {
		t.Fatalf("expected duplicate-name rejection")
	}
}

func TestRecoverySkipContinuesDependents(t *testing.T) {
	var ran bool
	failing := newTarget("broken", failTask("broken-t", "broken", nil))
	dependent := newTarget("after", task.New("after-t", "after", "generic", func(ctx context.Context, p task.Params) error {
		ran = true
		return nil
	}))

	s := New("seq-4", "skip", nil)
	s.SetRecoveryStrategy(RecoverySkip)
	s.AddTarget(failing)
	s.AddTarget(dependent)
	if err := s.AddTargetDependency("after", "broken"); err != nil {
		t.Fatalf("addTargetDependency: %v", err)
	}

	if err := s.ExecuteAll(context.Background()); err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	status, _ := s.GetTargetStatus("broken")
	if status != target.StatusSkipped {
		t.Fatalf("expected broken target Skipped, got %v", status)
	}
	if !ran {
		t.Fatalf("expected dependent target to still run after Skip recovery")
	}
}

func TestRecoveryRetryRespectsMaxRetries(t *testing.T) {
	var calls int
	failing := newTarget("flaky", failTask("flaky-t", "flaky", &calls))
	failing.SetMaxRetries(2)

	s := New("seq-5", "retry", nil)
	s.SetRecoveryStrategy(RecoveryRetry)
	s.AddTarget(failing)

	if err := s.ExecuteAll(context.Background()); err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 attempts (1 + 2 retries), got %d", calls)
	}
	status, _ := s.GetTargetStatus("flaky")
	if status != target.StatusSkipped {
		t.Fatalf("expected exhausted retries to resolve to Skipped, got %v", status)
	}
}

func TestRecoveryStopHaltsSequence(t *testing.T) {
	var secondRan bool
	failing := newTarget("first", failTask("first-t", "first", nil))
	second := newTarget("second", task.New("second-t", "second", "generic", func(ctx context.Context, p task.Params) error {
		secondRan = true
		return nil
	}))

	s := New("seq-6", "stop", nil)
	s.SetRecoveryStrategy(RecoveryStop)
	s.AddTarget(failing)
	s.AddTarget(second)

	if err := s.ExecuteAll(context.Background()); err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	result, _ := s.LastResult()
	if result.Success {
		t.Fatalf("expected unsuccessful result after Stop recovery")
	}
	if secondRan {
		t.Fatalf("expected independent second target not to run once sequence is stopping")
	}
}

func TestParallelExecutionRunsIndependentTargetsConcurrently(t *testing.T) {
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	blocking := func(name string) *target.Target {
		return newTarget(name, task.New(name+"-t", name, "generic", func(ctx context.Context, p task.Params) error {
			wg.Done()
			<-release
			return nil
		}))
	}

	s := New("seq-7", "parallel", nil)
	s.SetExecutionStrategy(ExecutionParallel)
	s.SetMaxConcurrentTargets(2)
	s.AddTarget(blocking("one"))
	s.AddTarget(blocking("two"))

	done := make(chan struct{})
	go func() {
		_ = s.ExecuteAll(context.Background())
		close(done)
	}()

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()

	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatalf("expected both targets to start concurrently")
	}
	close(release)
	<-done
}

func TestPauseResumeSuspendsAdmission(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	first := newTarget("first", task.New("first-t", "first", "generic", func(ctx context.Context, p task.Params) error {
		started <- struct{}{}
		<-gate
		return nil
	}))
	second := newTarget("second", okTask("second-t", "second"))

	s := New("seq-8", "pause", nil)
	s.AddTarget(first)
	s.AddTarget(second)

	done := make(chan struct{})
	go func() {
		_ = s.ExecuteAll(context.Background())
		close(done)
	}()

	<-started
	s.Pause()
	time.Sleep(30 * time.Millisecond)
	if status, _ := s.GetTargetStatus("second"); status != target.StatusPending {
		t.Fatalf("expected second target still Pending while paused, got %v", status)
	}
	s.Resume()
	close(gate)
	<-done

	status, _ := s.GetTargetStatus("second")
	if status != target.StatusCompleted {
		t.Fatalf("expected second target to complete after resume, got %v", status)
	}
}

func TestRetryFailedTargetsResetsAndReruns(t *testing.T) {
	var attempt int
	flaky := newTarget("flaky", task.New("flaky-t", "flaky", "generic", func(ctx context.Context, p task.Params) error {
		attempt++
		if attempt == 1 {
			return context.DeadlineExceeded
		}
		return nil
	}))

	s := New("seq-9", "manual-retry", nil)
	s.AddTarget(flaky)
	if err := s.ExecuteAll(context.Background()); err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	if status, _ := s.GetTargetStatus("flaky"); status != target.StatusFailed {
		t.Fatalf("expected initial Failed, got %v", status)
	}

	if err := s.RetryFailedTargets(context.Background()); err != nil {
		t.Fatalf("RetryFailedTargets: %v", err)
	}
	if status, _ := s.GetTargetStatus("flaky"); status != target.StatusCompleted {
		t.Fatalf("expected Completed after retry, got %v", status)
	}
}

func TestSkipFailedTargetsMarksSkipped(t *testing.T) {
	failing := newTarget("broken", failTask("broken-t", "broken", nil))
	s := New("seq-10", "manual-skip", nil)
	s.AddTarget(failing)
	if err := s.ExecuteAll(context.Background()); err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	s.SkipFailedTargets()
	if status, _ := s.GetTargetStatus("broken"); status != target.StatusSkipped {
		t.Fatalf("expected Skipped, got %v", status)
	}
}

func TestGetProgressReflectsResolvedTargets(t *testing.T) {
	s := New("seq-11", "progress", nil)
	s.AddTarget(newTarget("a", okTask("a-t", "a")))
	s.AddTarget(newTarget("b", okTask("b-t", "b")))
	if p := s.GetProgress(); p != 0 {
		t.Fatalf("expected 0%% before running, got %v", p)
	}
	if err := s.ExecuteAll(context.Background()); err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	if p := s.GetProgress(); p != 100 {
		t.Fatalf("expected 100%% after completion, got %v", p)
	}
}

func TestWaitForCompletionReturnsResult(t *testing.T) {
	s := New("seq-12", "wait", nil)
	s.AddTarget(newTarget("a", okTask("a-t", "a")))

	go func() { _ = s.ExecuteAll(context.Background()) }()

	result, ok := s.WaitForCompletion(context.Background(), 2*time.Second)
	if !ok {
		t.Fatalf("expected completion before timeout")
	}
	if !result.Success {
		t.Fatalf("expected successful result")
	}
}
