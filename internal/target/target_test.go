package target

import (
	"context"
	"errors"
	"testing"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/task"
)

func newTask(uuid, name string, fn task.Action) *task.Task {
	return task.New(uuid, name, "generic", fn)
}

func TestTargetExecuteOrdersByDependency(t *testing.T) {
	var order []string
	tg := New("tgt-1", "M42")

	t1 := newTask("a", "capture-a", func(ctx context.Context, p task.Params) error {
		order = append(order, "a")
		return nil
	})
	t2 := newTask("b", "capture-b", func(ctx context.Context, p task.Params) error {
		order = append(order, "b")
		return nil
	})
	tg.AddTask(t2)
	tg.AddTask(t1)
	if err := tg.AddTaskDependency("b", "a"); err != nil {
		t.Fatalf("addTaskDependency: %v", err)
	}

	status := tg.Execute(context.Background())
	if status != StatusCompleted {
		t.Fatalf("expected Completed, got %v", status)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b], got %v", order)
	}
}

func TestTargetRejectsCyclicDependency(t *testing.T) {
	tg := New("tgt-2", "M31")
	tg.AddTask(newTask("a", "a", func(ctx context.Context, p task.Params) error { return nil }))
	tg.AddTask(newTask("b", "b", func(ctx context.Context, p task.Params) error { return nil }))

	if err := tg.AddTaskDependency("a", "b"); err != nil {
		t.Fatalf("addTaskDependency: %v", err)
	}
	err := tg.AddTaskDependency("b", "a")
	if !errors.Is(err, orerrors.ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestTargetPriorityBreaksReadyTies(t *testing.T) {
	var order []string
	tg := New("tgt-3", "M51")
	low := newTask("low", "low", func(ctx context.Context, p task.Params) error {
		order = append(order, "low")
		return nil
	})
	high := newTask("high", "high", func(ctx context.Context, p task.Params) error {
		order = append(order, "high")
		return nil
	})
	tg.AddTask(low)
	tg.AddTask(high)
	high.SetPriority(10)

	tg.Execute(context.Background())
	if order[0] != "high" {
		t.Fatalf("expected high-priority task first, got %v", order)
	}
}

func TestTargetDisabledIsSkippedWithoutExecuting(t *testing.T) {
	var invoked bool
	tg := New("tgt-4", "NGC 1")
	tg.SetEnabled(false)
	tg.AddTask(newTask("a", "a", func(ctx context.Context, p task.Params) error {
		invoked = true
		return nil
	}))
	status := tg.Execute(context.Background())
	if status != StatusSkipped {
		t.Fatalf("expected Skipped, got %v", status)
	}
	if invoked {
		t.Fatalf("disabled target must not execute tasks")
	}
}

func TestTargetFailedTaskFailsTarget(t *testing.T) {
	tg := New("tgt-5", "IC 1")
	tg.AddTask(newTask("a", "a", func(ctx context.Context, p task.Params) error {
		return errors.New("device offline")
	}))
	status := tg.Execute(context.Background())
	if status != StatusFailed {
		t.Fatalf("expected Failed, got %v", status)
	}
}

func TestExposurePlanProgressAndRemainingTime(t *testing.T) {
	tg := New("tgt-6", "M101")
	tg.AddExposurePlan(ExposurePlan{Filter: "L", Duration: 5 * time.Minute, Planned: 4})
	tg.AddExposurePlan(ExposurePlan{Filter: "R", Duration: 5 * time.Minute, Planned: 2})

	if tg.AreExposurePlansComplete() {
		t.Fatalf("expected plans incomplete")
	}
	for i := 0; i < 4; i++ {
		tg.RecordCompletedExposure()
	}
	tg.AdvanceExposurePlan()
	for i := 0; i < 2; i++ {
		tg.RecordCompletedExposure()
	}
	if !tg.AreExposurePlansComplete() {
		t.Fatalf("expected plans complete")
	}
	if got := tg.GetExposureProgress(); got != 100 {
		t.Fatalf("expected 100%% progress, got %v", got)
	}
	if got := tg.GetRemainingExposureTime(); got != 0 {
		t.Fatalf("expected zero remaining time, got %v", got)
	}
}

func TestIsObservableRespectsWindowAndAltitude(t *testing.T) {
	tg := New("tgt-7", "M13")
	now := time.Now()
	tg.SetObservabilityWindow(ObservabilityWindow{Start: now.Add(-time.Hour), End: now.Add(time.Hour)})
	tg.SetMinimumAltitude(30)
	tg.UpdateHorizontalCoordinates(HorizontalCoordinates{AltitudeDeg: 10})
	if tg.IsObservable(now) {
		t.Fatalf("expected not observable below minimum altitude")
	}
	tg.UpdateHorizontalCoordinates(HorizontalCoordinates{AltitudeDeg: 45})
	if !tg.IsObservable(now) {
		t.Fatalf("expected observable above minimum altitude within window")
	}
}
