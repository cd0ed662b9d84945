package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteSuccess(t *testing.T) {
	tk := New("t1", "capture", "exposure", func(ctx context.Context, p Params) error {
		return nil
	})
	status := tk.Execute(context.Background(), nil)
	if status != StatusCompleted {
		t.Fatalf("expected Completed, got %v", status)
	}
	if tk.GetStatus() != StatusCompleted {
		t.Fatalf("GetStatus mismatch")
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	var calls int32
	tk := New("t2", "retry-task", "generic", func(ctx context.Context, p Params) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	tk.SetRetryPolicy(5)
	status := tk.Execute(context.Background(), nil)
	if status != StatusCompleted {
		t.Fatalf("expected Completed after retries, got %v (calls=%d)", status, calls)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteFailsAfterMaxRetries(t *testing.T) {
	tk := New("t3", "always-fails", "generic", func(ctx context.Context, p Params) error {
		return errors.New("boom")
	})
	tk.SetRetryPolicy(2)
	status := tk.Execute(context.Background(), nil)
	if status != StatusFailed {
		t.Fatalf("expected Failed, got %v", status)
	}
	if tk.ErrorMessage() != "boom" {
		t.Fatalf("expected error message 'boom', got %q", tk.ErrorMessage())
	}
}

func TestExecuteTimeout(t *testing.T) {
	tk := New("t4", "slow", "generic", func(ctx context.Context, p Params) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	tk.SetTimeout(10 * time.Millisecond)
	status := tk.Execute(context.Background(), nil)
	if status != StatusFailed {
		t.Fatalf("expected Failed on timeout, got %v", status)
	}
	if tk.ErrorMessage() != "timeout" {
		t.Fatalf("expected 'timeout' message, got %q", tk.ErrorMessage())
	}
}

func TestCancelWhilePendingSkipsAction(t *testing.T) {
	var invoked bool
	tk := New("t5", "cancel-me", "generic", func(ctx context.Context, p Params) error {
		invoked = true
		return nil
	})
	tk.Cancel()
	if tk.GetStatus() != StatusCancelled {
		t.Fatalf("expected Cancelled immediately, got %v", tk.GetStatus())
	}
	status := tk.Execute(context.Background(), nil)
	if status != StatusCancelled {
		t.Fatalf("expected Execute to report Cancelled, got %v", status)
	}
	if invoked {
		t.Fatalf("action must not run once cancelled while pending")
	}
}

func TestPanicRecoveredAsUnknownError(t *testing.T) {
	tk := New("t6", "panics", "generic", func(ctx context.Context, p Params) error {
		panic(42)
	})
	status := tk.Execute(context.Background(), nil)
	if status != StatusFailed {
		t.Fatalf("expected Failed, got %v", status)
	}
	if tk.ErrorMessage() != "unknown error" {
		t.Fatalf("expected 'unknown error', got %q", tk.ErrorMessage())
	}
}

func TestCallbacksFireInOrder(t *testing.T) {
	var events []string
	tk := New("t7", "noop", "generic", func(ctx context.Context, p Params) error { return nil })
	tk.OnStart(func(t *Task) { events = append(events, "start") })
	tk.OnEnd(func(t *Task, s Status) { events = append(events, "end:"+s.String()) })
	tk.Execute(context.Background(), nil)
	if len(events) != 2 || events[0] != "start" || events[1] != "end:Completed" {
		t.Fatalf("unexpected callback order: %v", events)
	}
}
