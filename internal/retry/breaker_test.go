package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func newFakeClock(t time.Time) *fakeClock        { return &fakeClock{now: t} }
func (c *fakeClock) Now() time.Time              { return c.now }
func (c *fakeClock) Sleep(d time.Duration)        { c.now = c.now.Add(d) }
func (c *fakeClock) Advance(d time.Duration)      { c.now = c.now.Add(d) }

func TestAdaptiveGateAcquireSuccess(t *testing.T) {
	cfg := Defaults()
	clock := newFakeClock(time.Unix(0, 0))
	gate := NewAdaptiveGate(cfg).WithClock(clock)
	defer gate.Close()

	permit, err := gate.Acquire(context.Background(), "camera-1")
	if err != nil {
		t.Fatalf("expected immediate acquire success, got error: %v", err)
	}
	permit.Release()

	clock.Advance(50 * time.Millisecond)
	gate.Feedback("camera-1", Feedback{Latency: 50 * time.Millisecond})
}

func TestAdaptiveGateCircuitOpenAfterFailures(t *testing.T) {
	cfg := Defaults()
	cfg.FailureThreshold = 1
	cfg.OpenDuration = 2 * time.Second
	clock := newFakeClock(time.Unix(0, 0))
	gate := NewAdaptiveGate(cfg).WithClock(clock)
	defer gate.Close()

	permit, err := gate.Acquire(context.Background(), "camera-1")
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	permit.Release()

	clock.Advance(10 * time.Millisecond)
	gate.Feedback("camera-1", Feedback{Err: errors.New("device busy"), DeviceBusy: true})

	clock.Advance(10 * time.Millisecond)
	if _, err := gate.Acquire(context.Background(), "camera-1"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	clock.Advance(cfg.OpenDuration)
	permit, err = gate.Acquire(context.Background(), "camera-1")
	if err != nil {
		t.Fatalf("expected half-open probe after open duration, got %v", err)
	}
	permit.Release()
}

func TestAdaptiveGateRejectsEmptyDeviceID(t *testing.T) {
	gate := NewAdaptiveGate(Defaults())
	defer gate.Close()
	if _, err := gate.Acquire(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty device id")
	}
}
