package camera

import (
	"context"
	"testing"
	"time"

	"github.com/elementastro/orrery/internal/hardware"
	"github.com/elementastro/orrery/internal/telemetry/events"
)

func TestControllerStartStopLifecycle(t *testing.T) {
	drv := hardware.NewSimDriver(hardware.DeviceInfo{ID: "cam-1"})
	cfg := Defaults("cam-1")
	c := New(cfg, drv, nil, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Hardware().Connected() {
		t.Fatalf("expected connected after Start")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start should be idempotent: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Hardware().Connected() {
		t.Fatalf("expected disconnected after Stop")
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop should be idempotent: %v", err)
	}
}

func TestControllerCaptureAndProcess(t *testing.T) {
	drv := hardware.NewSimDriver(hardware.DeviceInfo{ID: "cam-1"})
	c := New(Defaults("cam-1"), drv, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(context.Background())

	frame, err := c.CaptureAndProcess(context.Background(), ExposureSettings{
		Duration: 5 * time.Millisecond, Binning: 1, Format: FormatRAW16, Width: 4, Height: 4,
	})
	if err != nil {
		t.Fatalf("CaptureAndProcess: %v", err)
	}
	if len(frame.Raw) != 16 {
		t.Fatalf("expected 16-byte frame, got %d", len(frame.Raw))
	}
	dark, light := c.ImageProcessor().Counts()
	if dark != 0 || light != 1 {
		t.Fatalf("expected 1 light frame counted, got dark=%d light=%d", dark, light)
	}
}

func TestControllerCaptureRequiresStarted(t *testing.T) {
	drv := hardware.NewSimDriver(hardware.DeviceInfo{ID: "cam-1"})
	c := New(Defaults("cam-1"), drv, nil, nil)
	_, err := c.CaptureAndProcess(context.Background(), ExposureSettings{Duration: time.Millisecond, Binning: 1, Format: FormatRAW16})
	if err == nil {
		t.Fatalf("expected error when not started")
	}
}

func TestControllerPublishesDeviceEvents(t *testing.T) {
	drv := hardware.NewSimDriver(hardware.DeviceInfo{ID: "cam-1"})
	bus := events.NewBus(nil)
	c := New(Defaults("cam-1"), drv, bus, nil)
	sub, err := bus.Subscribe(8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(context.Background())

	if _, err := c.CaptureAndProcess(context.Background(), ExposureSettings{
		Duration: 5 * time.Millisecond, Binning: 1, Format: FormatRAW16,
	}); err != nil {
		t.Fatalf("CaptureAndProcess: %v", err)
	}

	select {
	case ev := <-sub.C():
		if ev.Category != events.CategoryDevice {
			t.Fatalf("expected device category, got %s", ev.Category)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a device event to be published")
	}
}

func TestControllerSnapshot(t *testing.T) {
	drv := hardware.NewSimDriver(hardware.DeviceInfo{ID: "cam-1"})
	c := New(Defaults("cam-1"), drv, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(context.Background())

	snap := c.Snapshot()
	if !snap.Connected {
		t.Fatalf("expected connected in snapshot")
	}
	if snap.ExposureState != ExposureIdle.String() {
		t.Fatalf("expected Idle exposure state, got %s", snap.ExposureState)
	}
}
