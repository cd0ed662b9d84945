package camera

import (
	"context"
	"testing"
	"time"

	"github.com/elementastro/orrery/internal/hardware"
)

func newTestTemperatureController(t *testing.T) *TemperatureController {
	t.Helper()
	drv := hardware.NewSimDriver(hardware.DeviceInfo{ID: "cam-1"})
	hw := hardware.New(drv)
	ctx := context.Background()
	if err := hw.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := hw.Connect(ctx, "cam-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return NewTemperatureController(hw, "cam-1")
}

func TestStartCoolingRejectsWhenNotOff(t *testing.T) {
	tc := newTestTemperatureController(t)
	settings := DefaultCoolingSettings(-10)
	settings.MonitoringInterval = time.Millisecond
	if err := tc.StartCooling(context.Background(), settings); err != nil {
		t.Fatalf("StartCooling: %v", err)
	}
	defer tc.StopCooling()

	if err := tc.StartCooling(context.Background(), settings); err == nil {
		t.Fatalf("expected rejection on second StartCooling")
	}
}

func TestTemperatureConvergesAndStabilizes(t *testing.T) {
	tc := newTestTemperatureController(t)
	settings := CoolingSettings{
		TargetTemperature:  0,
		MaxCoolerPower:     100,
		Tolerance:          1,
		StabilizationTime:  20 * time.Millisecond,
		Timeout:            5 * time.Second,
		Kp:                 5,
		Ki:                 0.5,
		Kd:                 0.1,
		MonitoringInterval: 5 * time.Millisecond,
		HistoryDuration:    time.Minute,
	}
	if err := tc.StartCooling(context.Background(), settings); err != nil {
		t.Fatalf("StartCooling: %v", err)
	}
	defer tc.StopCooling()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if tc.HasReachedTarget() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !tc.HasReachedTarget() {
		t.Fatalf("expected cooler to reach Stable, last state %v, temp %v", tc.State(), tc.CurrentTemperature())
	}
}

func TestStopCoolingReturnsToOff(t *testing.T) {
	tc := newTestTemperatureController(t)
	settings := DefaultCoolingSettings(0)
	settings.MonitoringInterval = time.Millisecond
	if err := tc.StartCooling(context.Background(), settings); err != nil {
		t.Fatalf("StartCooling: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	tc.StopCooling()
	if tc.State() != CoolingOff {
		t.Fatalf("expected Off after StopCooling, got %v", tc.State())
	}
}

func TestTemperatureHistoryBounded(t *testing.T) {
	tc := newTestTemperatureController(t)
	settings := DefaultCoolingSettings(0)
	settings.MonitoringInterval = time.Millisecond
	settings.HistoryDuration = 20 * time.Millisecond
	if err := tc.StartCooling(context.Background(), settings); err != nil {
		t.Fatalf("StartCooling: %v", err)
	}
	defer tc.StopCooling()
	time.Sleep(100 * time.Millisecond)

	history := tc.GetTemperatureHistory()
	for _, sample := range history {
		if time.Since(sample.At) > 50*time.Millisecond {
			t.Fatalf("history retained a sample older than HistoryDuration: %v", sample.At)
		}
	}
}
