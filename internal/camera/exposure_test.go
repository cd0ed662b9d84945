package camera

import (
	"context"
	"testing"
	"time"

	"github.com/elementastro/orrery/internal/hardware"
	"github.com/elementastro/orrery/internal/retry"
)

func newTestExposureManager(t *testing.T) (*ExposureManager, *hardware.SimDriver) {
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
	gate := retry.NewAdaptiveGate(retry.Defaults())
	return NewExposureManager(hw, "cam-1", gate), drv
}

func TestExposureSettingsValidate(t *testing.T) {
	cases := []struct {
		name    string
		s       ExposureSettings
		wantErr bool
	}{
		{"valid", ExposureSettings{Duration: time.Second, Binning: 1, Format: FormatRAW16}, false},
		{"zero duration", ExposureSettings{Duration: 0, Binning: 1, Format: FormatRAW16}, true},
		{"too long", ExposureSettings{Duration: 2 * time.Hour, Binning: 1, Format: FormatRAW16}, true},
		{"bad binning", ExposureSettings{Duration: time.Second, Binning: 9, Format: FormatRAW16}, true},
		{"negative dims", ExposureSettings{Duration: time.Second, Binning: 1, Width: -1, Format: FormatRAW16}, true},
		{"bad format", ExposureSettings{Duration: time.Second, Binning: 1, Format: "TIFF"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestStartExposureSucceeds(t *testing.T) {
	m, _ := newTestExposureManager(t)
	settings := ExposureSettings{Duration: 10 * time.Millisecond, Binning: 1, Format: FormatRAW16, Width: 4, Height: 4}
	m.SetProgressInterval(2 * time.Millisecond)

	result, err := m.StartExposure(context.Background(), settings)
	if err != nil {
		t.Fatalf("StartExposure: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.Frame) != 16 {
		t.Fatalf("expected 16-byte frame, got %d", len(result.Frame))
	}
	if m.State() != ExposureComplete {
		t.Fatalf("expected Complete, got %v", m.State())
	}
}

func TestStartExposureRejectsInvalidSettings(t *testing.T) {
	m, _ := newTestExposureManager(t)
	_, err := m.StartExposure(context.Background(), ExposureSettings{Duration: 0, Binning: 1, Format: FormatRAW16})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestStartExposureRejectsWhenNotIdle(t *testing.T) {
	m, drv := newTestExposureManager(t)
	drv.ExposureDelay = 50 * time.Millisecond
	settings := ExposureSettings{Duration: time.Second, Binning: 1, Format: FormatRAW16}
	m.SetProgressInterval(2 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_, _ = m.StartExposure(context.Background(), settings)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)

	_, err := m.StartExposure(context.Background(), settings)
	if err == nil {
		t.Fatalf("expected ErrNotIdle while exposing")
	}
	m.AbortExposure()
	<-done
}

func TestAbortExposureStopsEarly(t *testing.T) {
	m, drv := newTestExposureManager(t)
	drv.ExposureDelay = time.Second
	settings := ExposureSettings{Duration: time.Second, Binning: 1, Format: FormatRAW16}
	m.SetProgressInterval(2 * time.Millisecond)

	resultCh := make(chan ExposureResult, 1)
	go func() {
		r, _ := m.StartExposure(context.Background(), settings)
		resultCh <- r
	}()
	time.Sleep(5 * time.Millisecond)
	m.AbortExposure()

	select {
	case r := <-resultCh:
		if r.Success {
			t.Fatalf("expected aborted exposure to not succeed")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for aborted exposure")
	}
}

func TestStartExposureRetriesThenSucceeds(t *testing.T) {
	m, drv := newTestExposureManager(t)
	drv.FailExposures = 2
	m.SetMaxRetries(3)
	m.SetRetryDelay(time.Millisecond)
	m.SetProgressInterval(time.Millisecond)
	settings := ExposureSettings{Duration: 5 * time.Millisecond, Binning: 1, Format: FormatRAW16, Width: 4, Height: 4}

	result, err := m.StartExposure(context.Background(), settings)
	if err != nil {
		t.Fatalf("StartExposure: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected the third attempt to succeed, got %+v", result)
	}
	if m.State() != ExposureComplete {
		t.Fatalf("expected Complete, got %v", m.State())
	}
	if stats := m.Stats(); stats.Completed != 1 || stats.Failed != 0 {
		t.Fatalf("expected one completed exposure and no failures recorded, got %+v", stats)
	}
}

func TestStartExposureRetriesExhausted(t *testing.T) {
	m, drv := newTestExposureManager(t)
	drv.FailExposures = 100
	m.SetMaxRetries(1)
	m.SetRetryDelay(time.Millisecond)
	m.SetProgressInterval(time.Millisecond)
	settings := ExposureSettings{Duration: 5 * time.Millisecond, Binning: 1, Format: FormatRAW16, Width: 4, Height: 4}

	result, err := m.StartExposure(context.Background(), settings)
	if err == nil {
		t.Fatalf("expected an error after exhausting retries, got %+v", result)
	}
	if result.Success {
		t.Fatalf("expected failure, got success")
	}
	if m.State() != ExposureError {
		t.Fatalf("expected Error, got %v", m.State())
	}
	if stats := m.Stats(); stats.Failed != 1 {
		t.Fatalf("expected one failed exposure recorded, got %+v", stats)
	}
}

func TestExposureStatisticsAccumulate(t *testing.T) {
	m, _ := newTestExposureManager(t)
	settings := ExposureSettings{Duration: 5 * time.Millisecond, Binning: 1, Format: FormatRAW16}
	m.SetProgressInterval(time.Millisecond)
	for i := 0; i < 3; i++ {
		if _, err := m.StartExposure(context.Background(), settings); err != nil {
			t.Fatalf("exposure %d: %v", i, err)
		}
	}
	stats := m.Stats()
	if stats.Completed != 3 {
		t.Fatalf("expected 3 completed, got %d", stats.Completed)
	}
	m.ResetStatistics()
	if m.Stats().Completed != 0 {
		t.Fatalf("expected stats reset")
	}
}
