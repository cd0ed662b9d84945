package camera

import (
	"context"
	"testing"
	"time"

	"github.com/elementastro/orrery/internal/hardware"
)

func newTestVideoManager(t *testing.T) *VideoManager {
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
	return NewVideoManager(hw, "cam-1")
}

func TestStartStopVideoRoundTrip(t *testing.T) {
	v := newTestVideoManager(t)
	settings := DefaultVideoSettings()
	if err := v.StartVideo(context.Background(), settings); err != nil {
		t.Fatalf("StartVideo: %v", err)
	}
	if !v.IsStreaming() {
		t.Fatalf("expected Streaming")
	}
	time.Sleep(50 * time.Millisecond)
	if err := v.StopVideo(context.Background()); err != nil {
		t.Fatalf("StopVideo: %v", err)
	}
	if v.State() != VideoIdle {
		t.Fatalf("expected Idle after stop, got %v", v.State())
	}
}

func TestVideoBufferDropsOldestWhenFull(t *testing.T) {
	v := newTestVideoManager(t)
	v.SetFrameBufferSize(3)
	v.SetDropFramesWhenFull(true)
	settings := DefaultVideoSettings()
	if err := v.StartVideo(context.Background(), settings); err != nil {
		t.Fatalf("StartVideo: %v", err)
	}
	defer v.StopVideo(context.Background())

	time.Sleep(200 * time.Millisecond)
	if v.BufferUsage() > 3 {
		t.Fatalf("expected buffer bounded at 3, got %d", v.BufferUsage())
	}
	stats := v.Statistics()
	if stats.FramesReceived == 0 {
		t.Fatalf("expected frames to have been received")
	}
}

func TestUpdateSettingsRejectedWhileStreaming(t *testing.T) {
	v := newTestVideoManager(t)
	if err := v.StartVideo(context.Background(), DefaultVideoSettings()); err != nil {
		t.Fatalf("StartVideo: %v", err)
	}
	defer v.StopVideo(context.Background())

	if err := v.UpdateSettings(DefaultVideoSettings()); err == nil {
		t.Fatalf("expected rejection of UpdateSettings while Streaming")
	}
}

func TestStartRecordingRequiresStreaming(t *testing.T) {
	v := newTestVideoManager(t)
	if err := v.StartRecording("out.mp4"); err == nil {
		t.Fatalf("expected rejection while Idle")
	}
	if err := v.StartVideo(context.Background(), DefaultVideoSettings()); err != nil {
		t.Fatalf("StartVideo: %v", err)
	}
	defer v.StopVideo(context.Background())

	if err := v.StartRecording("out.mp4"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !v.IsRecording() {
		t.Fatalf("expected recording true")
	}
	time.Sleep(50 * time.Millisecond)
	v.StopRecording()
	if v.IsRecording() {
		t.Fatalf("expected recording false after stop")
	}
	if v.RecordedFrames() == 0 {
		t.Fatalf("expected some frames recorded")
	}
}

func TestGetLatestFrameDrainsInOrder(t *testing.T) {
	v := newTestVideoManager(t)
	if err := v.StartVideo(context.Background(), DefaultVideoSettings()); err != nil {
		t.Fatalf("StartVideo: %v", err)
	}
	defer v.StopVideo(context.Background())
	time.Sleep(100 * time.Millisecond)

	if !v.HasFrameAvailable() {
		t.Fatalf("expected at least one frame available")
	}
	_, ok := v.GetLatestFrame()
	if !ok {
		t.Fatalf("expected a frame")
	}
}
