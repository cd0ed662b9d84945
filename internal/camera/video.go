package camera

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/hardware"
)

// VideoState is VideoManager's lifecycle state.
type VideoState int

const (
	VideoIdle VideoState = iota
	VideoStarting
	VideoStreaming
	VideoStopping
	VideoError
)

func (s VideoState) String() string {
	switch s {
	case VideoIdle:
		return "Idle"
	case VideoStarting:
		return "Starting"
	case VideoStreaming:
		return "Streaming"
	case VideoStopping:
		return "Stopping"
	case VideoError:
		return "Error"
	default:
		return "Unknown"
	}
}

// VideoSettings parameterizes a streaming session. Dynamic updates via
// UpdateSettings are only accepted while the manager is Idle; per-field
// updates (UpdateExposure/UpdateGain/UpdateFrameRate) are accepted while
// Streaming. The capture worker paces frames at a fixed 30 per second
// whatever FPS holds.
type VideoSettings struct {
	Width        int
	Height       int
	Binning      int
	Format       Format
	FPS          float64
	ExposureUs   int
	Gain         int
	AutoExposure bool
	AutoGain     bool
	BufferSize   int
	StartX       int
	StartY       int
}

// DefaultVideoSettings mirrors the reference defaults.
func DefaultVideoSettings() VideoSettings {
	return VideoSettings{Binning: 1, Format: FormatRAW16, FPS: 30, ExposureUs: 33000, BufferSize: 10}
}

// VideoFrame is one captured video frame.
type VideoFrame struct {
	Data      []byte
	CapturedAt time.Time
}

// VideoStatistics tracks capture throughput.
type VideoStatistics struct {
	FramesReceived  uint64
	FramesProcessed uint64
	FramesDropped   uint64
	ActualFPS       float64
	DataRateMBps    float64
	StartedAt       time.Time
	LastFrameAt     time.Time
}

// VideoManager streams frames from a device into a bounded ring
// buffer, dropping the oldest or the incoming frame when full
// depending on DropFramesWhenFull, and optionally records the stream
// to a named sink while streaming.
type VideoManager struct {
	hw       *hardware.Interface
	deviceID string

	mu       sync.Mutex
	state    VideoState
	settings VideoSettings
	stats    VideoStatistics

	buffer             *list.List
	maxBufferSize      int
	dropFramesWhenFull bool

	recording         bool
	recordingName     string
	recordedFrames    uint64

	stopCh chan struct{}
	wg     sync.WaitGroup

	cbMu       sync.Mutex
	onFrame    func(VideoFrame)
	onStats    func(VideoStatistics)
	onError    func(error)

	statsInterval time.Duration
}

// NewVideoManager constructs a VideoManager for deviceID, Idle.
func NewVideoManager(hw *hardware.Interface, deviceID string) *VideoManager {
	return &VideoManager{
		hw:                 hw,
		deviceID:           deviceID,
		state:              VideoIdle,
		buffer:             list.New(),
		maxBufferSize:      10,
		dropFramesWhenFull: true,
		statsInterval:      time.Second,
	}
}

func (v *VideoManager) OnFrame(fn func(VideoFrame))          { v.cbMu.Lock(); v.onFrame = fn; v.cbMu.Unlock() }
func (v *VideoManager) OnStatistics(fn func(VideoStatistics)) { v.cbMu.Lock(); v.onStats = fn; v.cbMu.Unlock() }
func (v *VideoManager) OnError(fn func(error))                { v.cbMu.Lock(); v.onError = fn; v.cbMu.Unlock() }

func (v *VideoManager) State() VideoState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *VideoManager) IsStreaming() bool { return v.State() == VideoStreaming }

// SetFrameBufferSize bounds the ring buffer. Excess frames are
// evicted from the front immediately if the new size is smaller.
func (v *VideoManager) SetFrameBufferSize(size int) {
	if size < 1 {
		size = 1
	}
	v.mu.Lock()
	v.maxBufferSize = size
	for v.buffer.Len() > v.maxBufferSize {
		v.buffer.Remove(v.buffer.Front())
	}
	v.mu.Unlock()
}

func (v *VideoManager) SetDropFramesWhenFull(drop bool) {
	v.mu.Lock()
	v.dropFramesWhenFull = drop
	v.mu.Unlock()
}

// UpdateSettings replaces the full settings set. Only valid while Idle.
func (v *VideoManager) UpdateSettings(settings VideoSettings) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != VideoIdle {
		return orerrors.New(orerrors.KindValidation, "VideoManager.updateSettings", orerrors.ErrNotIdle)
	}
	v.settings = settings
	return nil
}

func (v *VideoManager) CurrentSettings() VideoSettings {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settings
}

// UpdateExposure/UpdateGain record the new value in the settings and,
// while Streaming, also push it to the device. UpdateFrameRate only
// records FPS in the settings; it sends nothing to the device and does
// not change the capture worker's pacing.
func (v *VideoManager) UpdateExposure(ctx context.Context, exposureUs int) error {
	v.mu.Lock()
	v.settings.ExposureUs = exposureUs
	streaming := v.state == VideoStreaming
	v.mu.Unlock()
	if streaming {
		return v.hw.SetControlValue(ctx, v.deviceID, "exposure", float64(exposureUs)/1e6)
	}
	return nil
}

func (v *VideoManager) UpdateGain(ctx context.Context, gain int) error {
	v.mu.Lock()
	v.settings.Gain = gain
	streaming := v.state == VideoStreaming
	v.mu.Unlock()
	if streaming {
		return v.hw.SetControlValue(ctx, v.deviceID, "gain", float64(gain))
	}
	return nil
}

func (v *VideoManager) UpdateFrameRate(fps float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if fps <= 0 {
		return orerrors.New(orerrors.KindValidation, "VideoManager.updateFrameRate", fmt.Errorf("frame rate %v must be positive", fps))
	}
	v.settings.FPS = fps
	return nil
}

// StartVideo begins streaming. Fails if not Idle.
func (v *VideoManager) StartVideo(ctx context.Context, settings VideoSettings) error {
	v.mu.Lock()
	if v.state != VideoIdle {
		v.mu.Unlock()
		return orerrors.New(orerrors.KindDevice, "VideoManager.startVideo", orerrors.ErrNotIdle)
	}
	v.settings = settings
	v.maxBufferSize = settings.BufferSize
	if v.maxBufferSize < 1 {
		v.maxBufferSize = 10
	}
	v.state = VideoStarting
	v.stopCh = make(chan struct{})
	v.stats = VideoStatistics{StartedAt: time.Now()}
	v.mu.Unlock()

	if err := v.hw.SetROIFormat(ctx, v.deviceID, hardware.ROI{
		X: settings.StartX, Y: settings.StartY,
		Width: settings.Width, Height: settings.Height,
		BinX: settings.Binning, BinY: settings.Binning,
	}); err != nil {
		v.mu.Lock()
		v.state = VideoError
		v.mu.Unlock()
		return err
	}

	if err := v.hw.StartVideoCapture(ctx, v.deviceID); err != nil {
		v.mu.Lock()
		v.state = VideoError
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	v.state = VideoStreaming
	v.mu.Unlock()

	v.wg.Add(1)
	go v.captureWorker(ctx)
	return nil
}

// StopVideo halts streaming and waits for the capture worker to exit.
func (v *VideoManager) StopVideo(ctx context.Context) error {
	v.mu.Lock()
	if v.state != VideoStreaming {
		v.mu.Unlock()
		return nil
	}
	v.state = VideoStopping
	stop := v.stopCh
	v.mu.Unlock()

	close(stop)
	v.wg.Wait()

	err := v.hw.StopVideoCapture(ctx, v.deviceID)

	v.mu.Lock()
	v.state = VideoIdle
	v.recording = false
	v.mu.Unlock()
	return err
}

func (v *VideoManager) captureWorker(ctx context.Context) {
	defer v.wg.Done()
	v.mu.Lock()
	stop := v.stopCh
	v.mu.Unlock()

	frameInterval := time.Second / 30
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	lastStatsReport := time.Now()
	var framesSinceReport uint64

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := v.hw.GetVideoData(ctx, v.deviceID, frameInterval)
			if err != nil {
				v.cbMu.Lock()
				cb := v.onError
				v.cbMu.Unlock()
				if cb != nil {
					cb(err)
				}
				continue
			}
			frame := VideoFrame{Data: data, CapturedAt: time.Now()}
			v.pushFrame(frame)
			framesSinceReport++

			if time.Since(lastStatsReport) >= v.statsInterval {
				v.reportStatistics(framesSinceReport, time.Since(lastStatsReport))
				framesSinceReport = 0
				lastStatsReport = time.Now()
			}
		}
	}
}

func (v *VideoManager) pushFrame(frame VideoFrame) {
	v.mu.Lock()
	v.stats.FramesReceived++
	v.stats.LastFrameAt = frame.CapturedAt
	if v.buffer.Len() >= v.maxBufferSize {
		if v.dropFramesWhenFull {
			v.buffer.Remove(v.buffer.Front())
			v.stats.FramesDropped++
		} else {
			v.mu.Unlock()
			v.stats.FramesDropped++
			return
		}
	}
	v.buffer.PushBack(frame)
	v.stats.FramesProcessed++
	if v.recording {
		v.recordedFrames++
	}
	v.mu.Unlock()

	v.cbMu.Lock()
	cb := v.onFrame
	v.cbMu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

func (v *VideoManager) reportStatistics(frames uint64, elapsed time.Duration) {
	v.mu.Lock()
	if elapsed > 0 {
		v.stats.ActualFPS = float64(frames) / elapsed.Seconds()
	}
	snapshot := v.stats
	v.mu.Unlock()

	v.cbMu.Lock()
	cb := v.onStats
	v.cbMu.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}

// GetLatestFrame pops the oldest buffered frame (FIFO).
func (v *VideoManager) GetLatestFrame() (VideoFrame, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	front := v.buffer.Front()
	if front == nil {
		return VideoFrame{}, false
	}
	v.buffer.Remove(front)
	return front.Value.(VideoFrame), true
}

func (v *VideoManager) HasFrameAvailable() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.buffer.Len() > 0
}

func (v *VideoManager) BufferUsage() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.buffer.Len()
}

func (v *VideoManager) Statistics() VideoStatistics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

func (v *VideoManager) ResetStatistics() {
	v.mu.Lock()
	v.stats = VideoStatistics{StartedAt: time.Now()}
	v.mu.Unlock()
}

// StartRecording marks frames arriving while Streaming as recorded.
// filename is metadata only; persistence of the recorded
// stream is the caller's responsibility via OnFrame.
func (v *VideoManager) StartRecording(filename string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != VideoStreaming {
		return orerrors.New(orerrors.KindDevice, "VideoManager.startRecording", orerrors.ErrNotConnected)
	}
	v.recording = true
	v.recordingName = filename
	v.recordedFrames = 0
	return nil
}

func (v *VideoManager) StopRecording() {
	v.mu.Lock()
	v.recording = false
	v.mu.Unlock()
}

func (v *VideoManager) IsRecording() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recording
}

func (v *VideoManager) RecordedFrames() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recordedFrames
}
