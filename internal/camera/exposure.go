package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/hardware"
	"github.com/elementastro/orrery/internal/retry"
)

// ExposureState is ExposureManager's lifecycle state.
type ExposureState int

const (
	ExposureIdle ExposureState = iota
	ExposurePreparing
	ExposureExposing
	ExposureDownloading
	ExposureComplete
	ExposureAborted
	ExposureError
)

func (s ExposureState) String() string {
	switch s {
	case ExposureIdle:
		return "Idle"
	case ExposurePreparing:
		return "Preparing"
	case ExposureExposing:
		return "Exposing"
	case ExposureDownloading:
		return "Downloading"
	case ExposureComplete:
		return "Complete"
	case ExposureAborted:
		return "Aborted"
	case ExposureError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Format is a supported image pixel format.
type Format string

const (
	FormatRAW8  Format = "RAW8"
	FormatRAW16 Format = "RAW16"
	FormatRGB24 Format = "RGB24"
)

// ExposureSettings parameterizes a single exposure.
type ExposureSettings struct {
	Duration time.Duration
	Width    int
	Height   int
	Binning  int
	Format   Format
	IsDark   bool
	StartX   int
	StartY   int
}

// Validate enforces the value ranges the spec requires: duration in
// (0, 3600] seconds, binning in [1, 8], non-negative dimensions and a
// known pixel format.
func (s ExposureSettings) Validate() error {
	if s.Duration <= 0 || s.Duration > time.Hour {
		return orerrors.New(orerrors.KindValidation, "ExposureSettings.validate", fmt.Errorf("duration %s out of range (0, 3600s]", s.Duration))
	}
	if s.Binning < 1 || s.Binning > 8 {
		return orerrors.New(orerrors.KindValidation, "ExposureSettings.validate", fmt.Errorf("binning %d out of range [1, 8]", s.Binning))
	}
	if s.Width < 0 || s.Height < 0 {
		return orerrors.New(orerrors.KindValidation, "ExposureSettings.validate", fmt.Errorf("negative dimensions %dx%d", s.Width, s.Height))
	}
	switch s.Format {
	case FormatRAW8, FormatRAW16, FormatRGB24:
	default:
		return orerrors.New(orerrors.KindValidation, "ExposureSettings.validate", fmt.Errorf("unsupported format %q", s.Format))
	}
	return nil
}

// ExposureResult is the outcome of one exposure attempt.
type ExposureResult struct {
	Success        bool
	Frame          []byte
	ActualDuration time.Duration
	StartedAt      time.Time
	EndedAt        time.Time
	ErrorMessage   string
}

// ExposureManager drives a single camera device through the
// prepare/expose/download cycle, with retry-on-failure gated by a
// per-device adaptive retry.Gate.
type ExposureManager struct {
	hw       *hardware.Interface
	deviceID string
	gate     retry.Gate

	mu         sync.RWMutex
	state      ExposureState
	settings   ExposureSettings
	startedAt  time.Time
	lastResult ExposureResult
	progress   float64

	abortCh     chan struct{}
	abortCancel context.CancelFunc
	abortFlag   bool

	cbMu     sync.Mutex
	onResult func(ExposureResult)
	onProgress func(progress, remaining float64)

	statsMu    sync.Mutex
	completed  uint32
	aborted    uint32
	failed     uint32
	totalTime  time.Duration

	progressInterval time.Duration
	timeout          time.Duration
	maxRetries       int
	retryDelay       time.Duration
}

// NewExposureManager constructs an ExposureManager for deviceID. gate
// may be nil, in which case attempts are ungated. maxRetries/retryDelay
// default to 3 retries (up to 4 attempts in all) and a 1s delay between
// attempts.
func NewExposureManager(hw *hardware.Interface, deviceID string, gate retry.Gate) *ExposureManager {
	return &ExposureManager{
		hw:               hw,
		deviceID:         deviceID,
		gate:             gate,
		state:            ExposureIdle,
		progressInterval: 100 * time.Millisecond,
		timeout:          10 * time.Minute,
		maxRetries:       3,
		retryDelay:       time.Second,
	}
}

func (m *ExposureManager) OnResult(fn func(ExposureResult))                  { m.cbMu.Lock(); m.onResult = fn; m.cbMu.Unlock() }
func (m *ExposureManager) OnProgress(fn func(progress, remaining float64))    { m.cbMu.Lock(); m.onProgress = fn; m.cbMu.Unlock() }
func (m *ExposureManager) SetTimeout(d time.Duration)                        { m.mu.Lock(); m.timeout = d; m.mu.Unlock() }
func (m *ExposureManager) SetProgressInterval(d time.Duration)               { m.mu.Lock(); m.progressInterval = d; m.mu.Unlock() }
func (m *ExposureManager) SetMaxRetries(n int)                               { m.mu.Lock(); m.maxRetries = n; m.mu.Unlock() }
func (m *ExposureManager) SetRetryDelay(d time.Duration)                     { m.mu.Lock(); m.retryDelay = d; m.mu.Unlock() }

func (m *ExposureManager) setState(s ExposureState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *ExposureManager) State() ExposureState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *ExposureManager) IsExposing() bool {
	s := m.State()
	return s == ExposureExposing || s == ExposureDownloading
}

func (m *ExposureManager) LastResult() ExposureResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastResult
}

// Progress returns completion fraction in [0, 1] and remaining time.
func (m *ExposureManager) Progress() (float64, time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != ExposureExposing {
		if m.state == ExposureComplete || m.state == ExposureDownloading {
			return 1, 0
		}
		return m.progress, 0
	}
	elapsed := time.Since(m.startedAt)
	remaining := m.settings.Duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	frac := float64(elapsed) / float64(m.settings.Duration)
	if frac > 1 {
		frac = 1
	}
	return frac, remaining
}

// StartExposure validates settings, runs the prepare/expose/download
// cycle synchronously (the caller is expected to invoke it from a
// Task's Action, which already runs off the caller's goroutine), and
// retries transient failures via the retry.Gate / retry policy.
func (m *ExposureManager) StartExposure(ctx context.Context, settings ExposureSettings) (ExposureResult, error) {
	if err := settings.Validate(); err != nil {
		return ExposureResult{}, err
	}
	m.mu.Lock()
	if m.state == ExposureExposing || m.state == ExposureDownloading || m.state == ExposurePreparing {
		m.mu.Unlock()
		return ExposureResult{}, orerrors.New(orerrors.KindDevice, "ExposureManager.startExposure", orerrors.ErrNotIdle)
	}
	m.settings = settings
	m.abortCh = make(chan struct{})
	m.abortFlag = false
	m.state = ExposurePreparing
	m.progress = 0
	m.mu.Unlock()

	result, err := m.runExposure(ctx, settings)

	m.mu.Lock()
	m.lastResult = result
	if err != nil {
		m.state = ExposureError
	} else if result.Success {
		m.state = ExposureComplete
	} else {
		m.state = ExposureAborted
	}
	m.mu.Unlock()

	m.statsMu.Lock()
	if err == nil && result.Success {
		m.completed++
		m.totalTime += result.ActualDuration
	} else if result.ErrorMessage == "aborted" {
		m.aborted++
	} else {
		m.failed++
	}
	m.statsMu.Unlock()

	m.cbMu.Lock()
	cb := m.onResult
	m.cbMu.Unlock()
	if cb != nil {
		cb(result)
	}
	return result, err
}

// runExposure drives the prepare/expose/download cycle with up to
// maxRetries extra attempts on hardware-returned failure, sleeping
// retryDelay between attempts. An abort never triggers a retry: once
// the exposure reports "aborted" the loop stops immediately.
func (m *ExposureManager) runExposure(ctx context.Context, settings ExposureSettings) (ExposureResult, error) {
	timeout := m.timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	m.mu.Lock()
	m.abortCancel = cancel
	maxRetries := m.maxRetries
	retryDelay := m.retryDelay
	abortCh := m.abortCh
	m.mu.Unlock()

	var result ExposureResult
	var err error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay):
			case <-abortCh:
				return result, err
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		var permit retry.Permit
		if m.gate != nil {
			p, gerr := m.gate.Acquire(ctx, m.deviceID)
			if gerr != nil {
				return ExposureResult{}, orerrors.New(orerrors.KindDevice, "ExposureManager.startExposure", gerr)
			}
			permit = p
		}
		start := time.Now()
		result, err = m.executeExposure(ctx, settings)
		if permit != nil {
			permit.Release()
		}
		if m.gate != nil {
			m.gate.Feedback(m.deviceID, retry.Feedback{Err: err, Latency: time.Since(start)})
		}

		if result.ErrorMessage == "aborted" || result.Success {
			return result, err
		}
		if attempt >= maxRetries {
			if err == nil {
				err = fmt.Errorf("exposure failed after %d attempts", maxRetries+1)
			}
			return result, err
		}
	}
}

func (m *ExposureManager) executeExposure(ctx context.Context, settings ExposureSettings) (ExposureResult, error) {
	result := ExposureResult{StartedAt: time.Now()}

	if err := m.hw.SetROIFormat(ctx, m.deviceID, hardware.ROI{
		X: settings.StartX, Y: settings.StartY,
		Width: settings.Width, Height: settings.Height,
		BinX: settings.Binning, BinY: settings.Binning,
	}); err != nil {
		result.EndedAt = time.Now()
		result.ErrorMessage = err.Error()
		return result, err
	}

	m.setState(ExposureExposing)
	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()

	if err := m.hw.StartExposure(ctx, m.deviceID, settings.IsDark); err != nil {
		result.EndedAt = time.Now()
		result.ErrorMessage = err.Error()
		return result, err
	}

	if err := m.waitForComplete(ctx); err != nil {
		result.EndedAt = time.Now()
		if err == errAborted {
			result.ErrorMessage = "aborted"
			return result, nil
		}
		result.ErrorMessage = err.Error()
		return result, err
	}

	m.setState(ExposureDownloading)
	data, err := m.hw.GetImageData(ctx, m.deviceID)
	result.EndedAt = time.Now()
	result.ActualDuration = result.EndedAt.Sub(result.StartedAt)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, err
	}
	result.Frame = data
	result.Success = true
	return result, nil
}

var errAborted = fmt.Errorf("exposure aborted")

func (m *ExposureManager) waitForComplete(ctx context.Context) error {
	m.mu.RLock()
	interval := m.progressInterval
	abortCh := m.abortCh
	m.mu.RUnlock()
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.mu.RLock()
			wasAbort := m.abortFlag
			m.mu.RUnlock()
			_ = m.hw.StopExposure(context.Background(), m.deviceID)
			if wasAbort {
				return errAborted
			}
			return ctx.Err()
		case <-abortCh:
			_ = m.hw.StopExposure(context.Background(), m.deviceID)
			return errAborted
		case <-ticker.C:
			status, err := m.hw.GetExposureStatus(ctx, m.deviceID)
			if err != nil {
				m.mu.RLock()
				wasAbort := m.abortFlag
				m.mu.RUnlock()
				if wasAbort {
					return errAborted
				}
				return err
			}
			progress, remaining := m.Progress()
			m.cbMu.Lock()
			cb := m.onProgress
			m.cbMu.Unlock()
			if cb != nil {
				cb(progress, remaining.Seconds())
			}
			switch status {
			case hardware.ExposureStatusSuccess:
				return nil
			case hardware.ExposureStatusFailed:
				return fmt.Errorf("exposure failed")
			}
		}
	}
}

// AbortExposure requests the in-flight exposure stop early. Safe to
// call even if no exposure is in progress.
func (m *ExposureManager) AbortExposure() {
	m.mu.Lock()
	m.abortFlag = true
	ch := m.abortCh
	cancel := m.abortCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// Statistics is a snapshot of ExposureManager's counters.
type Statistics struct {
	Completed uint32
	Aborted   uint32
	Failed    uint32
	TotalTime time.Duration
}

func (m *ExposureManager) Stats() Statistics {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return Statistics{Completed: m.completed, Aborted: m.aborted, Failed: m.failed, TotalTime: m.totalTime}
}

func (m *ExposureManager) ResetStatistics() {
	m.statsMu.Lock()
	m.completed, m.aborted, m.failed, m.totalTime = 0, 0, 0, 0
	m.statsMu.Unlock()
}
