package camera

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/hardware"
	"github.com/elementastro/orrery/internal/retry"
	"github.com/elementastro/orrery/internal/telemetry/events"
	"github.com/elementastro/orrery/internal/telemetry/metrics"
)

// Config tunes a CameraController's owned components.
type Config struct {
	DeviceID string
	Retry    retry.Config
	Cooling  CoolingSettings
}

// Defaults returns a Config suitable for a single-camera session.
func Defaults(deviceID string) Config {
	return Config{
		DeviceID: deviceID,
		Retry:    retry.Defaults(),
		Cooling:  DefaultCoolingSettings(-10),
	}
}

// Controller composes a device's HardwareInterface with the
// ExposureManager, TemperatureController, VideoManager,
// PropertyManager and ImageProcessor that operate it, mirroring how
// the teacher's top-level facade composes its pipeline and resource
// subsystems behind one entry point.
type Controller struct {
	cfg Config

	hw        *hardware.Interface
	gate      retry.Gate
	exposure  *ExposureManager
	temp      *TemperatureController
	video     *VideoManager
	props     *PropertyManager
	processor *ImageProcessor

	bus events.Bus

	captureTotal    metrics.Counter
	captureFailures metrics.Counter
	captureDuration metrics.Histogram
	coolingTemp     metrics.Gauge

	started   atomic.Bool
	startedAt time.Time

	mu sync.Mutex
}

// New constructs a Controller around driver, wiring every subcomponent
// to deviceID. bus may be nil; telemetry events are then dropped.
// provider may be nil, in which case capture/cooling instruments are
// backed by metrics.NewNoopProvider.
func New(cfg Config, driver hardware.Driver, bus events.Bus, provider metrics.Provider) *Controller {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	hw := hardware.New(driver)
	gate := retry.NewAdaptiveGate(cfg.Retry)
	c := &Controller{
		cfg:       cfg,
		hw:        hw,
		gate:      gate,
		exposure:  NewExposureManager(hw, cfg.DeviceID, gate),
		temp:      NewTemperatureController(hw, cfg.DeviceID),
		video:     NewVideoManager(hw, cfg.DeviceID),
		props:     NewPropertyManager(hw, cfg.DeviceID),
		processor: NewImageProcessor(),
		bus:       bus,
		captureTotal: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "orrery", Subsystem: "camera", Name: "captures_total", Help: "Total exposures completed", Labels: []string{"device_id"},
		}}),
		captureFailures: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "orrery", Subsystem: "camera", Name: "capture_failures_total", Help: "Total exposures that failed or were aborted", Labels: []string{"device_id"},
		}}),
		captureDuration: provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "orrery", Subsystem: "camera", Name: "capture_duration_seconds", Help: "Actual exposure duration", Labels: []string{"device_id"},
		}}),
		coolingTemp: provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "orrery", Subsystem: "camera", Name: "cooling_temperature_celsius", Help: "Current sensor temperature", Labels: []string{"device_id"},
		}}),
	}
	c.exposure.OnResult(func(r ExposureResult) {
		if r.Success {
			c.captureTotal.Inc(1, c.cfg.DeviceID)
			c.captureDuration.Observe(r.ActualDuration.Seconds(), c.cfg.DeviceID)
		} else {
			c.captureFailures.Inc(1, c.cfg.DeviceID)
		}
		c.publish("exposure_complete", r.Success, nil)
	})
	c.temp.OnState(func(s CoolingState, msg string) {
		c.coolingTemp.Set(c.temp.CurrentTemperature(), c.cfg.DeviceID)
		fields := map[string]interface{}{"state": s.String()}
		c.publish("cooling_state", s != CoolingError, fields)
	})
	return c
}

func (c *Controller) publish(kind string, ok bool, fields map[string]interface{}) {
	if c.bus == nil {
		return
	}
	severity := "info"
	if !ok {
		severity = "error"
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["device_id"] = c.cfg.DeviceID
	_ = c.bus.Publish(events.Event{
		Time:     time.Now(),
		Category: events.CategoryDevice,
		Type:     kind,
		Severity: severity,
		Fields:   fields,
	})
}

// Start brings up the SDK and connects to the configured device.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.Load() {
		return nil
	}
	if err := c.hw.Initialize(ctx); err != nil {
		return err
	}
	if err := c.hw.Connect(ctx, c.cfg.DeviceID); err != nil {
		return err
	}
	c.started.Store(true)
	c.startedAt = time.Now()
	return nil
}

// StartDefaultCooling starts the TemperatureController using the
// cooling settings supplied at construction time.
func (c *Controller) StartDefaultCooling(ctx context.Context) error {
	return c.temp.StartCooling(ctx, c.cfg.Cooling)
}

// Stop halts any in-flight exposure/video, disconnects, and tears
// down the SDK. Idempotent.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started.Load() {
		return nil
	}
	if c.exposure.IsExposing() {
		c.exposure.AbortExposure()
	}
	if c.video.IsStreaming() {
		_ = c.video.StopVideo(ctx)
	}
	if c.temp.State() != CoolingOff {
		c.temp.StopCooling()
	}
	if err := c.hw.Shutdown(ctx); err != nil {
		return err
	}
	_ = c.gate.Close()
	c.started.Store(false)
	return nil
}

func (c *Controller) Exposure() *ExposureManager         { return c.exposure }
func (c *Controller) Temperature() *TemperatureController { return c.temp }
func (c *Controller) Video() *VideoManager               { return c.video }
func (c *Controller) Properties() *PropertyManager       { return c.props }
func (c *Controller) ImageProcessor() *ImageProcessor    { return c.processor }
func (c *Controller) Hardware() *hardware.Interface      { return c.hw }

// CaptureAndProcess runs a single exposure end-to-end: exposes,
// downloads, and hands the raw buffer to the ImageProcessor.
func (c *Controller) CaptureAndProcess(ctx context.Context, settings ExposureSettings) (*Frame, error) {
	if !c.started.Load() {
		return nil, orerrors.New(orerrors.KindDevice, "CameraController.captureAndProcess", orerrors.ErrNotConnected)
	}
	result, err := c.exposure.StartExposure(ctx, settings)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, orerrors.New(orerrors.KindDevice, "CameraController.captureAndProcess", orerrors.ErrAborted)
	}
	return c.processor.Process(ctx, result.Frame, settings.IsDark)
}

// Snapshot is a unified, read-only view of Controller state for
// external observers (CLI status lines, health probes).
type Snapshot struct {
	StartedAt       time.Time
	Uptime          time.Duration
	Connected       bool
	ExposureState   string
	CoolingState    string
	CoolingTemp     float64
	VideoState      string
	ExposureStats   Statistics
	GateStats       retry.Snapshot
}

func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		StartedAt:     c.startedAt,
		Connected:     c.hw.Connected(),
		ExposureState: c.exposure.State().String(),
		CoolingState:  c.temp.State().String(),
		CoolingTemp:   c.temp.CurrentTemperature(),
		VideoState:    c.video.State().String(),
		ExposureStats: c.exposure.Stats(),
	}
	if !snap.StartedAt.IsZero() {
		snap.Uptime = time.Since(snap.StartedAt)
	}
	if c.gate != nil {
		snap.GateStats = c.gate.Snapshot()
	}
	return snap
}
