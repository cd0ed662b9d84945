package camera

import (
	"context"
	"math"
	"sync"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/hardware"
)

// CoolingState is a TemperatureController's lifecycle state.
type CoolingState int

const (
	CoolingOff CoolingState = iota
	CoolingStarting
	CoolingCooling
	CoolingStabilizing
	CoolingStable
	CoolingStopping
	CoolingError
)

func (s CoolingState) String() string {
	switch s {
	case CoolingOff:
		return "Off"
	case CoolingStarting:
		return "Starting"
	case CoolingCooling:
		return "Cooling"
	case CoolingStabilizing:
		return "Stabilizing"
	case CoolingStable:
		return "Stable"
	case CoolingStopping:
		return "Stopping"
	case CoolingError:
		return "Error"
	default:
		return "Unknown"
	}
}

// CoolingSettings configures a cooling run.
type CoolingSettings struct {
	TargetTemperature float64
	MaxCoolerPower    float64
	Tolerance         float64
	StabilizationTime time.Duration
	Timeout           time.Duration
	Kp, Ki, Kd        float64
	MonitoringInterval time.Duration
	HistoryDuration    time.Duration
}

// DefaultCoolingSettings mirrors the reference PID defaults.
func DefaultCoolingSettings(target float64) CoolingSettings {
	return CoolingSettings{
		TargetTemperature:  target,
		MaxCoolerPower:     100,
		Tolerance:          0.5,
		StabilizationTime:  30 * time.Second,
		Timeout:            10 * time.Minute,
		Kp:                 1.0,
		Ki:                 0.1,
		Kd:                 0.05,
		MonitoringInterval: time.Second,
		HistoryDuration:    5 * time.Minute,
	}
}

// TemperatureSample is one monitoring-worker reading.
type TemperatureSample struct {
	Temperature float64
	CoolerPower float64
	At          time.Time
}

// TemperatureController drives the thermoelectric cooler to and holds
// a target temperature using a discrete PID loop.
type TemperatureController struct {
	hw       *hardware.Interface
	deviceID string

	mu       sync.RWMutex
	state    CoolingState
	settings CoolingSettings
	current  float64
	power    float64
	history  []TemperatureSample
	stableSince time.Time
	startedAt   time.Time

	pidMu     sync.Mutex
	integral  float64
	prevErr   float64
	haveErr   bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	cbMu          sync.Mutex
	onTemperature func(TemperatureSample)
	onState       func(CoolingState, string)
}

// NewTemperatureController constructs a controller for deviceID, Off.
func NewTemperatureController(hw *hardware.Interface, deviceID string) *TemperatureController {
	return &TemperatureController{hw: hw, deviceID: deviceID, state: CoolingOff}
}

func (tc *TemperatureController) OnTemperature(fn func(TemperatureSample)) { tc.cbMu.Lock(); tc.onTemperature = fn; tc.cbMu.Unlock() }
func (tc *TemperatureController) OnState(fn func(CoolingState, string))    { tc.cbMu.Lock(); tc.onState = fn; tc.cbMu.Unlock() }

func (tc *TemperatureController) notifyState(s CoolingState, msg string) {
	tc.cbMu.Lock()
	fn := tc.onState
	tc.cbMu.Unlock()
	if fn != nil {
		fn(s, msg)
	}
}

func (tc *TemperatureController) notifyTemperature(sample TemperatureSample) {
	tc.cbMu.Lock()
	fn := tc.onTemperature
	tc.cbMu.Unlock()
	if fn != nil {
		fn(sample)
	}
}

// StartCooling enters Starting then Cooling. Fails if state != Off.
func (tc *TemperatureController) StartCooling(ctx context.Context, settings CoolingSettings) error {
	tc.mu.Lock()
	if tc.state != CoolingOff {
		tc.mu.Unlock()
		return orerrors.New(orerrors.KindDevice, "TemperatureController.startCooling", orerrors.ErrNotIdle)
	}
	if settings.MonitoringInterval <= 0 {
		settings.MonitoringInterval = time.Second
	}
	if settings.HistoryDuration <= 0 {
		settings.HistoryDuration = 5 * time.Minute
	}
	tc.settings = settings
	tc.state = CoolingStarting
	tc.startedAt = time.Now()
	tc.stopCh = make(chan struct{})
	tc.mu.Unlock()

	tc.pidMu.Lock()
	tc.integral, tc.prevErr, tc.haveErr = 0, 0, false
	tc.pidMu.Unlock()

	tc.wg.Add(2)
	go tc.monitoringWorker(ctx)
	go tc.controlWorker(ctx)

	tc.mu.Lock()
	if tc.state == CoolingStarting {
		tc.state = CoolingCooling
	}
	tc.mu.Unlock()
	tc.notifyState(CoolingCooling, "")
	return nil
}

// StopCooling disables the cooler and releases worker threads,
// zeroing power before exiting.
func (tc *TemperatureController) StopCooling() {
	tc.mu.Lock()
	if tc.state == CoolingOff {
		tc.mu.Unlock()
		return
	}
	tc.state = CoolingStopping
	stop := tc.stopCh
	tc.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	tc.wg.Wait()

	if tc.hw != nil {
		_ = tc.hw.SetControlValue(context.Background(), tc.deviceID, "cooler_power", 0)
	}

	tc.mu.Lock()
	tc.power = 0
	tc.state = CoolingOff
	tc.mu.Unlock()
	tc.notifyState(CoolingOff, "")
}

func (tc *TemperatureController) monitoringWorker(ctx context.Context) {
	defer tc.wg.Done()
	tc.mu.RLock()
	interval := tc.settings.MonitoringInterval
	stop := tc.stopCh
	tc.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			tc.sampleOnce()
			tc.checkTimeout()
		}
	}
}

func (tc *TemperatureController) sampleOnce() {
	temp, err := tc.readTemperature()
	if err != nil {
		tc.mu.Lock()
		tc.state = CoolingError
		tc.mu.Unlock()
		tc.notifyState(CoolingError, err.Error())
		return
	}
	tc.mu.Lock()
	tc.current = temp
	now := time.Now()
	tc.history = append(tc.history, TemperatureSample{Temperature: temp, CoolerPower: tc.power, At: now})
	cutoff := now.Add(-tc.settings.HistoryDuration)
	i := 0
	for ; i < len(tc.history); i++ {
		if tc.history[i].At.After(cutoff) {
			break
		}
	}
	tc.history = tc.history[i:]
	sample := TemperatureSample{Temperature: temp, CoolerPower: tc.power, At: now}
	tc.mu.Unlock()
	tc.notifyTemperature(sample)
	tc.checkStability()
}

func (tc *TemperatureController) readTemperature() (float64, error) {
	if tc.hw == nil {
		return 0, nil
	}
	return tc.hw.GetControlValue(context.Background(), tc.deviceID, "temperature")
}

func (tc *TemperatureController) checkStability() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.state != CoolingCooling && tc.state != CoolingStabilizing && tc.state != CoolingStable {
		return
	}
	withinTolerance := math.Abs(tc.current-tc.settings.TargetTemperature) <= tc.settings.Tolerance
	now := time.Now()
	switch tc.state {
	case CoolingCooling:
		if withinTolerance {
			tc.state = CoolingStabilizing
			tc.stableSince = now
		}
	case CoolingStabilizing:
		if !withinTolerance {
			tc.state = CoolingCooling
		} else if now.Sub(tc.stableSince) >= tc.settings.StabilizationTime {
			tc.state = CoolingStable
		}
	case CoolingStable:
		if !withinTolerance {
			tc.state = CoolingCooling
		}
	}
}

func (tc *TemperatureController) checkTimeout() {
	tc.mu.RLock()
	timeout := tc.settings.Timeout
	started := tc.startedAt
	state := tc.state
	tc.mu.RUnlock()
	if timeout <= 0 || state == CoolingStable {
		return
	}
	if time.Since(started) > timeout {
		tc.mu.Lock()
		tc.state = CoolingError
		tc.mu.Unlock()
		tc.notifyState(CoolingError, "cooling timeout exceeded")
	}
}

func (tc *TemperatureController) controlWorker(ctx context.Context) {
	defer tc.wg.Done()
	tc.mu.RLock()
	stop := tc.stopCh
	controlInterval := tc.settings.MonitoringInterval
	tc.mu.RUnlock()
	if controlInterval <= 0 {
		controlInterval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(controlInterval)
	defer ticker.Stop()
	lastTick := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(lastTick)
			lastTick = now
			tc.applyControl(dt)
		}
	}
}

func (tc *TemperatureController) applyControl(dt time.Duration) {
	tc.mu.RLock()
	current := tc.current
	target := tc.settings.TargetTemperature
	maxPower := tc.settings.MaxCoolerPower
	kp, ki, kd := tc.settings.Kp, tc.settings.Ki, tc.settings.Kd
	tc.mu.RUnlock()

	// e is positive when the sensor reads warmer than target, which is
	// when the cooler needs to push more power.
	e := current - target
	dtSeconds := dt.Seconds()
	if dtSeconds <= 0 {
		dtSeconds = 0.5
	}

	tc.pidMu.Lock()
	tc.integral += e * dtSeconds
	const windupLimit = 50.0
	if tc.integral > windupLimit {
		tc.integral = windupLimit
	} else if tc.integral < -windupLimit {
		tc.integral = -windupLimit
	}
	derivative := 0.0
	if tc.haveErr {
		derivative = (e - tc.prevErr) / dtSeconds
	}
	tc.prevErr = e
	tc.haveErr = true
	u := kp*e + ki*tc.integral + kd*derivative
	tc.pidMu.Unlock()

	if maxPower <= 0 {
		maxPower = 100
	}
	if u < 0 {
		u = 0
	}
	if u > maxPower {
		u = maxPower
	}

	tc.mu.Lock()
	tc.power = u
	tc.mu.Unlock()

	if tc.hw != nil {
		_ = tc.hw.SetControlValue(context.Background(), tc.deviceID, "cooler_power", u)
	}
}

func (tc *TemperatureController) State() CoolingState {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.state
}

func (tc *TemperatureController) CurrentTemperature() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.current
}

func (tc *TemperatureController) HasReachedTarget() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.state == CoolingStable
}

// GetTemperatureStability returns the standard deviation of samples
// within the last 5 minutes.
func (tc *TemperatureController) GetTemperatureStability() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	cutoff := time.Now().Add(-5 * time.Minute)
	var values []float64
	for _, s := range tc.history {
		if s.At.After(cutoff) {
			values = append(values, s.Temperature)
		}
	}
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

func (tc *TemperatureController) GetTemperatureHistory() []TemperatureSample {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]TemperatureSample, len(tc.history))
	copy(out, tc.history)
	return out
}
