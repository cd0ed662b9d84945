package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimDriver is an in-memory Driver used by tests and by the CLI's
// demo mode. It simulates one or more devices with configurable
// control capabilities and a synthetic exposure/video completion
// delay.
type SimDriver struct {
	mu       sync.Mutex
	devices  map[string]DeviceInfo
	opened   map[string]bool
	controls map[string]map[string]float64
	roi      map[string]ROI
	exposing map[string]bool

	// ExposureDelay is how long a simulated exposure takes to report
	// Success after StartExposure; 0 completes immediately.
	ExposureDelay time.Duration
	// FailOpen, when set, makes Open fail for this device id — used to
	// exercise HardwareInterface's error translation in tests.
	FailOpen map[string]bool
	// FailExposures, if > 0, makes the first FailExposures StartExposure
	// attempts per device report ExposureStatusFailed instead of
	// Success — used to exercise ExposureManager's retry loop.
	FailExposures int

	exposureAttempts map[string]int
}

// NewSimDriver constructs a SimDriver pre-populated with devices.
func NewSimDriver(devices ...DeviceInfo) *SimDriver {
	d := &SimDriver{
		devices:          make(map[string]DeviceInfo),
		opened:           make(map[string]bool),
		controls:         make(map[string]map[string]float64),
		roi:              make(map[string]ROI),
		exposing:         make(map[string]bool),
		FailOpen:         make(map[string]bool),
		exposureAttempts: make(map[string]int),
	}
	for _, dev := range devices {
		d.devices[dev.ID] = dev
		d.controls[dev.ID] = map[string]float64{"gain": 100, "offset": 10, "exposure": 1, "temperature_target": -10, "temperature": 20, "cooler_power": 0}
	}
	return d
}

func (d *SimDriver) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeviceInfo, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev)
	}
	return out, nil
}

func (d *SimDriver) Open(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOpen[id] {
		return fmt.Errorf("simulated open failure for %s", id)
	}
	if _, ok := d.devices[id]; !ok {
		return fmt.Errorf("unknown device %q", id)
	}
	d.opened[id] = true
	return nil
}

func (d *SimDriver) Init(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened[id] {
		return fmt.Errorf("device %q not open", id)
	}
	return nil
}

func (d *SimDriver) Close(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.opened, id)
	return nil
}

func (d *SimDriver) GetControlCaps(ctx context.Context, id string) ([]ControlCap, error) {
	return []ControlCap{
		{Name: "gain", Min: 0, Max: 600, DefaultValue: 100},
		{Name: "offset", Min: 0, Max: 255, DefaultValue: 10},
		{Name: "exposure", Min: 0.001, Max: 3600, DefaultValue: 1},
		{Name: "temperature_target", Min: -40, Max: 20, DefaultValue: -10},
	}, nil
}

func (d *SimDriver) SetControlValue(ctx context.Context, id, control string, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.controls[id] == nil {
		d.controls[id] = map[string]float64{}
	}
	d.controls[id][control] = value
	return nil
}

func (d *SimDriver) GetControlValue(ctx context.Context, id, control string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if control == "temperature" {
		d.stepTemperatureLocked(id)
	}
	v, ok := d.controls[id][control]
	if !ok {
		return 0, fmt.Errorf("unknown control %q", control)
	}
	return v, nil
}

// stepTemperatureLocked nudges the simulated sensor temperature toward
// target_temperature proportionally to cooler_power, so a polling
// TemperatureController observes realistic convergence instead of a
// static reading. Caller holds d.mu.
func (d *SimDriver) stepTemperatureLocked(id string) {
	ctrl := d.controls[id]
	if ctrl == nil {
		return
	}
	target := ctrl["temperature_target"]
	power := ctrl["cooler_power"]
	current, ok := ctrl["temperature"]
	if !ok {
		current = 20
	}
	rate := (power / 100) * 0.8
	if current > target {
		current -= rate
		if current < target {
			current = target
		}
	} else if current < target {
		current += 0.1
	}
	ctrl["temperature"] = current
}

func (d *SimDriver) SetROIFormat(ctx context.Context, id string, roi ROI) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roi[id] = roi
	return nil
}

func (d *SimDriver) StartExposure(ctx context.Context, id string, dark bool) error {
	d.mu.Lock()
	d.exposing[id] = true
	d.exposureAttempts[id]++
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) StopExposure(ctx context.Context, id string) error {
	d.mu.Lock()
	d.exposing[id] = false
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) GetExposureStatus(ctx context.Context, id string) (ExposureStatus, error) {
	d.mu.Lock()
	exposing := d.exposing[id]
	attempt := d.exposureAttempts[id]
	d.mu.Unlock()
	if !exposing {
		return ExposureStatusSuccess, nil
	}
	if d.ExposureDelay > 0 {
		select {
		case <-time.After(d.ExposureDelay):
		case <-ctx.Done():
			return ExposureStatusFailed, ctx.Err()
		}
	}
	d.mu.Lock()
	d.exposing[id] = false
	d.mu.Unlock()
	if attempt <= d.FailExposures {
		return ExposureStatusFailed, nil
	}
	return ExposureStatusSuccess, nil
}

func (d *SimDriver) GetImageData(ctx context.Context, id string) ([]byte, error) {
	d.mu.Lock()
	roi := d.roi[id]
	d.mu.Unlock()
	size := roi.Width * roi.Height
	if size <= 0 {
		size = 64
	}
	return make([]byte, size), nil
}

func (d *SimDriver) StartVideoCapture(ctx context.Context, id string) error { return nil }
func (d *SimDriver) StopVideoCapture(ctx context.Context, id string) error  { return nil }

func (d *SimDriver) GetVideoData(ctx context.Context, id string, waitMs time.Duration) ([]byte, error) {
	return make([]byte, 64), nil
}

func (d *SimDriver) PulseGuide(ctx context.Context, id string, dir GuideDirection, durationMs int, on bool) error {
	return nil
}

func (d *SimDriver) GetSerialNumber(ctx context.Context, id string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[id].SerialNumber, nil
}

func (d *SimDriver) SendSoftTrigger(ctx context.Context, id string) error       { return nil }
func (d *SimDriver) SetTriggerOutput(ctx context.Context, id string, enabled bool) error {
	return nil
}
func (d *SimDriver) GetSDKVersion() string { return "simdriver-1.0" }
