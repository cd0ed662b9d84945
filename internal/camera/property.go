package camera

import (
	"context"

	"github.com/elementastro/orrery/internal/hardware"
)

// Standard control names understood by PropertyManager. Devices that
// expose additional vendor-specific controls remain reachable via
// HardwareInterface directly.
const (
	PropertyGain               = "gain"
	PropertyOffset             = "offset"
	PropertyExposure           = "exposure"
	PropertyTargetTemperature  = "temperature_target"
	PropertyUSBBandwidth       = "usb_bandwidth"
)

// PropertyManager exposes typed, thread-safe get/set access to a
// device's exposure control values over a HardwareInterface. It adds
// no state of its own: every call is a direct pass-through, so
// SetGain(GetGain()) is always a no-op, as spec requires.
type PropertyManager struct {
	hw       *hardware.Interface
	deviceID string
}

func NewPropertyManager(hw *hardware.Interface, deviceID string) *PropertyManager {
	return &PropertyManager{hw: hw, deviceID: deviceID}
}

func (p *PropertyManager) get(ctx context.Context, name string) (float64, error) {
	return p.hw.GetControlValue(ctx, p.deviceID, name)
}

func (p *PropertyManager) set(ctx context.Context, name string, value float64) error {
	return p.hw.SetControlValue(ctx, p.deviceID, name, value)
}

func (p *PropertyManager) GetGain(ctx context.Context) (float64, error) { return p.get(ctx, PropertyGain) }
func (p *PropertyManager) SetGain(ctx context.Context, v float64) error { return p.set(ctx, PropertyGain, v) }

func (p *PropertyManager) GetOffset(ctx context.Context) (float64, error) { return p.get(ctx, PropertyOffset) }
func (p *PropertyManager) SetOffset(ctx context.Context, v float64) error { return p.set(ctx, PropertyOffset, v) }

func (p *PropertyManager) GetExposure(ctx context.Context) (float64, error) { return p.get(ctx, PropertyExposure) }
func (p *PropertyManager) SetExposure(ctx context.Context, v float64) error { return p.set(ctx, PropertyExposure, v) }

func (p *PropertyManager) GetTargetTemperature(ctx context.Context) (float64, error) {
	return p.get(ctx, PropertyTargetTemperature)
}
func (p *PropertyManager) SetTargetTemperature(ctx context.Context, v float64) error {
	return p.set(ctx, PropertyTargetTemperature, v)
}

func (p *PropertyManager) GetUSBBandwidth(ctx context.Context) (float64, error) {
	return p.get(ctx, PropertyUSBBandwidth)
}
func (p *PropertyManager) SetUSBBandwidth(ctx context.Context, v float64) error {
	return p.set(ctx, PropertyUSBBandwidth, v)
}

// Caps returns the device's control capability table (min/max/default
// per named control), used by callers to validate a value before
// calling one of the Set* methods.
func (p *PropertyManager) Caps(ctx context.Context) ([]hardware.ControlCap, error) {
	return p.hw.GetControlCaps(ctx, p.deviceID)
}
