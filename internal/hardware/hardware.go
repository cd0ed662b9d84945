package hardware

import (
	"context"
	"sync"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
)

// Interface is the HardwareInterface façade: a thin, thread-safe
// wrapper translating Driver errors into the shared error taxonomy and
// enforcing the spec's scoped-lock regions. At most one device may be
// open per Interface instance.
type Interface struct {
	driver Driver

	sdkMu          sync.Mutex // guards initialize/shutdown
	connMu         sync.Mutex // guards connect/disconnect and the open device id
	capsMu         sync.RWMutex

	initialized bool
	openID      string
	connected   bool

	lastErrMu sync.RWMutex
	lastError string
}

// New wraps driver in a HardwareInterface.
func New(driver Driver) *Interface {
	return &Interface{driver: driver}
}

func (hw *Interface) setLastError(err error) error {
	if err == nil {
		return nil
	}
	hw.lastErrMu.Lock()
	hw.lastError = err.Error()
	hw.lastErrMu.Unlock()
	return err
}

// LastError returns the last SDK-reported error message, or "" if
// none has occurred.
func (hw *Interface) LastError() string {
	hw.lastErrMu.RLock()
	defer hw.lastErrMu.RUnlock()
	return hw.lastError
}

func (hw *Interface) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	hw.setLastError(err)
	return orerrors.New(orerrors.KindDevice, op, err)
}

// Initialize brings up the SDK. Safe to call more than once.
func (hw *Interface) Initialize(ctx context.Context) error {
	hw.sdkMu.Lock()
	defer hw.sdkMu.Unlock()
	if hw.initialized {
		return nil
	}
	hw.initialized = true
	return nil
}

// Shutdown tears down the SDK, disconnecting any open device first.
// Idempotent: safe to call on an interface that was never
// initialized or never connected.
func (hw *Interface) Shutdown(ctx context.Context) error {
	hw.connMu.Lock()
	if hw.connected {
		id := hw.openID
		hw.connMu.Unlock()
		_ = hw.Disconnect(ctx, id)
		hw.connMu.Lock()
	}
	hw.connMu.Unlock()

	hw.sdkMu.Lock()
	defer hw.sdkMu.Unlock()
	hw.initialized = false
	return nil
}

func (hw *Interface) requireInitialized() error {
	hw.sdkMu.Lock()
	defer hw.sdkMu.Unlock()
	if !hw.initialized {
		return orerrors.New(orerrors.KindDevice, "HardwareInterface", orerrors.ErrSDKNotInitialized)
	}
	return nil
}

func (hw *Interface) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	if err := hw.requireInitialized(); err != nil {
		return nil, err
	}
	devices, err := hw.driver.Enumerate(ctx)
	return devices, hw.wrap("HardwareInterface.enumerate", err)
}

// Connect opens and initializes id, failing if another device is
// already open on this Interface.
func (hw *Interface) Connect(ctx context.Context, id string) error {
	if err := hw.requireInitialized(); err != nil {
		return err
	}
	hw.connMu.Lock()
	defer hw.connMu.Unlock()
	if hw.connected && hw.openID != id {
		return orerrors.New(orerrors.KindDevice, "HardwareInterface.connect", orerrors.ErrAlreadyRunning)
	}
	if hw.connected {
		return nil
	}
	if err := hw.driver.Open(ctx, id); err != nil {
		return hw.wrap("HardwareInterface.connect", err)
	}
	if err := hw.driver.Init(ctx, id); err != nil {
		_ = hw.driver.Close(ctx, id)
		return hw.wrap("HardwareInterface.connect", err)
	}
	hw.openID = id
	hw.connected = true
	return nil
}

// Disconnect closes id. Idempotent: calling it when not connected is a
// no-op.
func (hw *Interface) Disconnect(ctx context.Context, id string) error {
	hw.connMu.Lock()
	defer hw.connMu.Unlock()
	if !hw.connected || hw.openID != id {
		return nil
	}
	err := hw.driver.Close(ctx, id)
	hw.connected = false
	hw.openID = ""
	return hw.wrap("HardwareInterface.disconnect", err)
}

func (hw *Interface) Connected() bool {
	hw.connMu.Lock()
	defer hw.connMu.Unlock()
	return hw.connected
}

func (hw *Interface) requireConnected(id string) error {
	hw.connMu.Lock()
	defer hw.connMu.Unlock()
	if !hw.connected || hw.openID != id {
		return orerrors.New(orerrors.KindDevice, "HardwareInterface", orerrors.ErrNotConnected)
	}
	return nil
}

func (hw *Interface) GetControlCaps(ctx context.Context, id string) ([]ControlCap, error) {
	if err := hw.requireConnected(id); err != nil {
		return nil, err
	}
	hw.capsMu.RLock()
	defer hw.capsMu.RUnlock()
	caps, err := hw.driver.GetControlCaps(ctx, id)
	return caps, hw.wrap("HardwareInterface.getControlCaps", err)
}

func (hw *Interface) SetControlValue(ctx context.Context, id, control string, value float64) error {
	if err := hw.requireConnected(id); err != nil {
		return err
	}
	hw.capsMu.Lock()
	defer hw.capsMu.Unlock()
	return hw.wrap("HardwareInterface.setControlValue", hw.driver.SetControlValue(ctx, id, control, value))
}

func (hw *Interface) GetControlValue(ctx context.Context, id, control string) (float64, error) {
	if err := hw.requireConnected(id); err != nil {
		return 0, err
	}
	hw.capsMu.RLock()
	defer hw.capsMu.RUnlock()
	v, err := hw.driver.GetControlValue(ctx, id, control)
	return v, hw.wrap("HardwareInterface.getControlValue", err)
}

func (hw *Interface) SetROIFormat(ctx context.Context, id string, roi ROI) error {
	if err := hw.requireConnected(id); err != nil {
		return err
	}
	hw.capsMu.Lock()
	defer hw.capsMu.Unlock()
	return hw.wrap("HardwareInterface.setROIFormat", hw.driver.SetROIFormat(ctx, id, roi))
}

func (hw *Interface) StartExposure(ctx context.Context, id string, dark bool) error {
	if err := hw.requireConnected(id); err != nil {
		return err
	}
	return hw.wrap("HardwareInterface.startExposure", hw.driver.StartExposure(ctx, id, dark))
}

func (hw *Interface) StopExposure(ctx context.Context, id string) error {
	if err := hw.requireConnected(id); err != nil {
		return err
	}
	return hw.wrap("HardwareInterface.stopExposure", hw.driver.StopExposure(ctx, id))
}

func (hw *Interface) GetExposureStatus(ctx context.Context, id string) (ExposureStatus, error) {
	if err := hw.requireConnected(id); err != nil {
		return ExposureStatusFailed, err
	}
	s, err := hw.driver.GetExposureStatus(ctx, id)
	return s, hw.wrap("HardwareInterface.getExposureStatus", err)
}

func (hw *Interface) GetImageData(ctx context.Context, id string) ([]byte, error) {
	if err := hw.requireConnected(id); err != nil {
		return nil, err
	}
	data, err := hw.driver.GetImageData(ctx, id)
	return data, hw.wrap("HardwareInterface.getImageData", err)
}

func (hw *Interface) StartVideoCapture(ctx context.Context, id string) error {
	if err := hw.requireConnected(id); err != nil {
		return err
	}
	return hw.wrap("HardwareInterface.startVideoCapture", hw.driver.StartVideoCapture(ctx, id))
}

func (hw *Interface) StopVideoCapture(ctx context.Context, id string) error {
	if err := hw.requireConnected(id); err != nil {
		return err
	}
	return hw.wrap("HardwareInterface.stopVideoCapture", hw.driver.StopVideoCapture(ctx, id))
}

func (hw *Interface) GetVideoData(ctx context.Context, id string, waitMs time.Duration) ([]byte, error) {
	if err := hw.requireConnected(id); err != nil {
		return nil, err
	}
	data, err := hw.driver.GetVideoData(ctx, id, waitMs)
	return data, hw.wrap("HardwareInterface.getVideoData", err)
}

func (hw *Interface) PulseGuide(ctx context.Context, id string, dir GuideDirection, durationMs int, on bool) error {
	if err := hw.requireConnected(id); err != nil {
		return err
	}
	return hw.wrap("HardwareInterface.pulseGuide", hw.driver.PulseGuide(ctx, id, dir, durationMs, on))
}

func (hw *Interface) GetSerialNumber(ctx context.Context, id string) (string, error) {
	if err := hw.requireConnected(id); err != nil {
		return "", err
	}
	s, err := hw.driver.GetSerialNumber(ctx, id)
	return s, hw.wrap("HardwareInterface.getSerialNumber", err)
}

func (hw *Interface) SendSoftTrigger(ctx context.Context, id string) error {
	if err := hw.requireConnected(id); err != nil {
		return err
	}
	return hw.wrap("HardwareInterface.sendSoftTrigger", hw.driver.SendSoftTrigger(ctx, id))
}

func (hw *Interface) SetTriggerOutput(ctx context.Context, id string, enabled bool) error {
	if err := hw.requireConnected(id); err != nil {
		return err
	}
	return hw.wrap("HardwareInterface.setTriggerOutput", hw.driver.SetTriggerOutput(ctx, id, enabled))
}

func (hw *Interface) GetSDKVersion() string {
	return hw.driver.GetSDKVersion()
}
