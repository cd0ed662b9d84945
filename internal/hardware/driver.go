// Package hardware implements HardwareInterface: a thin, thread-safe
// façade over a vendor camera SDK, abstracted behind the Driver
// interface so production code can swap in a real vendor SDK binding
// while tests use SimDriver.
package hardware

import (
	"context"
	"time"
)

// DeviceInfo describes one enumerable device.
type DeviceInfo struct {
	ID           string
	Name         string
	SerialNumber string
}

// ControlCap describes one controllable parameter's bounds.
type ControlCap struct {
	Name         string
	Min          float64
	Max          float64
	DefaultValue float64
	IsAuto       bool
}

// ROI is a region of interest plus binning.
type ROI struct {
	X, Y, Width, Height int
	BinX, BinY          int
}

// ExposureStatus mirrors the vendor SDK's exposure-status enum.
type ExposureStatus int

const (
	ExposureStatusIdle ExposureStatus = iota
	ExposureStatusWorking
	ExposureStatusSuccess
	ExposureStatusFailed
)

// GuideDirection is an ST4 pulse-guide direction.
type GuideDirection int

const (
	GuideNorth GuideDirection = iota
	GuideSouth
	GuideEast
	GuideWest
)

// Driver abstracts the vendor SDK contract described in spec §6:
// enumerate, open/init/close, control get/set, exposure control,
// image/video retrieval, ROI & binning, ST4 pulse guiding. Every
// method returns a plain Go error; HardwareInterface is responsible
// for translating that into the shared error taxonomy so callers never
// see raw SDK codes.
type Driver interface {
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context, id string) error
	Init(ctx context.Context, id string) error
	Close(ctx context.Context, id string) error

	GetControlCaps(ctx context.Context, id string) ([]ControlCap, error)
	SetControlValue(ctx context.Context, id, control string, value float64) error
	GetControlValue(ctx context.Context, id, control string) (float64, error)
	SetROIFormat(ctx context.Context, id string, roi ROI) error

	StartExposure(ctx context.Context, id string, dark bool) error
	StopExposure(ctx context.Context, id string) error
	GetExposureStatus(ctx context.Context, id string) (ExposureStatus, error)
	GetImageData(ctx context.Context, id string) ([]byte, error)

	StartVideoCapture(ctx context.Context, id string) error
	StopVideoCapture(ctx context.Context, id string) error
	GetVideoData(ctx context.Context, id string, waitMs time.Duration) ([]byte, error)

	PulseGuide(ctx context.Context, id string, dir GuideDirection, durationMs int, on bool) error
	GetSerialNumber(ctx context.Context, id string) (string, error)
	SendSoftTrigger(ctx context.Context, id string) error
	SetTriggerOutput(ctx context.Context, id string, enabled bool) error
	GetSDKVersion() string
}
