package hardware

import (
	"context"
	"errors"
	"testing"

	orerrors "github.com/elementastro/orrery/errors"
)

func newTestInterface() (*Interface, *SimDriver) {
	drv := NewSimDriver(DeviceInfo{ID: "cam-1", Name: "Simulated Camera", SerialNumber: "SN123"})
	return New(drv), drv
}

func TestConnectRequiresInitialize(t *testing.T) {
	hw, _ := newTestInterface()
	err := hw.Connect(context.Background(), "cam-1")
	if !errors.Is(err, orerrors.ErrSDKNotInitialized) {
		t.Fatalf("expected ErrSDKNotInitialized, got %v", err)
	}
}

func TestConnectDisconnectRoundTrip(t *testing.T) {
	hw, _ := newTestInterface()
	ctx := context.Background()
	if err := hw.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := hw.Connect(ctx, "cam-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !hw.Connected() {
		t.Fatalf("expected connected")
	}
	if err := hw.Disconnect(ctx, "cam-1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if hw.Connected() {
		t.Fatalf("expected disconnected")
	}
}

func TestOnlyOneDeviceOpenAtATime(t *testing.T) {
	drv := NewSimDriver(DeviceInfo{ID: "cam-1"}, DeviceInfo{ID: "cam-2"})
	hw := New(drv)
	ctx := context.Background()
	_ = hw.Initialize(ctx)
	if err := hw.Connect(ctx, "cam-1"); err != nil {
		t.Fatalf("connect cam-1: %v", err)
	}
	err := hw.Connect(ctx, "cam-2")
	if !errors.Is(err, orerrors.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestControlGetSetRequiresConnection(t *testing.T) {
	hw, _ := newTestInterface()
	ctx := context.Background()
	_, err := hw.GetControlValue(ctx, "cam-1", "gain")
	if !errors.Is(err, orerrors.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	_ = hw.Initialize(ctx)
	_ = hw.Connect(ctx, "cam-1")
	if err := hw.SetControlValue(ctx, "cam-1", "gain", 200); err != nil {
		t.Fatalf("setControlValue: %v", err)
	}
	v, err := hw.GetControlValue(ctx, "cam-1", "gain")
	if err != nil {
		t.Fatalf("getControlValue: %v", err)
	}
	if v != 200 {
		t.Fatalf("expected 200, got %v", v)
	}
}

func TestDriverErrorTranslatedToDeviceKind(t *testing.T) {
	drv := NewSimDriver(DeviceInfo{ID: "cam-1"})
	drv.FailOpen["cam-1"] = true
	hw := New(drv)
	ctx := context.Background()
	_ = hw.Initialize(ctx)
	err := hw.Connect(ctx, "cam-1")
	if err == nil {
		t.Fatalf("expected connect to fail")
	}
	if !orerrors.Is(err, orerrors.KindDevice) {
		t.Fatalf("expected KindDevice, got %v", err)
	}
	if hw.LastError() == "" {
		t.Fatalf("expected LastError to be populated")
	}
}

func TestShutdownIsIdempotentOnUninitializedInterface(t *testing.T) {
	hw, _ := newTestInterface()
	if err := hw.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected idempotent shutdown, got %v", err)
	}
}
