package orrery

import (
	"context"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/camera"
	"github.com/elementastro/orrery/internal/task"
)

// builtInTaskTemplates returns the task type -> factory table wired
// through RegisterBuiltInTaskTemplates. Each factory closes over the
// SequenceManager so it always dispatches against the one configured
// CameraController, the way the teacher's AssetProcessingHook closes
// over the owning Engine rather than taking one as a parameter.
func builtInTaskTemplates() map[string]TaskTemplateFunc {
	return map[string]TaskTemplateFunc{
		"exposure": exposureTaskTemplate,
		"cooldown": cooldownTaskTemplate,
		"cooling":  coolingTaskTemplate,
	}
}

func exposureTaskTemplate(sm *SequenceManager) task.Action {
	return func(ctx context.Context, params task.Params) error {
		if sm.camera == nil {
			return orerrors.New(orerrors.KindResource, "exposure", orerrors.ErrNotConnected)
		}
		settings := camera.ExposureSettings{
			Duration: paramDuration(params, "durationSeconds", 1*time.Second),
			Width:    paramInt(params, "width", 0),
			Height:   paramInt(params, "height", 0),
			Binning:  paramInt(params, "binning", 1),
			Format:   camera.Format(paramString(params, "format", string(camera.FormatRAW16))),
			IsDark:   paramBool(params, "dark", false),
		}
		_, err := sm.camera.CaptureAndProcess(ctx, settings)
		return err
	}
}

func cooldownTaskTemplate(sm *SequenceManager) task.Action {
	return func(ctx context.Context, params task.Params) error {
		d := paramDuration(params, "seconds", 0)
		if d <= 0 {
			return nil
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func coolingTaskTemplate(sm *SequenceManager) task.Action {
	return func(ctx context.Context, params task.Params) error {
		if sm.camera == nil {
			return orerrors.New(orerrors.KindResource, "cooling", orerrors.ErrNotConnected)
		}
		settings := camera.DefaultCoolingSettings(paramFloat(params, "targetTemperature", -10))
		if err := sm.camera.Temperature().StartCooling(ctx, settings); err != nil {
			return err
		}
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			if sm.camera.Temperature().HasReachedTarget() {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func paramFloat(p task.Params, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func paramInt(p task.Params, key string, def int) int {
	if v, ok := p[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return def
}

func paramDuration(p task.Params, key string, def time.Duration) time.Duration {
	if v, ok := p[key]; ok {
		if f, ok := v.(float64); ok {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}

func paramString(p task.Params, key, def string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func paramBool(p task.Params, key string, def bool) bool {
	if v, ok := p[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
