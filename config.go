// Package orrery is the top-level SequenceManager facade composing
// MacroEngine, task templates, Sequencer construction, persistence and
// telemetry behind one entry point, mirroring how the teacher's
// engine.Engine composes its pipeline and resource subsystems.
package orrery

import (
	"time"

	"github.com/elementastro/orrery/internal/camera"
	"github.com/elementastro/orrery/internal/macro"
	"github.com/elementastro/orrery/internal/store"
)

// TelemetryConfig toggles which telemetry subsystems are enabled, mirroring
// the teacher's TelemetryOptions.
type TelemetryConfig struct {
	EnableMetrics bool
	EnableEvents  bool
	EnableHealth  bool
	// MetricsBackend selects the metrics provider: "prom" (default), "otel", "noop".
	MetricsBackend string
}

// Config is the public configuration surface for SequenceManager.
type Config struct {
	// Camera wires the single CameraController every built-in task
	// template dispatches exposures/cooling through. Left zero-value to
	// run without a camera (pure scheduling tests, dry runs).
	Camera camera.Config

	// Store configures the sequence persistence layer.
	Store store.FileConfig

	// MacroCacheCapacity bounds the MacroEngine's expansion LRU; 0 uses
	// macro.DefaultCacheCapacity.
	MacroCacheCapacity int

	// TemplateDirectory, if set, is watched for sequence-template JSON
	// files; changes trigger LoadTemplatesFromDirectory.
	TemplateDirectory string

	// DefaultGlobalTimeout applies to every sequence that does not set
	// its own globalTimeout explicitly (0 = none).
	DefaultGlobalTimeout time.Duration

	Telemetry TelemetryConfig
}

// Defaults returns a Config suitable for a single-camera session backed
// by a local file store.
func Defaults() Config {
	return Config{
		Camera: camera.Defaults("default"),
		Store: store.FileConfig{
			Directory:          "./data/sequences",
			CacheCapacity:      64,
			AuditLogPath:       "./data/sequences/audit.log",
			AuditFlushInterval: 50 * time.Millisecond,
		},
		MacroCacheCapacity:   macro.DefaultCacheCapacity,
		DefaultGlobalTimeout: 0,
		Telemetry: TelemetryConfig{
			EnableMetrics:  false,
			EnableEvents:   true,
			EnableHealth:   true,
			MetricsBackend: "prom",
		},
	}
}
