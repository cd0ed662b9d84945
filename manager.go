// Package orrery composes the macro engine, task-template registry,
// camera controller, persistence layer and telemetry surface behind one
// SequenceManager facade, the way the teacher's engine.Engine composes
// its pipeline and resource subsystems behind one entry point.
package orrery

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/camera"
	"github.com/elementastro/orrery/internal/hardware"
	"github.com/elementastro/orrery/internal/macro"
	"github.com/elementastro/orrery/internal/sequencer"
	"github.com/elementastro/orrery/internal/store"
	"github.com/elementastro/orrery/internal/telemetry/events"
	"github.com/elementastro/orrery/internal/telemetry/health"
	"github.com/elementastro/orrery/internal/telemetry/logging"
	"github.com/elementastro/orrery/internal/telemetry/metrics"
	"github.com/elementastro/orrery/internal/telemetry/policy"
)

// EventObserver receives every event published on a SequenceManager's
// bus, bridged from the internal events.Bus subscription the manager
// keeps open for its own lifetime.
type EventObserver func(events.Event)

// sequenceEntry is a live sequence plus the document it was built from,
// kept so saveToDatabase can serialize without walking Sequencer/Target
// internals back into a document shape.
type sequenceEntry struct {
	seq *sequencer.Sequencer
	doc SequenceDoc
}

// SequenceManager is the public entry point: one per imaging session,
// owning the camera, the macro engine, the task-template registry, the
// sequence store, and every live Sequencer built from a document.
type SequenceManager struct {
	cfg Config

	bus      events.Bus
	camera   *camera.Controller
	macros   *macro.Engine
	provider metrics.Provider

	templates *templateRegistry
	store     store.SequenceStore

	healthEval *health.Evaluator
	telPolicy  atomic.Pointer[policy.TelemetryPolicy]
	log        logging.Logger

	obsMu     sync.RWMutex
	observers []EventObserver
	obsSub    events.Subscription
	obsDone   chan struct{}

	mu        sync.RWMutex
	sequences map[string]*sequenceEntry
}

// New constructs a SequenceManager. driver is the hardware SDK binding
// for the configured camera; nil defaults to a deterministic
// hardware.SimDriver so a manager can run without real hardware attached.
func New(cfg Config, driver hardware.Driver) (*SequenceManager, error) {
	backend := cfg.Telemetry.MetricsBackend
	if !cfg.Telemetry.EnableMetrics {
		backend = ""
	}
	provider := metrics.New(backend, 0)
	bus := events.NewBus(provider)

	if driver == nil {
		driver = hardware.NewSimDriver(hardware.DeviceInfo{ID: cfg.Camera.DeviceID, Name: cfg.Camera.DeviceID})
	}
	cam := camera.New(cfg.Camera, driver, bus, provider)

	fs, err := store.NewFileStore(cfg.Store)
	if err != nil {
		return nil, orerrors.New(orerrors.KindResource, "SequenceManager.New", err)
	}

	sm := &SequenceManager{
		cfg:        cfg,
		bus:        bus,
		camera:     cam,
		macros:     macro.New(cfg.MacroCacheCapacity),
		provider:   provider,
		templates:  newTemplateRegistry(),
		store:      fs,
		healthEval: health.NewEvaluator(2 * time.Second),
		sequences:  make(map[string]*sequenceEntry),
		log:        logging.New(nil),
	}
	sm.telPolicy.Store(policyPtr(policy.Default().Normalize()))
	sm.RegisterBuiltInTaskTemplates()
	sm.healthEval.Register(health.ProbeFunc(sm.cameraProbe))

	if cfg.TemplateDirectory != "" {
		if _, err := sm.LoadTemplatesFromDirectory(cfg.TemplateDirectory); err != nil {
			return nil, err
		}
	}

	if cfg.Telemetry.EnableEvents {
		sub, err := bus.Subscribe(256)
		if err != nil {
			return nil, orerrors.New(orerrors.KindResource, "SequenceManager.New", err)
		}
		sm.obsSub = sub
		sm.obsDone = make(chan struct{})
		go sm.dispatchEvents(sub)
	}

	return sm, nil
}

func policyPtr(p policy.TelemetryPolicy) *policy.TelemetryPolicy { return &p }

func (sm *SequenceManager) cameraProbe(ctx context.Context) health.ProbeResult {
	if sm.camera == nil {
		return health.Unknown("camera", "no camera configured")
	}
	snap := sm.camera.Snapshot()
	if !snap.Connected {
		return health.Degraded("camera", "not connected")
	}
	return health.Healthy("camera")
}

func (sm *SequenceManager) dispatchEvents(sub events.Subscription) {
	defer close(sm.obsDone)
	for ev := range sub.C() {
		sm.obsMu.RLock()
		obs := append([]EventObserver{}, sm.observers...)
		sm.obsMu.RUnlock()
		for _, fn := range obs {
			fn(ev)
		}
	}
}

// RegisterEventObserver adds fn to the set notified of every event this
// manager's bus publishes (device state changes, sequence lifecycle,
// task lifecycle). Safe for concurrent use.
func (sm *SequenceManager) RegisterEventObserver(fn EventObserver) {
	if fn == nil {
		return
	}
	sm.obsMu.Lock()
	sm.observers = append(sm.observers, fn)
	sm.obsMu.Unlock()
}

// Policy returns the currently active telemetry policy.
func (sm *SequenceManager) Policy() policy.TelemetryPolicy {
	return *sm.telPolicy.Load()
}

// UpdateTelemetryPolicy atomically swaps in a new, normalized policy.
func (sm *SequenceManager) UpdateTelemetryPolicy(p policy.TelemetryPolicy) {
	sm.telPolicy.Store(policyPtr(p.Normalize()))
}

// HealthSnapshot rolls up every registered probe (camera connectivity,
// plus any caller-registered probes) into one worst-of-N status.
func (sm *SequenceManager) HealthSnapshot(ctx context.Context) health.Snapshot {
	return sm.healthEval.Evaluate(ctx)
}

// RegisterHealthProbe adds an additional probe to the rollup HealthSnapshot
// reports, e.g. a caller's own resource-availability check.
func (sm *SequenceManager) RegisterHealthProbe(p health.Probe) {
	sm.healthEval.Register(p)
}

// Camera exposes the single CameraController this manager dispatches
// exposure/cooling task templates against, for callers that want to
// start/stop it directly around a session.
func (sm *SequenceManager) Camera() *camera.Controller { return sm.camera }

// MetricsHandler returns the Prometheus scrape handler when
// Config.Telemetry.MetricsBackend is "prom", and false otherwise so
// callers (cmd/orrery's -metrics server) can fall back to a plain
// liveness line for "otel" or a disabled backend.
func (sm *SequenceManager) MetricsHandler() (http.Handler, bool) {
	p, ok := sm.provider.(*metrics.PrometheusProvider)
	if !ok {
		return nil, false
	}
	return p.MetricsHandler(), true
}

// Close stops the event dispatch loop and closes the backing store.
// It does not stop the camera or any running sequence; callers own that
// lifecycle explicitly via Camera().Stop and stopExecution.
func (sm *SequenceManager) Close() error {
	if sm.obsSub != nil {
		_ = sm.bus.Unsubscribe(sm.obsSub)
		<-sm.obsDone
	}
	return sm.store.Close()
}

// CreateSequence starts a new, empty sequence under name.
func (sm *SequenceManager) CreateSequence(name string) (*sequencer.Sequencer, error) {
	return sm.register(SequenceDoc{Name: name})
}

// CreateSequenceFromJson builds and registers a sequence from a raw
// document. When validate is true the document is checked against
// validateSequenceJson before being built.
func (sm *SequenceManager) CreateSequenceFromJson(doc []byte, validate bool) (*sequencer.Sequencer, error) {
	if validate {
		if err := validateSequenceJson(doc); err != nil {
			return nil, err
		}
	}
	var sd SequenceDoc
	if err := json.Unmarshal(doc, &sd); err != nil {
		return nil, orerrors.New(orerrors.KindValidation, "SequenceManager.createSequenceFromJson", err)
	}
	return sm.register(sd)
}

// LoadSequenceFromFile reads path and delegates to CreateSequenceFromJson.
func (sm *SequenceManager) LoadSequenceFromFile(path string, validate bool) (*sequencer.Sequencer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, orerrors.New(orerrors.KindResource, "SequenceManager.loadSequenceFromFile", err)
	}
	return sm.CreateSequenceFromJson(data, validate)
}

// ValidateSequenceFile is the file-path counterpart of validateSequenceJson.
func ValidateSequenceFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return orerrors.New(orerrors.KindResource, "SequenceManager.validateSequenceFile", err)
	}
	return validateSequenceJson(data)
}

// CreateSequenceFromTemplate expands a registered sequence template's
// ${paramName} placeholders against params through the shared macro
// engine, then builds and registers the resulting document. Every name
// in the template's declared parameter list must be present in params.
func (sm *SequenceManager) CreateSequenceFromTemplate(templateName string, params map[string]string) (*sequencer.Sequencer, error) {
	sm.templates.mu.RLock()
	tmpl, ok := sm.templates.sequences[templateName]
	sm.templates.mu.RUnlock()
	if !ok {
		return nil, orerrors.New(orerrors.KindValidation, "SequenceManager.createSequenceFromTemplate", orerrors.ErrTemplateNotFound)
	}
	for _, p := range tmpl.Template.Parameters {
		if _, ok := params[p]; !ok {
			return nil, orerrors.New(orerrors.KindValidation, "SequenceManager.createSequenceFromTemplate", orerrors.ErrInvalidMacroArgs)
		}
	}

	raw, err := json.Marshal(tmpl.SequenceDoc)
	if err != nil {
		return nil, orerrors.New(orerrors.KindValidation, "SequenceManager.createSequenceFromTemplate", err)
	}

	restore := sm.scopeParamsAsMacros(params)
	expanded, err := sm.macros.ProcessJson(raw)
	restore()
	if err != nil {
		return nil, err
	}
	return sm.CreateSequenceFromJson(expanded, false)
}

// scopeParamsAsMacros registers each template parameter as a literal
// macro for the duration of one expansion call, then restores whatever
// was previously registered under those names (mirroring the save and
// restore ProcessJsonWithJsonMacros performs for its own scoped tokens).
func (sm *SequenceManager) scopeParamsAsMacros(params map[string]string) func() {
	for name, value := range params {
		_ = sm.macros.AddMacro(name, value)
	}
	return func() {
		for name := range params {
			_ = sm.macros.RemoveMacro(name)
		}
	}
}

func (sm *SequenceManager) register(doc SequenceDoc) (*sequencer.Sequencer, error) {
	seq, err := sm.buildSequencer(doc)
	if err != nil {
		return nil, err
	}
	doc.UUID = seq.UUID

	sm.mu.Lock()
	if _, exists := sm.sequences[seq.UUID]; exists {
		sm.mu.Unlock()
		return nil, orerrors.New(orerrors.KindValidation, "SequenceManager.register", orerrors.ErrAlreadyExists)
	}
	sm.sequences[seq.UUID] = &sequenceEntry{seq: seq, doc: doc}
	sm.mu.Unlock()
	sm.log.InfoCtx(context.Background(), "sequence registered", "uuid", seq.UUID, "name", seq.Name, "targets", len(doc.Targets))
	return seq, nil
}

func (sm *SequenceManager) entry(seqUUID string) (*sequenceEntry, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	e, ok := sm.sequences[seqUUID]
	if !ok {
		return nil, orerrors.New(orerrors.KindValidation, "SequenceManager.entry", orerrors.ErrSequenceNotFound)
	}
	return e, nil
}

// Sequence looks up a previously created/loaded sequence by UUID.
func (sm *SequenceManager) Sequence(seqUUID string) (*sequencer.Sequencer, error) {
	e, err := sm.entry(seqUUID)
	if err != nil {
		return nil, err
	}
	return e.seq, nil
}

// ExecuteSequence runs seq to completion. When async is false it blocks
// and returns the Result; when true it starts execution on its own
// goroutine and returns immediately with a zero Result — pair with
// WaitForCompletion.
func (sm *SequenceManager) ExecuteSequence(ctx context.Context, seq *sequencer.Sequencer, async bool) (Result, error) {
	sm.log.InfoCtx(ctx, "sequence execution starting", "uuid", seq.UUID, "async", async)
	if !async {
		if err := seq.ExecuteAll(ctx); err != nil {
			sm.log.ErrorCtx(ctx, "sequence execution failed to start", "uuid", seq.UUID, "error", err)
			return Result{}, err
		}
		r, _ := seq.LastResult()
		sm.log.InfoCtx(ctx, "sequence execution finished", "uuid", seq.UUID, "success", r.Success)
		return toResult(r), nil
	}
	go func() {
		if err := seq.ExecuteAll(ctx); err != nil {
			sm.log.ErrorCtx(ctx, "sequence execution failed to start", "uuid", seq.UUID, "error", err)
		}
	}()
	return Result{}, nil
}

// WaitForCompletion blocks until seq finishes or timeout elapses (0 =
// wait forever), returning its Result and whether it actually finished.
func (sm *SequenceManager) WaitForCompletion(ctx context.Context, seq *sequencer.Sequencer, timeout time.Duration) (Result, bool) {
	r, done := seq.WaitForCompletion(ctx, timeout)
	return toResult(r), done
}

// StopExecution requests seq stop: no further target is admitted and
// the sequence ends once the targets already running have returned.
// graceful has no effect; both values behave the same, and nothing here
// cancels the run context.
func (sm *SequenceManager) StopExecution(seq *sequencer.Sequencer, graceful bool) {
	seq.Stop()
	_ = graceful // teacher-style: the knob is reserved for a future hard-abort path
}

// PauseExecution pauses seq between target dispatches.
func (sm *SequenceManager) PauseExecution(seq *sequencer.Sequencer) { seq.Pause() }

// ResumeExecution resumes a paused seq.
func (sm *SequenceManager) ResumeExecution(seq *sequencer.Sequencer) { seq.Resume() }

func toResult(r sequencer.Result) Result {
	return Result{
		Success:     r.Success,
		Completed:   r.Completed,
		Failed:      r.Failed,
		Skipped:     r.Skipped,
		Progress:    r.Progress,
		ElapsedTime: r.ElapsedTime,
		Stats:       r.Stats,
		Warnings:    r.Warnings,
		Errors:      r.Errors,
	}
}

// SaveToDatabase persists seq's originating document and returns its UUID.
func (sm *SequenceManager) SaveToDatabase(ctx context.Context, seq *sequencer.Sequencer) (string, error) {
	e, err := sm.entry(seq.UUID)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(e.doc)
	if err != nil {
		return "", orerrors.New(orerrors.KindPersistence, "SequenceManager.saveToDatabase", err)
	}
	rec := store.Record{UUID: seq.UUID, Name: seq.Name, Data: data, CreatedAt: time.Now()}
	if err := sm.store.Save(ctx, rec); err != nil {
		return "", orerrors.New(orerrors.KindPersistence, "SequenceManager.saveToDatabase", err)
	}
	sm.log.InfoCtx(ctx, "sequence saved", "uuid", seq.UUID)
	return seq.UUID, nil
}

// LoadFromDatabase loads a previously saved sequence document by UUID
// and rebuilds a live Sequencer from it.
func (sm *SequenceManager) LoadFromDatabase(seqUUID string) (*sequencer.Sequencer, error) {
	rec, ok, err := sm.store.Load(context.Background(), seqUUID)
	if err != nil {
		return nil, orerrors.New(orerrors.KindPersistence, "SequenceManager.loadFromDatabase", err)
	}
	if !ok {
		return nil, orerrors.New(orerrors.KindPersistence, "SequenceManager.loadFromDatabase", orerrors.ErrSequenceNotFound)
	}
	var sd SequenceDoc
	if err := json.Unmarshal(rec.Data, &sd); err != nil {
		return nil, orerrors.New(orerrors.KindValidation, "SequenceManager.loadFromDatabase", err)
	}

	sm.mu.Lock()
	delete(sm.sequences, seqUUID)
	sm.mu.Unlock()
	return sm.register(sd)
}

// ListSequences returns every persisted sequence record's UUID and name.
func (sm *SequenceManager) ListSequences(ctx context.Context) ([]store.Record, error) {
	recs, err := sm.store.List(ctx)
	if err != nil {
		return nil, orerrors.New(orerrors.KindPersistence, "SequenceManager.listSequences", err)
	}
	return recs, nil
}

// DeleteFromDatabase removes a persisted sequence record. It does not
// affect a live, in-memory Sequencer with the same UUID.
func (sm *SequenceManager) DeleteFromDatabase(ctx context.Context, seqUUID string) error {
	if err := sm.store.Delete(ctx, seqUUID); err != nil {
		return orerrors.New(orerrors.KindPersistence, "SequenceManager.deleteFromDatabase", err)
	}
	return nil
}

