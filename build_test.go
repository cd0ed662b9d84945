package orrery

import (
	"testing"

	"github.com/elementastro/orrery/internal/macro"
	"github.com/elementastro/orrery/internal/telemetry/events"
	"github.com/elementastro/orrery/internal/telemetry/metrics"
)

func newTestManager() *SequenceManager {
	sm := &SequenceManager{
		cfg:       Config{},
		bus:       events.NewBus(metrics.NewNoopProvider()),
		macros:    macro.New(0),
		templates: newTemplateRegistry(),
		sequences: make(map[string]*sequenceEntry),
	}
	sm.RegisterBuiltInTaskTemplates()
	return sm
}

func TestBuildSequencerAssignsGeneratedUUIDs(t *testing.T) {
	sm := newTestManager()
	doc := SequenceDoc{
		Name: "m31 session",
		Targets: []TargetDoc{
			{Name: "m31", Tasks: []TaskDoc{{Name: "cool", Type: "cooldown"}}},
		},
	}

	seq, err := sm.buildSequencer(doc)
	if err != nil {
		t.Fatalf("buildSequencer: %v", err)
	}
	if seq.UUID == "" {
		t.Fatal("expected a generated sequence UUID")
	}
	names := seq.GetTargetNames()
	if len(names) != 1 || names[0] != "m31" {
		t.Fatalf("expected target m31, got %v", names)
	}
}

func TestBuildSequencerRejectsUnknownTaskType(t *testing.T) {
	sm := newTestManager()
	doc := SequenceDoc{
		Name: "bad",
		Targets: []TargetDoc{
			{Name: "m31", Tasks: []TaskDoc{{Name: "mystery", Type: "does-not-exist"}}},
		},
	}
	if _, err := sm.buildSequencer(doc); err == nil {
		t.Fatal("expected an error for an unregistered task type")
	}
}

func TestBuildSequencerWiresTargetDependencies(t *testing.T) {
	sm := newTestManager()
	doc := SequenceDoc{
		Name: "dependency chain",
		Targets: []TargetDoc{
			{Name: "a", Tasks: []TaskDoc{{Name: "t", Type: "cooldown"}}},
			{Name: "b", Tasks: []TaskDoc{{Name: "t", Type: "cooldown"}}},
		},
		Dependencies: map[string][]string{"b": {"a"}},
	}
	seq, err := sm.buildSequencer(doc)
	if err != nil {
		t.Fatalf("buildSequencer: %v", err)
	}
	// b already depends on a; making a depend on b would close the cycle.
	if err := seq.AddTargetDependency("a", "b"); err == nil {
		t.Fatal("expected a cyclic dependency to be rejected")
	}
}

func TestMergeParamsTaskOverridesTarget(t *testing.T) {
	base := map[string]interface{}{"filter": "L", "durationSeconds": float64(30)}
	overlay := map[string]interface{}{"durationSeconds": float64(60)}

	merged := mergeParams(base, overlay)
	if merged["filter"] != "L" {
		t.Fatalf("expected target param to survive, got %v", merged["filter"])
	}
	if merged["durationSeconds"] != float64(60) {
		t.Fatalf("expected task param to override target param, got %v", merged["durationSeconds"])
	}
}

func TestSecondsToDurationConvertsWholeSeconds(t *testing.T) {
	if secondsToDuration(30).Seconds() != 30 {
		t.Fatalf("expected 30s, got %v", secondsToDuration(30))
	}
}
