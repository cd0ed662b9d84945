package orrery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/elementastro/orrery/internal/task"
)

func TestRegisterTaskTemplateOverridesBuiltin(t *testing.T) {
	sm := newTestManager()
	called := false
	sm.RegisterTaskTemplate("cooldown", func(*SequenceManager) task.Action {
		return func(ctx context.Context, p task.Params) error {
			called = true
			return nil
		}
	})

	fn, ok := sm.taskTemplate("cooldown")
	if !ok {
		t.Fatal("expected cooldown to still be registered")
	}
	if err := fn(sm)(context.Background(), nil); err != nil {
		t.Fatalf("action: %v", err)
	}
	if !called {
		t.Fatal("expected overridden action to run")
	}
}

func TestListGlobalMacrosIncludesAddedMacro(t *testing.T) {
	sm := newTestManager()
	if err := sm.AddGlobalMacro("site", "backyard"); err != nil {
		t.Fatalf("AddGlobalMacro: %v", err)
	}
	names := sm.ListGlobalMacros()
	found := false
	for _, n := range names {
		if n == "site" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected site macro in %v", names)
	}
	if err := sm.RemoveGlobalMacro("site"); err != nil {
		t.Fatalf("RemoveGlobalMacro: %v", err)
	}
}

func TestLoadTemplatesFromDirectoryRegistersEachFile(t *testing.T) {
	sm := newTestManager()
	dir := t.TempDir()

	tmpl := TemplateDoc{
		SequenceDoc: SequenceDoc{
			Name:    "${targetName} session",
			Targets: []TargetDoc{{Name: "${targetName}", Tasks: []TaskDoc{{Name: "settle", Type: "cooldown"}}}},
		},
		Template: TemplateMeta{Name: "single-target", Parameters: []string{"targetName"}},
	}
	b, err := json.Marshal(tmpl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "single-target.json"), b, 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	n, err := sm.LoadTemplatesFromDirectory(dir)
	if err != nil {
		t.Fatalf("LoadTemplatesFromDirectory: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 template loaded, got %d", n)
	}

	sm.templates.mu.RLock()
	_, ok := sm.templates.sequences["single-target"]
	sm.templates.mu.RUnlock()
	if !ok {
		t.Fatal("expected single-target template to be registered")
	}
}
