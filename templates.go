package orrery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/task"
)

// TaskTemplateFunc builds a task.Action bound to this SequenceManager's
// owned subsystems (the CameraController, primarily) for a task document
// of a given registered type. It is called once per Task built from a
// document, at construction time, not per attempt.
type TaskTemplateFunc func(sm *SequenceManager) task.Action

type templateRegistry struct {
	mu        sync.RWMutex
	taskTypes map[string]TaskTemplateFunc
	sequences map[string]TemplateDoc
}

func newTemplateRegistry() *templateRegistry {
	return &templateRegistry{
		taskTypes: make(map[string]TaskTemplateFunc),
		sequences: make(map[string]TemplateDoc),
	}
}

// RegisterTaskTemplate registers a task type name against the factory
// that builds its Action. Overwrites any existing registration for name.
func (sm *SequenceManager) RegisterTaskTemplate(name string, fn TaskTemplateFunc) {
	sm.templates.mu.Lock()
	sm.templates.taskTypes[name] = fn
	sm.templates.mu.Unlock()
}

func (sm *SequenceManager) taskTemplate(name string) (TaskTemplateFunc, bool) {
	sm.templates.mu.RLock()
	defer sm.templates.mu.RUnlock()
	fn, ok := sm.templates.taskTypes[name]
	return fn, ok
}

// RegisterBuiltInTaskTemplates registers the built-in task types backed
// by this manager's CameraController: "exposure", "cooldown", "cooling".
func (sm *SequenceManager) RegisterBuiltInTaskTemplates() {
	for name, fn := range builtInTaskTemplates() {
		sm.RegisterTaskTemplate(name, fn)
	}
}

// RegisterSequenceTemplate adds a sequence template directly (as
// opposed to loading one from a directory).
func (sm *SequenceManager) RegisterSequenceTemplate(doc TemplateDoc) error {
	if doc.Template.Name == "" {
		return orerrors.New(orerrors.KindValidation, "SequenceManager.registerSequenceTemplate", orerrors.ErrEmptyMacroName)
	}
	sm.templates.mu.Lock()
	sm.templates.sequences[doc.Template.Name] = doc
	sm.templates.mu.Unlock()
	return nil
}

// LoadTemplatesFromDirectory walks dir for *.json files and registers
// each as a sequence template keyed by its `_template.name` field.
func (sm *SequenceManager) LoadTemplatesFromDirectory(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, orerrors.New(orerrors.KindResource, "SequenceManager.loadTemplatesFromDirectory", err)
	}
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return loaded, orerrors.New(orerrors.KindResource, "SequenceManager.loadTemplatesFromDirectory", err)
		}
		var doc TemplateDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return loaded, orerrors.New(orerrors.KindValidation, "SequenceManager.loadTemplatesFromDirectory", err)
		}
		if err := sm.RegisterSequenceTemplate(doc); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// AddGlobalMacro registers a literal-string macro in the shared
// MacroEngine every sequence document expansion consults.
func (sm *SequenceManager) AddGlobalMacro(name, value string) error {
	return sm.macros.AddMacro(name, value)
}

// RemoveGlobalMacro unregisters a macro.
func (sm *SequenceManager) RemoveGlobalMacro(name string) error {
	return sm.macros.RemoveMacro(name)
}

// ListGlobalMacros returns the name of every registered macro, built-in
// and user-registered alike.
func (sm *SequenceManager) ListGlobalMacros() []string {
	return sm.macros.Names()
}
