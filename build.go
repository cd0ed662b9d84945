package orrery

import (
	"time"

	"github.com/google/uuid"

	orerrors "github.com/elementastro/orrery/errors"
	"github.com/elementastro/orrery/internal/sequencer"
	"github.com/elementastro/orrery/internal/target"
	"github.com/elementastro/orrery/internal/task"
)

// buildSequencer constructs a *sequencer.Sequencer from doc, resolving
// each task's registered type against sm's task template registry.
// Missing UUIDs (sequence, target, task) are generated.
func (sm *SequenceManager) buildSequencer(doc SequenceDoc) (*sequencer.Sequencer, error) {
	if doc.UUID == "" {
		doc.UUID = uuid.NewString()
	}
	seq := sequencer.New(doc.UUID, doc.Name, sm.bus)
	seq.SetSchedulingStrategy(sequencer.SchedulingStrategy(doc.SchedulingStrategy))
	seq.SetExecutionStrategy(sequencer.ExecutionStrategy(doc.ExecutionStrategy))
	seq.SetRecoveryStrategy(sequencer.RecoveryStrategy(doc.RecoveryStrategy))
	if doc.MaxConcurrentTargets > 0 {
		seq.SetMaxConcurrentTargets(int(doc.MaxConcurrentTargets))
	}
	timeout := doc.GlobalTimeout
	if timeout == 0 && sm.cfg.DefaultGlobalTimeout > 0 {
		seq.SetGlobalTimeout(sm.cfg.DefaultGlobalTimeout)
	} else if timeout > 0 {
		seq.SetGlobalTimeout(secondsToDuration(timeout))
	}

	for _, td := range doc.Targets {
		tg, err := sm.buildTarget(td)
		if err != nil {
			return nil, err
		}
		if err := seq.AddTarget(tg); err != nil {
			return nil, err
		}
	}
	for name, preds := range doc.Dependencies {
		for _, dep := range preds {
			if err := seq.AddTargetDependency(name, dep); err != nil {
				return nil, err
			}
		}
	}
	return seq, nil
}

func (sm *SequenceManager) buildTarget(td TargetDoc) (*target.Target, error) {
	if td.Name == "" {
		return nil, validationErr("target missing name")
	}
	tuuid := td.UUID
	if tuuid == "" {
		tuuid = uuid.NewString()
	}
	tg := target.New(tuuid, td.Name)
	if td.Enabled != nil {
		tg.SetEnabled(*td.Enabled)
	}
	if td.Priority != 0 {
		tg.SetPriority(td.Priority)
	}
	if td.Cooldown > 0 {
		tg.SetCooldown(secondsToDuration(td.Cooldown))
	}
	if td.MaxRetries > 0 {
		tg.SetMaxRetries(td.MaxRetries)
	}

	for _, taskDoc := range td.Tasks {
		t, err := sm.buildTask(taskDoc, td.Params)
		if err != nil {
			return nil, err
		}
		tg.AddTask(t)
	}

	if td.Astro != nil {
		sm.applyAstro(tg, *td.Astro)
	}
	return tg, nil
}

func (sm *SequenceManager) buildTask(taskDoc TaskDoc, targetParams map[string]interface{}) (*task.Task, error) {
	if taskDoc.Name == "" {
		return nil, validationErr("task missing name")
	}
	fn, ok := sm.taskTemplate(taskDoc.Type)
	if !ok {
		return nil, orerrors.New(orerrors.KindValidation, "SequenceManager.buildTask", orerrors.ErrUnknownTaskType)
	}
	t := task.New(uuid.NewString(), taskDoc.Name, taskDoc.Type, fn(sm))
	t.SetParams(mergeParams(targetParams, taskDoc.Params))
	if taskDoc.Priority != 0 {
		t.SetPriority(taskDoc.Priority)
	}
	if taskDoc.Timeout > 0 {
		t.SetTimeout(secondsToDuration(taskDoc.Timeout))
	}
	return t, nil
}

func (sm *SequenceManager) applyAstro(tg *target.Target, a AstroDoc) {
	if a.Coordinates != nil {
		tg.SetCoordinates(target.Coordinates{RAHours: a.Coordinates.RAHours, DecDeg: a.Coordinates.DecDeg})
	}
	for _, p := range a.ExposurePlans {
		tg.AddExposurePlan(target.ExposurePlan{
			Filter:   p.Filter,
			Duration: secondsToDuration(p.DurationSeconds),
			Planned:  p.Planned,
		})
	}
	if a.ObservabilityWindow != nil {
		tg.SetObservabilityWindow(target.ObservabilityWindow{
			Start: a.ObservabilityWindow.Start,
			End:   a.ObservabilityWindow.End,
		})
	}
	if a.Priority != 0 {
		tg.SetPriority(a.Priority)
	}
	if a.MinimumAltitude != 0 {
		tg.SetMinimumAltitude(a.MinimumAltitude)
	}
}

func mergeParams(base, overlay map[string]interface{}) task.Params {
	out := make(task.Params, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
