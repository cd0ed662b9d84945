package orrery

import (
	"encoding/json"
	"fmt"

	orerrors "github.com/elementastro/orrery/errors"
)

// validateSequenceJson checks the structural rules spec.md §6 requires
// before any SequenceDoc is built from doc: missing targets array,
// a target or task without a name, non-integer state/globalTimeout,
// non-unsigned maxConcurrentTargets, non-object dependencies.
func validateSequenceJson(doc []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return orerrors.New(orerrors.KindValidation, "SequenceManager.validateSequenceJson", err)
	}

	targetsRaw, ok := raw["targets"]
	if !ok {
		return validationErr("missing targets array")
	}
	targets, ok := targetsRaw.([]interface{})
	if !ok {
		return validationErr("targets must be an array")
	}
	for i, tRaw := range targets {
		t, ok := tRaw.(map[string]interface{})
		if !ok {
			return validationErr(fmt.Sprintf("targets[%d] must be an object", i))
		}
		name, ok := t["name"].(string)
		if !ok || name == "" {
			return validationErr(fmt.Sprintf("targets[%d] missing name", i))
		}
		if tasksRaw, ok := t["tasks"]; ok {
			tasks, ok := tasksRaw.([]interface{})
			if !ok {
				return validationErr(fmt.Sprintf("targets[%d].tasks must be an array", i))
			}
			for j, taskRaw := range tasks {
				task, ok := taskRaw.(map[string]interface{})
				if !ok {
					return validationErr(fmt.Sprintf("targets[%d].tasks[%d] must be an object", i, j))
				}
				taskName, ok := task["name"].(string)
				if !ok || taskName == "" {
					return validationErr(fmt.Sprintf("targets[%d].tasks[%d] missing name", i, j))
				}
				if taskType, ok := task["type"].(string); !ok || taskType == "" {
					return validationErr(fmt.Sprintf("targets[%d].tasks[%d] missing type", i, j))
				}
			}
		}
	}

	if v, ok := raw["state"]; ok {
		if !isInteger(v) {
			return validationErr("state must be an integer")
		}
	}
	if v, ok := raw["globalTimeout"]; ok {
		if !isInteger(v) {
			return validationErr("globalTimeout must be an integer")
		}
	}
	if v, ok := raw["maxConcurrentTargets"]; ok {
		n, ok := v.(float64)
		if !ok || n < 0 || n != float64(int64(n)) {
			return validationErr("maxConcurrentTargets must be a non-negative integer")
		}
	}
	if v, ok := raw["dependencies"]; ok {
		if _, ok := v.(map[string]interface{}); !ok {
			return validationErr("dependencies must be an object")
		}
	}
	return nil
}

func isInteger(v interface{}) bool {
	n, ok := v.(float64)
	if !ok {
		return false
	}
	return n == float64(int64(n))
}

func validationErr(msg string) error {
	return orerrors.New(orerrors.KindValidation, "SequenceManager.validateSequenceJson", fmt.Errorf("%s", msg))
}
