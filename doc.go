package orrery

import "time"

// SequenceDoc is the sequence JSON document shape (spec's persisted
// "data" blob and the wire format for loadSequenceFromFile /
// createSequenceFromJson).
type SequenceDoc struct {
	UUID                 string              `json:"uuid,omitempty"`
	Name                 string              `json:"name"`
	State                int                 `json:"state,omitempty"`
	MaxConcurrentTargets uint                `json:"maxConcurrentTargets,omitempty"`
	GlobalTimeout        int                 `json:"globalTimeout,omitempty"` // seconds
	SchedulingStrategy   int                 `json:"schedulingStrategy,omitempty"`
	ExecutionStrategy    int                 `json:"executionStrategy,omitempty"`
	RecoveryStrategy     int                 `json:"recoveryStrategy,omitempty"`
	Dependencies         map[string][]string `json:"dependencies,omitempty"`
	Targets              []TargetDoc         `json:"targets"`
}

// TargetDoc is one element of SequenceDoc.Targets.
type TargetDoc struct {
	Name       string                 `json:"name"`
	UUID       string                 `json:"uuid,omitempty"`
	Enabled    *bool                  `json:"enabled,omitempty"`
	Priority   int                    `json:"priority,omitempty"`
	Cooldown   int                    `json:"cooldown,omitempty"` // seconds
	MaxRetries int                    `json:"maxRetries,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Tasks      []TaskDoc              `json:"tasks"`
	Astro      *AstroDoc              `json:"astro,omitempty"`
}

// TaskDoc is one element of TargetDoc.Tasks.
type TaskDoc struct {
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Params   map[string]interface{} `json:"params,omitempty"`
	Priority int                    `json:"priority,omitempty"`
	Timeout  int                    `json:"timeout,omitempty"` // seconds
}

// ExposurePlanDoc is one filter/duration/count triple.
type ExposurePlanDoc struct {
	Filter          string `json:"filter"`
	DurationSeconds int    `json:"durationSeconds"`
	Planned         int    `json:"planned"`
}

// AstroDoc is a TargetDoc's optional astronomical metadata.
type AstroDoc struct {
	Coordinates         *CoordinatesDoc   `json:"coordinates,omitempty"`
	ExposurePlans       []ExposurePlanDoc `json:"exposurePlans,omitempty"`
	ObservabilityWindow *WindowDoc        `json:"observabilityWindow,omitempty"`
	Priority            int               `json:"priority,omitempty"`
	MinimumAltitude     float64           `json:"minimumAltitude,omitempty"`
}

type CoordinatesDoc struct {
	RAHours float64 `json:"raHours"`
	DecDeg  float64 `json:"decDeg"`
}

type WindowDoc struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TemplateMeta describes a sequence template's declared parameters, taken
// from the template document's top-level `_template` object.
type TemplateMeta struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Parameters []string `json:"parameters"`
}

// TemplateDoc is a SequenceDoc with `${paramName}` placeholders anywhere a
// string may appear, plus its declared parameter metadata.
type TemplateDoc struct {
	SequenceDoc
	Template TemplateMeta `json:"_template"`
}

// Result is the façade-level sequence result record (spec §4.9's
// "success flag; lists of completed/failed/skipped; overall progress;
// total execution time; execution statistics; warnings; errors").
type Result struct {
	Success     bool
	Completed   []string
	Failed      []string
	Skipped     []string
	Progress    float64
	ElapsedTime time.Duration
	Stats       map[string]interface{}
	Warnings    []string
	Errors      []string
}
