package orrery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceDocJsonRoundTrip(t *testing.T) {
	enabled := true
	window := WindowDoc{
		Start: time.Date(2026, 8, 1, 21, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 2, 4, 0, 0, 0, time.UTC),
	}
	original := SequenceDoc{
		Name:                 "m31 mosaic",
		MaxConcurrentTargets: 2,
		GlobalTimeout:        14400,
		Dependencies:         map[string][]string{"b": {"a"}},
		Targets: []TargetDoc{
			{
				Name:       "a",
				Enabled:    &enabled,
				Priority:   5,
				Cooldown:   30,
				MaxRetries: 2,
				Params:     map[string]interface{}{"filter": "L"},
				Tasks: []TaskDoc{
					{Name: "expose-l", Type: "exposure", Priority: 1, Timeout: 120},
				},
				Astro: &AstroDoc{
					Coordinates:     &CoordinatesDoc{RAHours: 0.7123, DecDeg: 41.27},
					MinimumAltitude: 30,
					ExposurePlans: []ExposurePlanDoc{
						{Filter: "L", DurationSeconds: 300, Planned: 20},
					},
					ObservabilityWindow: &window,
				},
			},
			{Name: "b", Tasks: []TaskDoc{{Name: "expose-r", Type: "exposure"}}},
		},
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var round SequenceDoc
	require.NoError(t, json.Unmarshal(raw, &round))

	assert.Equal(t, original.Name, round.Name)
	assert.Equal(t, original.MaxConcurrentTargets, round.MaxConcurrentTargets)
	assert.Equal(t, original.Dependencies, round.Dependencies)
	require.Len(t, round.Targets, 2)
	assert.Equal(t, original.Targets[0].Name, round.Targets[0].Name)
	require.NotNil(t, round.Targets[0].Enabled)
	assert.True(t, *round.Targets[0].Enabled)
	require.NotNil(t, round.Targets[0].Astro)
	assert.Equal(t, original.Targets[0].Astro.Coordinates.RAHours, round.Targets[0].Astro.Coordinates.RAHours)
	require.Len(t, round.Targets[0].Astro.ExposurePlans, 1)
	assert.Equal(t, 300, round.Targets[0].Astro.ExposurePlans[0].DurationSeconds)
	assert.True(t, window.Start.Equal(round.Targets[0].Astro.ObservabilityWindow.Start))
}

func TestTemplateDocCarriesTemplateMetaUnderReservedKey(t *testing.T) {
	doc := TemplateDoc{
		SequenceDoc: SequenceDoc{Name: "${siteName} session"},
		Template:    TemplateMeta{Name: "nightly", Version: "1", Parameters: []string{"siteName"}},
	}

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var asMap map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &asMap))

	tmplField, ok := asMap["_template"].(map[string]interface{})
	require.True(t, ok, "_template must be a JSON object")
	assert.Equal(t, "nightly", tmplField["name"])

	var round TemplateDoc
	require.NoError(t, json.Unmarshal(raw, &round))
	assert.Equal(t, doc.Template, round.Template)
	assert.Equal(t, doc.SequenceDoc.Name, round.SequenceDoc.Name)
}
