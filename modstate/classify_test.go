package modstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyManifestKindWins(t *testing.T) {
	rec := &Record{
		ModuleID: "mystery-1",
		ConfigPayload: map[string]any{
			"module_manifest": map[string]any{"kind": "ATO"},
		},
		StatusPayload: map[string]any{
			"spool": map[string]any{"used_edges": 5.0},
		},
	}
	assert.Equal(t, TypeATO, ClassifyModule(rec))
}

func TestClassifyHeaterSignals(t *testing.T) {
	byName := &Record{ModuleID: "heat-controller-2"}
	assert.Equal(t, TypeHeater, ClassifyModule(byName))

	byLabel := &Record{ModuleID: "m1", Label: "Tank Heater"}
	assert.Equal(t, TypeHeater, ClassifyModule(byLabel))

	bySnapshot := &Record{
		ModuleID: "m2",
		StatusPayload: map[string]any{
			"heater": map[string]any{"thermistors_c": []any{25.0}},
		},
	}
	assert.Equal(t, TypeHeater, ClassifyModule(bySnapshot))
}

func TestClassifyFilterFromSpoolSignal(t *testing.T) {
	rec := &Record{
		ModuleID: "m1",
		StatusPayload: map[string]any{
			"spool": map[string]any{"percent_remaining": 60.0},
		},
	}
	assert.Equal(t, TypeFilter, ClassifyModule(rec))

	// A spool object without numeric usage fields is not a filter signal.
	noSignal := &Record{
		ModuleID: "m2",
		StatusPayload: map[string]any{
			"spool": map[string]any{"motor_healthy": true},
		},
	}
	assert.Equal(t, TypeSensor, ClassifyModule(noSignal))
}

func TestClassifyATOFromKeySet(t *testing.T) {
	rec := &Record{
		ModuleID: "m1",
		StatusPayload: map[string]any{
			"ato": map[string]any{"pump_running": false},
		},
	}
	assert.Equal(t, TypeATO, ClassifyModule(rec))
}

func TestClassifyDefaultSensor(t *testing.T) {
	rec := &Record{ModuleID: "probe-1", StatusPayload: map[string]any{"ph": 8.1}}
	assert.Equal(t, TypeSensor, ClassifyModule(rec))
}

func TestClassifyUnrecognizedManifestKindFallsThrough(t *testing.T) {
	rec := &Record{
		ModuleID: "m1",
		ConfigPayload: map[string]any{
			"module_manifest": map[string]any{"kind": "experimental"},
		},
		StatusPayload: map[string]any{
			"ato": map[string]any{"tank_level_ml": 500.0},
		},
	}
	assert.Equal(t, TypeATO, ClassifyModule(rec))
}
