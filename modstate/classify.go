package modstate

import (
	"strings"

	"github.com/PicklesTheWise/Pickle-Reef/frame"
)

// Derived module classifications.
const (
	TypeHeater = "Heater"
	TypeFilter = "Filter"
	TypeATO    = "ATO"
	TypeSensor = "Sensor"
)

// manifestKindTypes maps a manifest-declared kind to a classification. A kind
// the table does not recognize falls through to the heuristic signals.
var manifestKindTypes = map[string]string{
	"heater": TypeHeater,
	"heat":   TypeHeater,
	"roller": TypeFilter,
	"filter": TypeFilter,
	"spool":  TypeFilter,
	"ato":    TypeATO,
	"pump":   TypeATO,
	"sensor": TypeSensor,
}

// spoolUsageKeys are the numeric spool fields that mark a module as a filter.
var spoolUsageKeys = []string{
	"used_edges",
	"remaining_edges",
	"percent_remaining",
	"activations",
	"full_edges",
	"total_length_mm",
}

// atoSignalKeys are the ato fields that mark a module as an ATO.
var atoSignalKeys = []string{
	"pump_running",
	"manual_mode",
	"timeout_alarm",
	"pump_speed",
	"tank_level_ml",
	"tank_capacity_ml",
}

// ClassifyModule derives the module type for a record. A manifest-declared
// kind wins; otherwise heuristic signals are checked heater-first so a heater
// that also reports a sensor-ish payload does not degrade to Sensor.
func ClassifyModule(rec *Record) string {
	if kind := manifestKind(rec.ConfigPayload); kind != "" {
		if t, ok := manifestKindTypes[kind]; ok {
			return t
		}
	}

	idAndLabel := strings.ToLower(rec.ModuleID + " " + rec.Label)
	if strings.Contains(idAndLabel, "heat") || rec.heaterSnapshot() != nil {
		return TypeHeater
	}

	if spool := rec.spoolFragment(); spool != nil {
		if _, ok := frame.Num(spool, spoolUsageKeys...); ok {
			return TypeFilter
		}
	}

	if ato := rec.atoFragment(); ato != nil {
		for _, key := range atoSignalKeys {
			if _, present := ato[key]; present {
				return TypeATO
			}
		}
	}

	return TypeSensor
}

// manifestKind extracts the lowercase kind declared in the module manifest.
func manifestKind(config map[string]any) string {
	manifest, ok := frame.Map(config, "module_manifest")
	if !ok {
		return ""
	}
	kind, ok := frame.Str(manifest, "kind", "type", "module_type")
	if !ok {
		return ""
	}
	return strings.ToLower(kind)
}
