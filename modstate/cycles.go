package modstate

import (
	"github.com/PicklesTheWise/Pickle-Reef/frame"
)

// PumpFlowMlPerMs is the nominal ATO pump flow rate used to estimate fill
// duration from an observed tank-level drop.
const PumpFlowMlPerMs = 0.0375

// Cycle types emitted by the synthesizer.
const (
	CycleRollerActivation = "roller_activation"
	CyclePumpActivation   = "pump_activation"
)

// ActivationKind selects which counter family a frame belongs to.
type ActivationKind int

const (
	// KindRoller covers spool_activations frames.
	KindRoller ActivationKind = iota
	// KindPump covers ato_activations frames.
	KindPump
)

func (k ActivationKind) cycleType() string {
	if k == KindPump {
		return CyclePumpActivation
	}
	return CycleRollerActivation
}

// synthesizeCycles turns a counter increase into discrete cycle entries, one
// per increment. A decrease (firmware reset or wraparound) produces nothing;
// the counter is simply re-baselined by the caller storing the new value.
//
// prevLevel/currLevel are the tank levels (mL) before and after the frame,
// used to estimate pump fill duration when the frame carries no explicit one.
func synthesizeCycles(kind ActivationKind, moduleID string, prevCount, currCount int64, payload map[string]any, prevLevel, currLevel *float64, recordedAt int64) []CycleEntry {
	increments := currCount - prevCount
	if increments <= 0 {
		return nil
	}

	trigger, ok := frame.Str(payload, "trigger", "reason", "source")
	if !ok {
		trigger = "auto"
	}

	duration := explicitDuration(payload)
	if duration == nil && kind == KindPump {
		duration = estimateFillDuration(prevLevel, currLevel, increments)
	}

	var timestampS *float64
	if ts, ok := frame.Num(payload, "timestamp_s"); ok {
		timestampS = &ts
	}

	entries := make([]CycleEntry, 0, increments)
	for i := int64(0); i < increments; i++ {
		entry := CycleEntry{
			ModuleID:   moduleID,
			CycleType:  kind.cycleType(),
			Trigger:    trigger,
			Timeout:    frame.Bool(payload, "timeout"),
			RecordedAt: recordedAt,
		}
		if duration != nil {
			d := *duration
			entry.DurationMs = &d
		}
		if timestampS != nil {
			ts := *timestampS
			entry.TimestampS = &ts
		}
		entries = append(entries, entry)
	}
	return entries
}

// explicitDuration returns the frame-declared duration when positive.
func explicitDuration(payload map[string]any) *float64 {
	if d, ok := frame.Num(payload, "duration_ms", "runtime_ms"); ok && d > 0 {
		return &d
	}
	return nil
}

// estimateFillDuration converts a tank-level drop into a per-cycle duration
// using the nominal pump flow rate, split evenly across the increments.
func estimateFillDuration(prevLevel, currLevel *float64, increments int64) *float64 {
	if prevLevel == nil || currLevel == nil || increments <= 0 {
		return nil
	}
	drop := *prevLevel - *currLevel
	if drop <= 0 {
		return nil
	}
	duration := (drop / PumpFlowMlPerMs) / float64(increments)
	return &duration
}
