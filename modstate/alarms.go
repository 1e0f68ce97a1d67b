package modstate

import (
	"math"

	"github.com/PicklesTheWise/Pickle-Reef/frame"
)

// thermistorMismatch is the one alarm code whose diagnostics we enrich: the
// firmware often reports it without readings, but the last status frame
// usually carries them.
const thermistorMismatch = "thermistor_mismatch"

// normalizeAlarm builds an AlarmEntry from a raw alarm object. An empty code
// yields false and the alarm is ignored.
func normalizeAlarm(payload map[string]any, now int64) (AlarmEntry, bool) {
	code, ok := frame.Str(payload, "code")
	if !ok {
		return AlarmEntry{}, false
	}

	severity, ok := frame.Str(payload, "severity")
	if !ok {
		severity = "warning"
	}
	message, ok := frame.Str(payload, "message")
	if !ok {
		message = code
	}

	entry := AlarmEntry{
		Code:       code,
		Severity:   severity,
		Active:     frame.Bool(payload, "active"),
		Message:    message,
		ReceivedAt: now,
	}
	if ts, ok := frame.Num(payload, "timestamp_s"); ok {
		entry.TimestampS = &ts
	}
	if meta, ok := frame.Map(payload, "meta"); ok {
		entry.Meta = deepCopyMap(meta)
	}
	return entry, true
}

// enrichThermistorMeta fills delta_c/threshold_c/primary_temp_c/
// secondary_temp_c into the alarm meta, preferring values already present in
// the meta, then the alarm payload, then the module's heater snapshot.
func enrichThermistorMeta(entry *AlarmEntry, alarmPayload, heater map[string]any) {
	if entry.Code != thermistorMismatch {
		return
	}
	if entry.Meta == nil {
		entry.Meta = make(map[string]any)
	}

	primary, havePrimary := thermReading(entry.Meta, alarmPayload, heater, "primary_temp_c", 0)
	secondary, haveSecondary := thermReading(entry.Meta, alarmPayload, heater, "secondary_temp_c", 1)

	if havePrimary {
		entry.Meta["primary_temp_c"] = primary
	}
	if haveSecondary {
		entry.Meta["secondary_temp_c"] = secondary
	}

	if _, exists := entry.Meta["delta_c"]; !exists {
		if delta, ok := frame.Num(alarmPayload, "delta_c"); ok {
			entry.Meta["delta_c"] = delta
		} else if havePrimary && haveSecondary {
			entry.Meta["delta_c"] = math.Abs(primary - secondary)
		}
	}
	if _, exists := entry.Meta["threshold_c"]; !exists {
		if threshold, ok := frame.Num(alarmPayload, "threshold_c"); ok {
			entry.Meta["threshold_c"] = threshold
		} else if threshold, ok := frame.Num(heater, "threshold_c"); ok {
			entry.Meta["threshold_c"] = threshold
		}
	}
}

// thermReading resolves one thermistor temperature by key, falling back to
// positional entries of the heater snapshot's thermistors_c array.
func thermReading(meta, alarmPayload, heater map[string]any, key string, index int) (float64, bool) {
	if v, ok := frame.Num(meta, key); ok {
		return v, true
	}
	if v, ok := frame.Num(alarmPayload, key); ok {
		return v, true
	}
	if v, ok := frame.Num(heater, key); ok {
		return v, true
	}
	if readings, ok := frame.Slice(heater, "thermistors_c"); ok && index < len(readings) {
		if v, ok := asTemp(readings[index]); ok {
			return v, true
		}
	}
	return 0, false
}

func asTemp(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// replaceAlarm swaps in the new entry for its code, dropping any previous
// entry and keeping the new one only while active. Returns the updated set.
func replaceAlarm(alarms []AlarmEntry, entry AlarmEntry) []AlarmEntry {
	out := make([]AlarmEntry, 0, len(alarms)+1)
	for _, existing := range alarms {
		if existing.Code != entry.Code {
			out = append(out, existing)
		}
	}
	if entry.Active {
		out = append(out, entry)
	}
	return out
}
