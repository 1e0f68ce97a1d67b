// Package modstate owns the authoritative per-module state: reconciled
// status/config payload trees, the active alarm set, derived classification
// and subsystems, and the derivation of usage and cycle events from raw
// counters. All mutation goes through the Store; readers get copies.
package modstate

import (
	"github.com/PicklesTheWise/Pickle-Reef/frame"
)

// Module status values.
const (
	StatusDiscovering = "discovering"
	StatusOnline      = "online"
	StatusOffline     = "offline"
)

// Record is the authoritative state of one module.
type Record struct {
	ModuleID        string         `json:"module_id"`
	Label           string         `json:"label"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	IPAddress       string         `json:"ip_address,omitempty"`
	RSSI            *float64       `json:"rssi,omitempty"`
	Status          string         `json:"status"`
	LastSeen        int64          `json:"last_seen"`
	StatusPayload   map[string]any `json:"status_payload,omitempty"`
	ConfigPayload   map[string]any `json:"config_payload,omitempty"`
	Alarms          []AlarmEntry   `json:"alarms"`
}

// AlarmEntry is one active alarm. At most one entry exists per code.
type AlarmEntry struct {
	Code       string         `json:"code"`
	Severity   string         `json:"severity"`
	Active     bool           `json:"active"`
	Message    string         `json:"message"`
	TimestampS *float64       `json:"timestamp_s,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	ReceivedAt int64          `json:"received_at"`
}

// UsageEntry is one derived spool-usage delta.
type UsageEntry struct {
	ID             int64   `json:"id,omitempty"`
	ModuleID       string  `json:"module_id"`
	DeltaEdges     float64 `json:"delta_edges"`
	DeltaMm        float64 `json:"delta_mm"`
	TotalUsedEdges float64 `json:"total_used_edges"`
	RecordedAt     int64   `json:"recorded_at"`
}

// CycleEntry is one discrete activation cycle, either reported directly by a
// module (cycle_log frame) or synthesized from counter increments.
type CycleEntry struct {
	ID         int64    `json:"id,omitempty"`
	ModuleID   string   `json:"module_id"`
	CycleType  string   `json:"cycle_type"`
	Trigger    string   `json:"trigger,omitempty"`
	DurationMs *float64 `json:"duration_ms,omitempty"`
	Timeout    bool     `json:"timeout"`
	TimestampS *float64 `json:"module_timestamp_s,omitempty"`
	RecordedAt int64    `json:"recorded_at"`
}

// SnapshotEntry is the full reconciled status payload at one instant.
type SnapshotEntry struct {
	ID         int64          `json:"id,omitempty"`
	ModuleID   string         `json:"module_id"`
	Payload    map[string]any `json:"payload"`
	RecordedAt int64          `json:"recorded_at"`
}

// clone returns a deep copy of the record safe to hand to readers.
func (r *Record) clone() Record {
	out := *r
	out.StatusPayload = deepCopyMap(r.StatusPayload)
	out.ConfigPayload = deepCopyMap(r.ConfigPayload)
	if r.RSSI != nil {
		rssi := *r.RSSI
		out.RSSI = &rssi
	}
	out.Alarms = make([]AlarmEntry, len(r.Alarms))
	for i, alarm := range r.Alarms {
		copied := alarm
		copied.Meta = deepCopyMap(alarm.Meta)
		if alarm.TimestampS != nil {
			ts := *alarm.TimestampS
			copied.TimestampS = &ts
		}
		out.Alarms[i] = copied
	}
	return out
}

// spoolFragment returns the stored spool object, nil when absent.
func (r *Record) spoolFragment() map[string]any {
	spool, _ := frame.Map(r.StatusPayload, "spool")
	return spool
}

// configSpool returns the config-declared spool object, nil when absent.
func (r *Record) configSpool() map[string]any {
	spool, _ := frame.Map(r.ConfigPayload, "spool")
	return spool
}

// atoFragment returns the stored ato object, nil when absent.
func (r *Record) atoFragment() map[string]any {
	ato, _ := frame.Map(r.StatusPayload, "ato")
	return ato
}

// heaterSnapshot returns the heater view of the status payload, checking the
// mirrored singular key first, then the first entry of the plural form.
func (r *Record) heaterSnapshot() map[string]any {
	if heater, ok := frame.Map(r.StatusPayload, "heater"); ok {
		return heater
	}
	if heaters, ok := frame.Slice(r.StatusPayload, "heaters"); ok && len(heaters) > 0 {
		if heater, ok := heaters[0].(map[string]any); ok {
			return heater
		}
	}
	return nil
}

// deepCopyMap copies a JSON-like tree. Values other than maps and slices are
// shared; wire payloads only carry immutable scalars.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
