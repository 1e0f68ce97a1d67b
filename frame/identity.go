package frame

import (
	"strconv"
	"strings"
)

// DefaultModuleID is used when no identity can be resolved from a payload.
const DefaultModuleID = "unknown"

// moduleIDKeys lists identifier aliases in priority order. Older firmware
// reports "module", enveloped firmware "module_id", and a few early builds
// used device-centric names.
var moduleIDKeys = [...]string{
	"module",
	"module_id",
	"id",
	"device_id",
	"device",
}

// ResolveModuleID extracts a stable module identifier from mixed payload
// styles. The first candidate key holding a non-empty string (after trimming)
// or a non-boolean number (stringified) wins. When nothing matches, the
// fallback is returned, defaulting to "unknown".
//
// Every frame handler and the connection-level fallback tracking must resolve
// identity through this function so a module that omits its id in a later
// frame is still attributed to its previously resolved id.
func ResolveModuleID(payload map[string]any, fallback string) string {
	if fallback == "" {
		fallback = DefaultModuleID
	}
	if payload == nil {
		return fallback
	}
	for _, key := range moduleIDKeys {
		v, ok := payload[key]
		if !ok {
			continue
		}
		if id := normalizeIDValue(v); id != "" {
			return id
		}
	}
	return fallback
}

func normalizeIDValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case bool:
		return ""
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing ".0" so ids stay stable across firmware versions.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
