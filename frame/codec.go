// Package frame normalizes raw wire messages from hardware modules into a
// (type, payload) pair the dispatcher can route. Two envelope shapes are
// accepted: flat legacy frames with fields at top level, and versioned
// enveloped frames carrying module_id/protocol/sent_at plus a nested payload.
package frame

// Frame is a normalized inbound message.
type Frame struct {
	Type    string
	Payload map[string]any
}

// Normalize converts a decoded wire message into a Frame. It performs no
// network or storage I/O. Unrecognized types pass through unmodified for the
// dispatcher to ignore.
func Normalize(message map[string]any) Frame {
	if message == nil {
		return Frame{}
	}

	msgType, _ := Str(message, "type")
	nested, hasNested := Map(message, "payload")
	if !hasNested {
		// Flat legacy frame: fields already live at top level.
		return Frame{Type: msgType, Payload: Clone(message)}
	}

	defaults := envelopeDefaults(message)

	if msgType == "alarm" {
		// Alarm frames keep the envelope-derived defaults at top level and
		// hang the alarm body under its own key.
		normalized := Clone(defaults)
		normalized["alarm"] = Clone(nested)
		return Frame{Type: msgType, Payload: normalized}
	}

	// Other enveloped frames: the nested object wins, defaults fill gaps.
	normalized := Clone(nested)
	for k, v := range defaults {
		if _, exists := normalized[k]; !exists {
			normalized[k] = v
		}
	}
	return Frame{Type: msgType, Payload: normalized}
}

// envelopeDefaults extracts identity and timing hints from the outer envelope
// so the payload still resolves correctly when the nested object omits them.
func envelopeDefaults(message map[string]any) map[string]any {
	defaults := make(map[string]any)
	if moduleID, ok := Str(message, "module_id"); ok {
		defaults["module"] = moduleID
		defaults["module_id"] = moduleID
	}
	if submoduleID, ok := Str(message, "submodule_id"); ok {
		defaults["submodule_id"] = submoduleID
	}
	if protocol, ok := Str(message, "protocol"); ok {
		defaults["protocol"] = protocol
	}
	if sentAt, ok := Str(message, "sent_at"); ok {
		defaults["sent_at"] = sentAt
		defaults["timestamp"] = sentAt
		defaults["recorded_at"] = sentAt
	}
	return defaults
}
