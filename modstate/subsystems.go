package modstate

import (
	"fmt"
	"strings"

	"github.com/PicklesTheWise/Pickle-Reef/frame"
)

// Subsystem kinds.
const (
	KindNameRoller = "roller"
	KindNameATO    = "ato"
	KindNameHeater = "heater"
)

// maxSubsystems caps how many entries a single module may declare.
const maxSubsystems = 8

// Subsystem is a derived logical unit inside a module. Derived fresh on every
// read, never persisted verbatim.
type Subsystem struct {
	Key          string `json:"key"`
	Kind         string `json:"kind"`
	Label        string `json:"label"`
	BadgeLabel   string `json:"badge_label"`
	BadgeVariant string `json:"badge_variant"`
	CardSuffix   string `json:"card_suffix"`
	Enabled      bool   `json:"enabled"`
}

// categoryKinds maps a declared category/type/key-prefix to a kind.
var categoryKinds = map[string]string{
	"roller":  KindNameRoller,
	"filter":  KindNameRoller,
	"spool":   KindNameRoller,
	"motor":   KindNameRoller,
	"ato":     KindNameATO,
	"pump":    KindNameATO,
	"top_off": KindNameATO,
	"level":   KindNameATO,
	"heater":  KindNameHeater,
	"heat":    KindNameHeater,
	"thermo":  KindNameHeater,
}

// capabilityKinds maps a declared capability to a kind, consulted when no
// category resolves.
var capabilityKinds = map[string]string{
	"spool":       KindNameRoller,
	"motor":       KindNameRoller,
	"filtration":  KindNameRoller,
	"pump":        KindNameATO,
	"level":       KindNameATO,
	"top_off":     KindNameATO,
	"heat":        KindNameHeater,
	"thermostat":  KindNameHeater,
	"temperature": KindNameHeater,
}

// kindTemplate carries the presentation defaults backfilled per kind.
type kindTemplate struct {
	label        string
	badgeLabel   string
	badgeVariant string
	cardSuffix   string
}

var kindTemplates = map[string]kindTemplate{
	KindNameRoller: {label: "Filter Roller", badgeLabel: "Roller", badgeVariant: "primary", cardSuffix: "Roller"},
	KindNameATO:    {label: "Auto Top-Off", badgeLabel: "ATO", badgeVariant: "info", cardSuffix: "ATO"},
	KindNameHeater: {label: "Heater", badgeLabel: "Heater", badgeVariant: "warning", cardSuffix: "Heater"},
}

// DeriveSubsystems produces the module's subsystem list. Precedence, first
// non-empty source wins: manifest submodules, a declared subsystems array in
// config or status, signal-based inference, then a hard default pair.
func DeriveSubsystems(rec *Record) []Subsystem {
	if raw := manifestSubmodules(rec.ConfigPayload); len(raw) > 0 {
		return normalizeSubsystems(raw)
	}
	if raw, ok := frame.Slice(rec.ConfigPayload, "subsystems"); ok && len(raw) > 0 {
		return normalizeSubsystems(raw)
	}
	if raw, ok := frame.Slice(rec.StatusPayload, "subsystems"); ok && len(raw) > 0 {
		return normalizeSubsystems(raw)
	}
	if inferred := inferSubsystems(rec); len(inferred) > 0 {
		return normalizeSubsystems(inferred)
	}
	return normalizeSubsystems([]any{
		map[string]any{"key": "roller", "kind": KindNameRoller},
		map[string]any{"key": "ato", "kind": KindNameATO},
	})
}

// manifestSubmodules returns the manifest-declared submodule list.
func manifestSubmodules(config map[string]any) []any {
	manifest, ok := frame.Map(config, "module_manifest")
	if !ok {
		return nil
	}
	submodules, _ := frame.Slice(manifest, "submodules")
	return submodules
}

// inferSubsystems builds entries from payload signals. Heater signals claim
// the module outright; otherwise roller and ato entries are emitted for the
// fragments that carry recognizable fields.
func inferSubsystems(rec *Record) []any {
	if rec.heaterSnapshot() != nil {
		return []any{map[string]any{"key": "heater", "kind": KindNameHeater}}
	}

	var inferred []any
	if spool := rec.spoolFragment(); spool != nil {
		if _, ok := frame.Num(spool, spoolUsageKeys...); ok {
			inferred = append(inferred, map[string]any{"key": "roller", "kind": KindNameRoller})
		}
	}
	if ato := rec.atoFragment(); ato != nil {
		for _, key := range atoSignalKeys {
			if _, present := ato[key]; present {
				inferred = append(inferred, map[string]any{"key": "ato", "kind": KindNameATO})
				break
			}
		}
	}
	return inferred
}

// normalizeSubsystems converts raw entries (strings or objects) into capped,
// sanitized Subsystem values with presentation fields backfilled.
func normalizeSubsystems(raw []any) []Subsystem {
	out := make([]Subsystem, 0, min(len(raw), maxSubsystems))
	for i, item := range raw {
		if len(out) >= maxSubsystems {
			break
		}

		var entry map[string]any
		switch v := item.(type) {
		case string:
			entry = map[string]any{"key": v}
		case map[string]any:
			entry = v
		default:
			continue
		}

		key, _ := frame.Str(entry, "key", "id", "name")
		key = sanitizeKey(key)
		if key == "" {
			key = fmt.Sprintf("subsystem-%d", i+1)
		}

		kind := resolveKind(entry, key)
		template := kindTemplates[kind]

		sub := Subsystem{
			Key:          key,
			Kind:         kind,
			Enabled:      true,
			Label:        template.label,
			BadgeLabel:   template.badgeLabel,
			BadgeVariant: template.badgeVariant,
			CardSuffix:   template.cardSuffix,
		}
		if label, ok := frame.Str(entry, "label", "title"); ok {
			sub.Label = label
		}
		if badge, ok := frame.Str(entry, "badge_label"); ok {
			sub.BadgeLabel = badge
		}
		if variant, ok := frame.Str(entry, "badge_variant"); ok {
			sub.BadgeVariant = variant
		}
		if suffix, ok := frame.Str(entry, "card_suffix"); ok {
			sub.CardSuffix = suffix
		}
		if enabled, present := entry["enabled"]; present {
			if b, ok := enabled.(bool); ok {
				sub.Enabled = b
			}
		}
		out = append(out, sub)
	}
	return out
}

// resolveKind finds the entry's kind from its declared fields, its key
// prefix, or its capability list, defaulting to roller.
func resolveKind(entry map[string]any, key string) string {
	if declared, ok := frame.Str(entry, "kind", "type", "category"); ok {
		if kind, found := lookupCategory(declared); found {
			return kind
		}
	}
	if kind, found := lookupCategory(key); found {
		return kind
	}
	if capabilities, ok := frame.Slice(entry, "capabilities"); ok {
		for _, capability := range capabilities {
			name, ok := capability.(string)
			if !ok {
				continue
			}
			if kind, found := capabilityKinds[strings.ToLower(strings.TrimSpace(name))]; found {
				return kind
			}
		}
	}
	return KindNameRoller
}

// lookupCategory matches a declared name against the category table, both
// exactly and as a prefix (keys like "ato_1" or "heater-main").
func lookupCategory(name string) (string, bool) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if kind, ok := categoryKinds[lowered]; ok {
		return kind, true
	}
	for prefix, kind := range categoryKinds {
		if strings.HasPrefix(lowered, prefix) {
			return kind, true
		}
	}
	return "", false
}

// sanitizeKey strips characters outside [A-Za-z0-9._:-].
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == ':' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
