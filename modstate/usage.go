package modstate

import (
	"github.com/PicklesTheWise/Pickle-Reef/frame"
)

// DefaultSpoolLengthMm is assumed when neither status nor config declares the
// roll length.
const DefaultSpoolLengthMm = 50000

// UsageDelta is the physical-unit result of comparing two spool fragments.
type UsageDelta struct {
	DeltaEdges     float64
	DeltaMm        float64
	TotalUsedEdges float64
}

// DeriveUsage converts a previous/current spool fragment pair into a usage
// delta. It is pure: no clocks, no I/O. The bool result is false when no
// event should be produced — missing calibration, first sample, counter
// reset, or an implausible spike exceeding a full roll (spool re-threaded).
func DeriveUsage(previous, current, configSpool map[string]any) (UsageDelta, bool) {
	if len(current) == 0 {
		return UsageDelta{}, false
	}

	fullEdges, ok := numFrom(current, configSpool, "full_edges")
	if !ok || fullEdges <= 0 {
		return UsageDelta{}, false
	}

	totalLength, ok := numFrom(current, configSpool, "total_length_mm", "length_mm")
	if !ok {
		totalLength = DefaultSpoolLengthMm
	}
	if totalLength <= 0 {
		return UsageDelta{}, false
	}

	mmPerEdge := totalLength / fullEdges

	currentUsed, ok := resolveUsedEdges(current, fullEdges)
	if !ok {
		return UsageDelta{}, false
	}
	previousUsed, ok := resolveUsedEdges(previous, fullEdges)
	if !ok {
		return UsageDelta{}, false
	}

	deltaEdges := currentUsed - previousUsed
	if deltaEdges <= 0 {
		return UsageDelta{}, false
	}

	deltaMm := deltaEdges * mmPerEdge
	if deltaMm > totalLength {
		return UsageDelta{}, false
	}

	return UsageDelta{
		DeltaEdges:     deltaEdges,
		DeltaMm:        deltaMm,
		TotalUsedEdges: currentUsed,
	}, true
}

// resolveUsedEdges derives how many edges have been consumed, trying the
// explicit counter first, then the remaining counter, then the percentage.
func resolveUsedEdges(spool map[string]any, fullEdges float64) (float64, bool) {
	if len(spool) == 0 {
		return 0, false
	}
	if used, ok := frame.Num(spool, "used_edges"); ok {
		return used, true
	}
	if remaining, ok := frame.Num(spool, "remaining_edges"); ok {
		return max(0, fullEdges-remaining), true
	}
	if percent, ok := frame.Num(spool, "percent_remaining"); ok {
		if percent < 0 {
			percent = 0
		} else if percent > 100 {
			percent = 100
		}
		return fullEdges * (1 - percent/100), true
	}
	return 0, false
}

// numFrom resolves the first numeric value for any key, checking the status
// fragment before the config fragment.
func numFrom(primary, secondary map[string]any, keys ...string) (float64, bool) {
	if v, ok := frame.Num(primary, keys...); ok {
		return v, true
	}
	return frame.Num(secondary, keys...)
}
