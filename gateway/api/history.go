package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/PicklesTheWise/Pickle-Reef/modstate"
	"github.com/PicklesTheWise/Pickle-Reef/pkg/timestamp"
	"github.com/PicklesTheWise/Pickle-Reef/store"
)

const (
	defaultCycleWindowHours = 24
	maxCycleWindowHours     = 8760

	defaultUsageWindowHours = 24
	maxUsageWindowHours     = 2160

	maxTraceLimit = 1000
)

// cycleStats summarizes one cycle family over a query window. Entries
// without a duration count toward the average as zero.
type cycleStats struct {
	Count            int      `json:"count"`
	TotalDurationMs  float64  `json:"total_duration_ms"`
	AvgDurationMs    float64  `json:"avg_duration_ms"`
	FrequencyPerHour float64  `json:"frequency_per_hour"`
	AvgFillSeconds   *float64 `json:"avg_fill_seconds,omitempty"`
}

func summarizeCycles(entries []modstate.CycleEntry, windowHours int, fillSeconds bool) cycleStats {
	stats := cycleStats{Count: len(entries)}

	for _, entry := range entries {
		if entry.DurationMs != nil {
			stats.TotalDurationMs += *entry.DurationMs
		}
	}
	if stats.Count > 0 {
		stats.AvgDurationMs = stats.TotalDurationMs / float64(stats.Count)
	}
	if fillSeconds {
		fill := stats.AvgDurationMs / 1000
		stats.AvgFillSeconds = &fill
	}
	if windowHours > 0 {
		stats.FrequencyPerHour = float64(stats.Count) / float64(windowHours)
	}
	return stats
}

func (s *Server) handleCycleHistory(w http.ResponseWriter, r *http.Request) {
	windowHours := queryInt(r, "window_hours", defaultCycleWindowHours, 1, maxCycleWindowHours)
	sinceMs := timestamp.Now() - int64(windowHours)*time.Hour.Milliseconds()

	entries, err := s.db.ListCycles(r.Context(), sinceMs)
	if err != nil {
		s.logger.Error("cycle query failed", "err", err)
		s.writeError(w, errorStatus(err), "failed to load cycle history")
		return
	}

	// Cycle types from module cycle_log frames are free-form; the family
	// prefix decides the bucket, anything else belongs to neither.
	var rollerRuns, atoRuns []modstate.CycleEntry
	for _, entry := range entries {
		switch {
		case strings.HasPrefix(entry.CycleType, "roller"):
			rollerRuns = append(rollerRuns, entry)
		case strings.HasPrefix(entry.CycleType, "pump"):
			atoRuns = append(atoRuns, entry)
		}
	}
	if rollerRuns == nil {
		rollerRuns = []modstate.CycleEntry{}
	}
	if atoRuns == nil {
		atoRuns = []modstate.CycleEntry{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"window_hours": windowHours,
		"roller_runs":  rollerRuns,
		"roller_stats": summarizeCycles(rollerRuns, windowHours, false),
		"ato_runs":     atoRuns,
		"ato_stats":    summarizeCycles(atoRuns, windowHours, true),
	})
}

func (s *Server) handleSpoolUsage(w http.ResponseWriter, r *http.Request) {
	windowHours := queryInt(r, "window_hours", defaultUsageWindowHours, 1, maxUsageWindowHours)
	limit := queryInt(r, "limit", 1000, 1, 10000)
	moduleID := r.URL.Query().Get("module_id")
	sinceMs := timestamp.Now() - int64(windowHours)*time.Hour.Milliseconds()

	entries, err := s.db.ListUsage(r.Context(), moduleID, sinceMs, limit)
	if err != nil {
		s.logger.Error("usage query failed", "err", err)
		s.writeError(w, errorStatus(err), "failed to load spool usage")
		return
	}
	if entries == nil {
		entries = []modstate.UsageEntry{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"window_hours": windowHours,
		"module_id":    moduleID,
		"entries":      entries,
	})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 200, 1, maxTraceLimit)

	entries, err := s.db.ListTrace(r.Context(), limit)
	if err != nil {
		s.logger.Error("trace query failed", "err", err)
		s.writeError(w, errorStatus(err), "failed to load trace")
		return
	}
	if entries == nil {
		entries = []store.TraceEntry{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleClearTrace(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.db.ClearTrace(r.Context())
	if err != nil {
		s.logger.Error("trace clear failed", "err", err)
		s.writeError(w, errorStatus(err), "failed to clear trace")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}
