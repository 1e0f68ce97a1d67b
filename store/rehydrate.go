package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PicklesTheWise/Pickle-Reef/frame"
	"github.com/PicklesTheWise/Pickle-Reef/modstate"
)

// Rehydrate rebuilds the spool-usage log from traced status frames. It runs
// only when the usage log is empty, so restarting never double-counts against
// already-persisted rows. Frames are replayed oldest-first through the same
// merge and derivation logic the live path uses, bounded by the window.
//
// Returns the number of usage rows reconstructed.
func (s *Store) Rehydrate(ctx context.Context, window time.Duration, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	count, err := s.UsageCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("checking usage log: %w", err)
	}
	if count > 0 {
		logger.Debug("rehydration skipped, usage log not empty", "rows", count)
		return 0, nil
	}

	sinceMs := time.Now().Add(-window).UnixMilli()
	traces, err := s.TraceFrames(ctx, "status", sinceMs)
	if err != nil {
		return 0, fmt.Errorf("loading traced status frames: %w", err)
	}
	if len(traces) == 0 {
		return 0, nil
	}

	// Config spools from the persisted module records supply full_edges for
	// firmware that omits it from status frames.
	configSpools := make(map[string]map[string]any)
	records, err := s.LoadModules(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading module records: %w", err)
	}
	for _, rec := range records {
		if spool, ok := frame.Map(rec.ConfigPayload, "spool"); ok {
			configSpools[rec.ModuleID] = spool
		}
	}

	previousSpools := make(map[string]map[string]any)
	inserted := 0
	for _, trace := range traces {
		f := frame.Normalize(trace.Payload)
		if f.Type != "status" {
			continue
		}
		moduleID := frame.ResolveModuleID(f.Payload, trace.ModuleID)

		currentSpool, hasSpool := frame.Map(f.Payload, "spool")
		if !hasSpool {
			continue
		}

		previous := previousSpools[moduleID]
		merged := frame.MergeShallow(previous, currentSpool)

		if delta, ok := modstate.DeriveUsage(previous, merged, configSpools[moduleID]); ok {
			entry := modstate.UsageEntry{
				ModuleID:       moduleID,
				DeltaEdges:     delta.DeltaEdges,
				DeltaMm:        delta.DeltaMm,
				TotalUsedEdges: delta.TotalUsedEdges,
				RecordedAt:     trace.RecordedAt,
			}
			if err := s.AppendUsage(ctx, entry); err != nil {
				return inserted, fmt.Errorf("appending rehydrated usage: %w", err)
			}
			inserted++
		}
		previousSpools[moduleID] = merged
	}

	logger.Info("usage history rehydrated",
		"frames_replayed", len(traces),
		"rows_reconstructed", inserted)
	return inserted, nil
}
