package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/PicklesTheWise/Pickle-Reef/modstate"
)

// AppendSnapshot records the full reconciled status payload at one instant.
func (s *Store) AppendSnapshot(ctx context.Context, entry modstate.SnapshotEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshaling snapshot payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO module_snapshots (module_id, payload, recorded_at)
		VALUES (?, ?, ?)`,
		entry.ModuleID, string(payload), entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot for %s: %w", entry.ModuleID, err)
	}
	return nil
}

// AppendUsage records one derived spool-usage delta.
func (s *Store) AppendUsage(ctx context.Context, entry modstate.UsageEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spool_usage (module_id, delta_edges, delta_mm, total_used_edges, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ModuleID, entry.DeltaEdges, entry.DeltaMm, entry.TotalUsedEdges, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting usage for %s: %w", entry.ModuleID, err)
	}
	return nil
}

// AppendCycle records one cycle event.
func (s *Store) AppendCycle(ctx context.Context, entry modstate.CycleEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_log (module_id, cycle_type, "trigger", duration_ms, timeout, module_timestamp_s, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ModuleID, entry.CycleType, nullString(entry.Trigger), entry.DurationMs,
		boolToInt(entry.Timeout), entry.TimestampS, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting cycle for %s: %w", entry.ModuleID, err)
	}
	return nil
}

// ListUsage returns usage entries in chronological order, optionally filtered
// by module and bounded by a since timestamp and limit (0 = no limit).
func (s *Store) ListUsage(ctx context.Context, moduleID string, sinceMs int64, limit int) ([]modstate.UsageEntry, error) {
	query := `SELECT id, module_id, delta_edges, delta_mm, total_used_edges, recorded_at
		FROM spool_usage WHERE recorded_at >= ?`
	args := []any{sinceMs}
	if moduleID != "" {
		query += " AND module_id = ?"
		args = append(args, moduleID)
	}
	query += " ORDER BY recorded_at, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	var out []modstate.UsageEntry
	for rows.Next() {
		var entry modstate.UsageEntry
		if err := rows.Scan(&entry.ID, &entry.ModuleID, &entry.DeltaEdges, &entry.DeltaMm,
			&entry.TotalUsedEdges, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// UsageCount returns the total number of usage rows, used to decide whether
// startup rehydration should run.
func (s *Store) UsageCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM spool_usage").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting usage rows: %w", err)
	}
	return count, nil
}

// ListCycles returns cycle entries recorded at or after sinceMs in
// chronological order.
func (s *Store) ListCycles(ctx context.Context, sinceMs int64) ([]modstate.CycleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, module_id, cycle_type, "trigger", duration_ms, timeout, module_timestamp_s, recorded_at
		FROM cycle_log WHERE recorded_at >= ? ORDER BY recorded_at, id`, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	var out []modstate.CycleEntry
	for rows.Next() {
		var entry modstate.CycleEntry
		var trigger sql.NullString
		var duration, timestampS sql.NullFloat64
		var timeout int
		if err := rows.Scan(&entry.ID, &entry.ModuleID, &entry.CycleType, &trigger,
			&duration, &timeout, &timestampS, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning cycle row: %w", err)
		}
		entry.Trigger = trigger.String
		entry.Timeout = timeout != 0
		if duration.Valid {
			d := duration.Float64
			entry.DurationMs = &d
		}
		if timestampS.Valid {
			ts := timestampS.Float64
			entry.TimestampS = &ts
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ListSnapshots returns a module's snapshots newest first.
func (s *Store) ListSnapshots(ctx context.Context, moduleID string, sinceMs int64, limit int) ([]modstate.SnapshotEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, module_id, payload, recorded_at FROM module_snapshots
		WHERE module_id = ? AND recorded_at >= ?
		ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		moduleID, sinceMs, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []modstate.SnapshotEntry
	for rows.Next() {
		var entry modstate.SnapshotEntry
		var payload string
		if err := rows.Scan(&entry.ID, &entry.ModuleID, &payload, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
			return nil, fmt.Errorf("decoding snapshot payload: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
