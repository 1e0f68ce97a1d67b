package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// Trace directions.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

// TraceEntry is one raw wire frame captured for audit and rehydration.
type TraceEntry struct {
	ID         int64          `json:"id"`
	RecordedAt int64          `json:"recorded_at"`
	Direction  string         `json:"direction"`
	ModuleID   string         `json:"module_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// TraceRecorder writes wire frames to the ws_trace table. Non-forced records
// are gated by the enabled flag and a rate limiter so a chatty module cannot
// flood the table; forced records (inbound status frames, which rehydration
// replays) always land.
type TraceRecorder struct {
	store   *Store
	enabled bool
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() int64
}

// NewTraceRecorder creates a recorder. maxPerSecond bounds non-forced writes;
// zero or negative disables the limit.
func NewTraceRecorder(store *Store, enabled bool, maxPerSecond float64, logger *slog.Logger, now func() int64) *TraceRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if maxPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxPerSecond), int(maxPerSecond)+1)
	}
	return &TraceRecorder{
		store:   store,
		enabled: enabled,
		limiter: limiter,
		logger:  logger,
		now:     now,
	}
}

// Record captures one frame. Failures are logged, never propagated: a lost
// trace row must not disturb frame handling.
func (t *TraceRecorder) Record(ctx context.Context, direction, moduleID string, payload map[string]any, force bool) {
	if !force {
		if !t.enabled {
			return
		}
		if t.limiter != nil && !t.limiter.Allow() {
			return
		}
	}
	if err := t.store.AppendTrace(ctx, direction, moduleID, payload, t.now()); err != nil {
		t.logger.Error("trace write failed", "direction", direction, "module_id", moduleID, "err", err)
	}
}

// AppendTrace inserts one trace row.
func (s *Store) AppendTrace(ctx context.Context, direction, moduleID string, payload map[string]any, recordedAt int64) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling trace payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ws_trace (recorded_at, direction, module_id, payload)
		VALUES (?, ?, ?, ?)`,
		recordedAt, direction, nullString(moduleID), string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting trace row: %w", err)
	}
	return nil
}

// ListTrace returns the newest trace entries, most recent first.
func (s *Store) ListTrace(ctx context.Context, limit int) ([]TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recorded_at, direction, module_id, payload
		FROM ws_trace ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying trace: %w", err)
	}
	defer rows.Close()
	return scanTraceRows(rows)
}

// TraceFrames returns rx trace entries of the named frame type recorded at or
// after sinceMs, oldest first. Rehydration replays these.
func (s *Store) TraceFrames(ctx context.Context, frameType string, sinceMs int64) ([]TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recorded_at, direction, module_id, payload
		FROM ws_trace
		WHERE direction = ? AND recorded_at >= ? AND json_extract(payload, '$.type') = ?
		ORDER BY recorded_at, id`,
		DirectionRx, sinceMs, frameType)
	if err != nil {
		return nil, fmt.Errorf("querying trace frames: %w", err)
	}
	defer rows.Close()
	return scanTraceRows(rows)
}

// ClearTrace removes every trace row, returning how many were deleted.
func (s *Store) ClearTrace(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM ws_trace")
	if err != nil {
		return 0, fmt.Errorf("clearing trace: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func scanTraceRows(rows *sql.Rows) ([]TraceEntry, error) {
	var out []TraceEntry
	for rows.Next() {
		var entry TraceEntry
		var moduleID sql.NullString
		var payload string
		if err := rows.Scan(&entry.ID, &entry.RecordedAt, &entry.Direction, &moduleID, &payload); err != nil {
			return nil, fmt.Errorf("scanning trace row: %w", err)
		}
		entry.ModuleID = moduleID.String
		if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
			return nil, fmt.Errorf("decoding trace payload: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
