package store

import (
	"context"
	"database/sql"
	"fmt"
)

// TelemetrySample is one generic metric sample pushed by a collaborator.
type TelemetrySample struct {
	ID         int64   `json:"id"`
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	ModuleID   string  `json:"module_id,omitempty"`
	CapturedAt int64   `json:"captured_at"`
}

// TelemetrySummary aggregates one metric's samples.
type TelemetrySummary struct {
	Metric   string  `json:"metric"`
	AvgValue float64 `json:"avg_value"`
	LastSeen int64   `json:"last_seen"`
}

// InsertTelemetry stores one sample and returns it with its row id.
func (s *Store) InsertTelemetry(ctx context.Context, sample TelemetrySample) (TelemetrySample, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry (metric, value, module_id, captured_at)
		VALUES (?, ?, ?, ?)`,
		sample.Metric, sample.Value, nullString(sample.ModuleID), sample.CapturedAt,
	)
	if err != nil {
		return TelemetrySample{}, fmt.Errorf("inserting telemetry: %w", err)
	}
	sample.ID, _ = result.LastInsertId()
	return sample, nil
}

// ListTelemetry returns the newest samples first.
func (s *Store) ListTelemetry(ctx context.Context, limit int) ([]TelemetrySample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, metric, value, module_id, captured_at
		FROM telemetry ORDER BY captured_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry: %w", err)
	}
	defer rows.Close()

	var out []TelemetrySample
	for rows.Next() {
		var sample TelemetrySample
		var moduleID sql.NullString
		if err := rows.Scan(&sample.ID, &sample.Metric, &sample.Value, &moduleID, &sample.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning telemetry row: %w", err)
		}
		sample.ModuleID = moduleID.String
		out = append(out, sample)
	}
	return out, rows.Err()
}

// SummarizeTelemetry returns per-metric averages and last-seen timestamps.
func (s *Store) SummarizeTelemetry(ctx context.Context) ([]TelemetrySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT metric, AVG(value), MAX(captured_at)
		FROM telemetry GROUP BY metric ORDER BY metric`)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry summary: %w", err)
	}
	defer rows.Close()

	var out []TelemetrySummary
	for rows.Next() {
		var summary TelemetrySummary
		if err := rows.Scan(&summary.Metric, &summary.AvgValue, &summary.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning telemetry summary: %w", err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}
