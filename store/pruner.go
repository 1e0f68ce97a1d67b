package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig bounds each history table by row count and, where it makes
// sense, calendar age. Zero disables that bound.
type RetentionConfig struct {
	UsageRows     int64
	CycleRows     int64
	TraceRows     int64
	TraceAge      time.Duration
	SnapshotRows  int64
	SnapshotAge   time.Duration
	TelemetryAge  time.Duration
	TelemetryRows int64
}

// DefaultRetention returns the default retention bounds.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		UsageRows:     5000,
		CycleRows:     20000,
		TraceRows:     10000,
		TraceAge:      14 * 24 * time.Hour,
		SnapshotRows:  100000,
		SnapshotAge:   30 * 24 * time.Hour,
		TelemetryAge:  30 * 24 * time.Hour,
		TelemetryRows: 50000,
	}
}

// Pruner periodically enforces retention bounds on the history tables.
type Pruner struct {
	store     *Store
	retention RetentionConfig
	interval  time.Duration
	logger    *slog.Logger
}

// NewPruner creates a pruner running at the given interval (default hourly).
func NewPruner(store *Store, retention RetentionConfig, interval time.Duration, logger *slog.Logger) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Run prunes once immediately, then on every tick until the context is
// cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	p.logger.Info("pruner started", "interval", p.interval)

	p.Prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune applies every retention bound once. Failures are logged per table and
// never abort the remaining tables.
func (p *Pruner) Prune(ctx context.Context) {
	nowMs := time.Now().UnixMilli()

	tables := []struct {
		name    string
		timeCol string
		maxRows int64
		maxAge  time.Duration
	}{
		{"spool_usage", "recorded_at", p.retention.UsageRows, 0},
		{"cycle_log", "recorded_at", p.retention.CycleRows, 0},
		{"ws_trace", "recorded_at", p.retention.TraceRows, p.retention.TraceAge},
		{"module_snapshots", "recorded_at", p.retention.SnapshotRows, p.retention.SnapshotAge},
		{"telemetry", "captured_at", p.retention.TelemetryRows, p.retention.TelemetryAge},
	}

	for _, t := range tables {
		var pruned int64
		if t.maxAge > 0 {
			cutoff := nowMs - t.maxAge.Milliseconds()
			n, err := p.deleteOlderThan(ctx, t.name, t.timeCol, cutoff)
			if err != nil {
				p.logger.Error("age prune failed", "table", t.name, "err", err)
				continue
			}
			pruned += n
		}
		if t.maxRows > 0 {
			n, err := p.trimToRowCount(ctx, t.name, t.timeCol, t.maxRows)
			if err != nil {
				p.logger.Error("row-count prune failed", "table", t.name, "err", err)
				continue
			}
			pruned += n
		}
		if pruned > 0 {
			p.logger.Info("pruned old rows", "table", t.name, "rows", pruned)
		}
	}
}

func (p *Pruner) deleteOlderThan(ctx context.Context, table, timeCol string, cutoffMs int64) (int64, error) {
	result, err := p.store.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, timeCol), cutoffMs)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// trimToRowCount keeps the newest maxRows rows by (timeCol, id) order.
func (p *Pruner) trimToRowCount(ctx context.Context, table, timeCol string, maxRows int64) (int64, error) {
	result, err := p.store.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id NOT IN (
			SELECT id FROM %s ORDER BY %s DESC, id DESC LIMIT ?)`, table, table, timeCol),
		maxRows)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
