package store

// schema is applied in full at open; every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS modules (
	module_id        TEXT PRIMARY KEY,
	label            TEXT NOT NULL,
	firmware_version TEXT,
	ip_address       TEXT,
	rssi             REAL,
	status           TEXT NOT NULL,
	last_seen        INTEGER NOT NULL,
	status_payload   TEXT,
	config_payload   TEXT,
	alarms           TEXT
);

CREATE TABLE IF NOT EXISTS module_snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	module_id   TEXT NOT NULL,
	payload     TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_module_time ON module_snapshots(module_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_time ON module_snapshots(recorded_at);

CREATE TABLE IF NOT EXISTS spool_usage (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	module_id        TEXT NOT NULL,
	delta_edges      REAL NOT NULL,
	delta_mm         REAL NOT NULL,
	total_used_edges REAL NOT NULL,
	recorded_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_module_time ON spool_usage(module_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_usage_time ON spool_usage(recorded_at);

CREATE TABLE IF NOT EXISTS cycle_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	module_id          TEXT NOT NULL,
	cycle_type         TEXT NOT NULL,
	"trigger"          TEXT,
	duration_ms        REAL,
	timeout            INTEGER NOT NULL DEFAULT 0,
	module_timestamp_s REAL,
	recorded_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_time ON cycle_log(recorded_at);
CREATE INDEX IF NOT EXISTS idx_cycles_module_time ON cycle_log(module_id, recorded_at);

CREATE TABLE IF NOT EXISTS ws_trace (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at INTEGER NOT NULL,
	direction   TEXT NOT NULL,
	module_id   TEXT,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trace_time ON ws_trace(recorded_at);

CREATE TABLE IF NOT EXISTS telemetry (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	metric      TEXT NOT NULL,
	value       REAL NOT NULL,
	module_id   TEXT,
	captured_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_metric_time ON telemetry(metric, captured_at);
`
