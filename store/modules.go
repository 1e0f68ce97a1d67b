package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/PicklesTheWise/Pickle-Reef/modstate"
)

// UpsertModule writes the full module record, replacing any previous row.
func (s *Store) UpsertModule(ctx context.Context, rec modstate.Record) error {
	statusJSON, err := marshalNullable(rec.StatusPayload)
	if err != nil {
		return fmt.Errorf("marshaling status payload: %w", err)
	}
	configJSON, err := marshalNullable(rec.ConfigPayload)
	if err != nil {
		return fmt.Errorf("marshaling config payload: %w", err)
	}
	alarmsJSON, err := json.Marshal(rec.Alarms)
	if err != nil {
		return fmt.Errorf("marshaling alarms: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO modules
		(module_id, label, firmware_version, ip_address, rssi, status, last_seen, status_payload, config_payload, alarms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ModuleID, rec.Label, nullString(rec.FirmwareVersion), nullString(rec.IPAddress),
		rec.RSSI, rec.Status, rec.LastSeen, statusJSON, configJSON, string(alarmsJSON),
	)
	if err != nil {
		return fmt.Errorf("upserting module %s: %w", rec.ModuleID, err)
	}
	return nil
}

// LoadModules reads every stored module record, used to seed the in-memory
// store at startup.
func (s *Store) LoadModules(ctx context.Context) ([]modstate.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, label, firmware_version, ip_address, rssi, status, last_seen, status_payload, config_payload, alarms
		FROM modules ORDER BY module_id`)
	if err != nil {
		return nil, fmt.Errorf("querying modules: %w", err)
	}
	defer rows.Close()

	var out []modstate.Record
	for rows.Next() {
		var rec modstate.Record
		var firmware, ip, statusJSON, configJSON, alarmsJSON sql.NullString
		var rssi sql.NullFloat64
		if err := rows.Scan(&rec.ModuleID, &rec.Label, &firmware, &ip, &rssi, &rec.Status,
			&rec.LastSeen, &statusJSON, &configJSON, &alarmsJSON); err != nil {
			return nil, fmt.Errorf("scanning module row: %w", err)
		}
		rec.FirmwareVersion = firmware.String
		rec.IPAddress = ip.String
		if rssi.Valid {
			v := rssi.Float64
			rec.RSSI = &v
		}
		if statusJSON.Valid && statusJSON.String != "" {
			if err := json.Unmarshal([]byte(statusJSON.String), &rec.StatusPayload); err != nil {
				return nil, fmt.Errorf("decoding status payload for %s: %w", rec.ModuleID, err)
			}
		}
		if configJSON.Valid && configJSON.String != "" {
			if err := json.Unmarshal([]byte(configJSON.String), &rec.ConfigPayload); err != nil {
				return nil, fmt.Errorf("decoding config payload for %s: %w", rec.ModuleID, err)
			}
		}
		if alarmsJSON.Valid && alarmsJSON.String != "" {
			if err := json.Unmarshal([]byte(alarmsJSON.String), &rec.Alarms); err != nil {
				return nil, fmt.Errorf("decoding alarms for %s: %w", rec.ModuleID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeModule deletes the module row and every dependent history row,
// reporting how many rows each table lost. Purging an unknown id succeeds
// with zero counts.
func (s *Store) PurgeModule(ctx context.Context, moduleID string) (modstate.PurgeCounts, error) {
	var counts modstate.PurgeCounts

	deletes := []struct {
		query string
		dest  *int64
	}{
		{"DELETE FROM modules WHERE module_id = ?", &counts.Modules},
		{"DELETE FROM spool_usage WHERE module_id = ?", &counts.Usage},
		{"DELETE FROM cycle_log WHERE module_id = ?", &counts.Cycles},
		{"DELETE FROM module_snapshots WHERE module_id = ?", &counts.Snapshots},
	}
	for _, d := range deletes {
		result, err := s.db.ExecContext(ctx, d.query, moduleID)
		if err != nil {
			return modstate.PurgeCounts{}, fmt.Errorf("purging module %s: %w", moduleID, err)
		}
		*d.dest, _ = result.RowsAffected()
	}
	return counts, nil
}

func marshalNullable(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
