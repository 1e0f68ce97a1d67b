package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PicklesTheWise/Pickle-Reef/modstate"
	"github.com/PicklesTheWise/Pickle-Reef/registry"
	"github.com/PicklesTheWise/Pickle-Reef/store"
)

type fixture struct {
	modules  *modstate.Store
	db       *store.Store
	registry *registry.Registry
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	modules := modstate.NewStore(db, logger)
	reg := registry.New(logger)
	api := NewServer(modules, db, reg, nil, nil, logger)
	server := httptest.NewServer(api.Routes())
	t.Cleanup(server.Close)

	return &fixture{modules: modules, db: db, registry: reg, server: server}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (f *fixture) request(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

// connectModule stands up a websocket pipe and registers its server side, so
// command delivery has a real connection to write to.
func connectModule(t *testing.T, reg *registry.Registry, moduleID string) <-chan map[string]any {
	t.Helper()

	received := make(chan map[string]any, 16)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Register(moduleID, conn)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	go func() {
		for {
			var msg map[string]any
			if err := client.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
		}
	}()

	require.Eventually(t, func() bool {
		return reg.IsConnected(moduleID)
	}, 2*time.Second, 10*time.Millisecond)
	return received
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["modules_connected"])
}

func TestListModulesHydrated(t *testing.T) {
	f := newFixture(t)
	f.modules.ApplyStatus(context.Background(), "reef-1", map[string]any{
		"spool": map[string]any{"used_edges": float64(10), "full_edges": float64(100)},
	}, "10.0.0.5")

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/modules", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var views []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 1)

	assert.Equal(t, "reef-1", views[0]["module_id"])
	assert.Equal(t, modstate.TypeFilter, views[0]["module_type"])
	assert.Equal(t, false, views[0]["connected"])
	assert.Equal(t, "10.0.0.5", views[0]["ip_address"])
	subsystems, ok := views[0]["subsystems"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, subsystems)
}

func TestUpdateModuleLabel(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodPut, "/api/modules/reef-1",
		map[string]any{"label": "Display Tank"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Display Tank", body["label"])
	assert.Equal(t, modstate.StatusDiscovering, body["status"])
}

func TestDeleteModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modules.ApplyStatus(ctx, "reef-1", map[string]any{"temp_c": 25.0}, "")
	require.NoError(t, f.modules.Drain(ctx))

	resp, body := f.request(t, http.MethodDelete, "/api/modules/reef-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	deleted, ok := body["deleted"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), deleted["modules"])

	_, exists := f.modules.Get("reef-1")
	assert.False(t, exists)
}

func TestCycleHistoryStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	duration := func(ms float64) *float64 { return &ms }
	require.NoError(t, f.db.AppendCycle(ctx, modstate.CycleEntry{
		ModuleID: "reef-1", CycleType: modstate.CycleRollerActivation,
		Trigger: "auto", DurationMs: duration(5000), RecordedAt: now - 1000,
	}))
	require.NoError(t, f.db.AppendCycle(ctx, modstate.CycleEntry{
		ModuleID: "reef-1", CycleType: modstate.CycleRollerActivation,
		Trigger: "auto", DurationMs: duration(7000), RecordedAt: now - 500,
	}))
	require.NoError(t, f.db.AppendCycle(ctx, modstate.CycleEntry{
		ModuleID: "reef-1", CycleType: modstate.CyclePumpActivation,
		Trigger: "auto", DurationMs: duration(3000), RecordedAt: now - 200,
	}))

	resp, body := f.request(t, http.MethodGet, "/api/cycles/history?window_hours=12", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(12), body["window_hours"])

	rollerStats, ok := body["roller_stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), rollerStats["count"])
	assert.Equal(t, float64(12000), rollerStats["total_duration_ms"])
	assert.Equal(t, float64(6000), rollerStats["avg_duration_ms"])

	atoStats, ok := body["ato_stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), atoStats["count"])
	assert.Equal(t, float64(3), atoStats["avg_fill_seconds"])
}

func TestCycleHistoryBucketsByTypePrefix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	duration := func(ms float64) *float64 { return &ms }
	require.NoError(t, f.db.AppendCycle(ctx, modstate.CycleEntry{
		ModuleID: "reef-1", CycleType: modstate.CycleRollerActivation,
		Trigger: "auto", DurationMs: duration(5000), RecordedAt: now - 400,
	}))
	// cycle_log frames carry free-form types; prefix decides the bucket.
	require.NoError(t, f.db.AppendCycle(ctx, modstate.CycleEntry{
		ModuleID: "reef-1", CycleType: "pump_timeout",
		Trigger: "auto", Timeout: true, RecordedAt: now - 300,
	}))
	require.NoError(t, f.db.AppendCycle(ctx, modstate.CycleEntry{
		ModuleID: "reef-1", CycleType: "unknown", RecordedAt: now - 200,
	}))

	resp, body := f.request(t, http.MethodGet, "/api/cycles/history?window_hours=12", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rollerStats, ok := body["roller_stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), rollerStats["count"])

	atoStats, ok := body["ato_stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), atoStats["count"])
	// The untimed timeout entry averages in as zero.
	assert.Equal(t, float64(0), atoStats["avg_duration_ms"])
	assert.Equal(t, float64(0), atoStats["avg_fill_seconds"])

	rollerRuns, ok := body["roller_runs"].([]any)
	require.True(t, ok)
	assert.Len(t, rollerRuns, 1)
	atoRuns, ok := body["ato_runs"].([]any)
	require.True(t, ok)
	assert.Len(t, atoRuns, 1)
}

func TestCycleHistoryWindowClamped(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodGet, "/api/cycles/history?window_hours=99999", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(8760), body["window_hours"])
}

func TestSpoolUsageFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, f.db.AppendUsage(ctx, modstate.UsageEntry{
		ModuleID: "reef-1", DeltaEdges: 10, DeltaMm: 500, TotalUsedEdges: 10, RecordedAt: now - 100,
	}))
	require.NoError(t, f.db.AppendUsage(ctx, modstate.UsageEntry{
		ModuleID: "reef-2", DeltaEdges: 4, DeltaMm: 200, TotalUsedEdges: 4, RecordedAt: now - 50,
	}))

	resp, body := f.request(t, http.MethodGet, "/api/spool-usage?module_id=reef-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	entry, ok := entries[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "reef-1", entry["module_id"])
	assert.Equal(t, float64(500), entry["delta_mm"])
}

func TestTraceEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, f.db.AppendTrace(ctx, store.DirectionRx, "reef-1",
		map[string]any{"type": "status"}, now))

	resp, body := f.request(t, http.MethodGet, "/api/debug/ws-trace", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = f.request(t, http.MethodDelete, "/api/debug/ws-trace", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["cleared"])

	resp, body = f.request(t, http.MethodGet, "/api/debug/ws-trace", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])
}

func TestTelemetryRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodPost, "/api/telemetry",
		map[string]any{"metric": "tank_temp_c", "value": 25.5, "module_id": "reef-1"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "tank_temp_c", body["metric"])
	assert.Greater(t, body["captured_at"], float64(0))

	resp, _ = f.request(t, http.MethodPost, "/api/telemetry",
		map[string]any{"metric": "tank_temp_c", "value": 26.5})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/telemetry/summary", nil)
	require.NoError(t, err)
	summaryResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer summaryResp.Body.Close()

	var summaries []map[string]any
	require.NoError(t, json.NewDecoder(summaryResp.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "tank_temp_c", summaries[0]["metric"])
	assert.Equal(t, float64(26), summaries[0]["avg_value"])
}

func TestTelemetryRejectsMissingMetric(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, http.MethodPost, "/api/telemetry", map[string]any{"value": 1.0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModuleSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modules.ApplyStatus(ctx, "reef-1", map[string]any{"temp_c": 25.0}, "")
	f.modules.ApplyStatus(ctx, "reef-1", map[string]any{"temp_c": 26.0}, "")
	require.NoError(t, f.modules.Drain(ctx))

	resp, body := f.request(t, http.MethodGet, "/api/modules/reef-1/snapshots?limit=10", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	snapshots, ok := body["snapshots"].([]any)
	require.True(t, ok)
	assert.Len(t, snapshots, 2)
}
