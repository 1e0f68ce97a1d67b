package ws

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PicklesTheWise/Pickle-Reef/modstate"
	"github.com/PicklesTheWise/Pickle-Reef/registry"
)

type nopPersister struct{}

func (nopPersister) UpsertModule(context.Context, modstate.Record) error          { return nil }
func (nopPersister) AppendSnapshot(context.Context, modstate.SnapshotEntry) error { return nil }
func (nopPersister) AppendUsage(context.Context, modstate.UsageEntry) error       { return nil }
func (nopPersister) AppendCycle(context.Context, modstate.CycleEntry) error       { return nil }
func (nopPersister) PurgeModule(context.Context, string) (modstate.PurgeCounts, error) {
	return modstate.PurgeCounts{}, nil
}

type harness struct {
	store    *modstate.Store
	registry *registry.Registry
	server   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	st := modstate.NewStore(nopPersister{}, logger)
	reg := registry.New(logger)
	handler := NewHandler(st, reg, nil, nil, logger)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &harness{store: st, registry: reg, server: server}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readHandshake consumes the config_request and module_manifest_request the
// handler sends on accept.
func readHandshake(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	for _, want := range []string{"config_request", "module_manifest_request"} {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, want, msg["type"])
	}
}

func TestStatusFrameStoresAndRegisters(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	readHandshake(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"module_id": "reef-1",
			"spool":     map[string]any{"used_edges": float64(10)},
		},
	}))

	require.Eventually(t, func() bool {
		rec, ok := h.store.Get("reef-1")
		return ok && rec.Status == modstate.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.registry.IsConnected("reef-1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConfigRequestAnsweredWithDefaults(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	readHandshake(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "status",
		"payload": map[string]any{"module_id": "reef-1"},
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "config_request",
		"payload": map[string]any{"module_id": "reef-1"},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))

	assert.Equal(t, "config", reply["type"])
	assert.Equal(t, "reef-1", reply["module"])
	motor, ok := reply["motor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(255), motor["max_speed"])
	system, ok := reply["system"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, system["chirp_enabled"])
}

func TestDisconnectMarksOffline(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	readHandshake(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "status",
		"payload": map[string]any{"module_id": "reef-1"},
	}))
	require.Eventually(t, func() bool {
		return h.registry.IsConnected("reef-1")
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		rec, ok := h.store.Get("reef-1")
		return ok && rec.Status == modstate.StatusOffline && !h.registry.IsConnected("reef-1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGarbledFrameDoesNotDropConnection(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	readHandshake(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "status",
		"payload": map[string]any{"module_id": "reef-1"},
	}))

	require.Eventually(t, func() bool {
		rec, ok := h.store.Get("reef-1")
		return ok && rec.Status == modstate.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnknownFrameIgnored(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	readHandshake(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "firmware_debug",
		"payload": map[string]any{"module_id": "reef-1", "blob": "x"},
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "status",
		"payload": map[string]any{"module_id": "reef-1"},
	}))

	require.Eventually(t, func() bool {
		rec, ok := h.store.Get("reef-1")
		return ok && rec.Status == modstate.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAlarmFrameTracked(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	readHandshake(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "status",
		"payload": map[string]any{"module_id": "reef-1"},
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "alarm",
		"module_id": "reef-1",
		"payload":   map[string]any{"code": "spool_empty", "active": true},
	}))

	require.Eventually(t, func() bool {
		rec, ok := h.store.Get("reef-1")
		if !ok || len(rec.Alarms) != 1 {
			return false
		}
		return rec.Alarms[0].Code == "spool_empty" && rec.Alarms[0].Active
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnvelopedIdentityPinsConnection(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	readHandshake(t, conn)

	// Identity only in the envelope; the codec copies it into the payload.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "status",
		"module_id": "reef-9",
		"payload":   map[string]any{"temp_c": 25.0},
	}))

	require.Eventually(t, func() bool {
		return h.registry.IsConnected("reef-9")
	}, 2*time.Second, 10*time.Millisecond)
}
