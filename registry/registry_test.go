package registry

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PicklesTheWise/Pickle-Reef/errors"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestSendToConnectedModule(t *testing.T) {
	r := New(nil)
	ws := &fakeConn{}
	r.register("roller-1", ws)

	require.True(t, r.IsConnected("roller-1"))
	require.NoError(t, r.Send("roller-1", map[string]any{"type": "config_request"}))

	require.Len(t, ws.frames, 1)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(ws.frames[0], &sent))
	assert.Equal(t, "config_request", sent["type"])
}

func TestSendToUnknownModuleFails(t *testing.T) {
	r := New(nil)
	err := r.Send("ghost", map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestReconnectReplacesAndClosesOld(t *testing.T) {
	r := New(nil)
	oldWS := &fakeConn{}
	newWS := &fakeConn{}

	oldEntry := r.register("roller-1", oldWS)
	r.register("roller-1", newWS)

	assert.True(t, oldWS.closed)
	assert.Equal(t, 1, r.Count())

	// The stale entry's late unregister must not evict the new connection.
	r.Unregister(oldEntry)
	assert.True(t, r.IsConnected("roller-1"))

	require.NoError(t, r.Send("roller-1", map[string]any{"n": 1}))
	assert.Len(t, newWS.frames, 1)
	assert.Empty(t, oldWS.frames)
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New(nil)
	entry := r.register("ato-1", &fakeConn{})

	r.Unregister(entry)
	assert.False(t, r.IsConnected("ato-1"))
	assert.Zero(t, r.Count())

	err := r.Send("ato-1", map[string]any{})
	assert.Error(t, err)
}

func TestSendAfterCloseAllFails(t *testing.T) {
	r := New(nil)
	ws := &fakeConn{}
	r.register("roller-1", ws)

	r.CloseAll()

	assert.True(t, ws.closed)
	assert.Zero(t, r.Count())
	assert.Error(t, r.Send("roller-1", map[string]any{}))
}

func TestConnectedIDs(t *testing.T) {
	r := New(nil)
	r.register("a", &fakeConn{})
	r.register("b", &fakeConn{})

	ids := r.ConnectedIDs()
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}
