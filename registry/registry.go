// Package registry tracks live module websocket connections and serializes
// outbound writes. One module id maps to at most one connection; a module that
// reconnects replaces its previous entry.
package registry

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/PicklesTheWise/Pickle-Reef/errors"
)

// conn is an abstraction over the write half of a websocket connection,
// satisfied by *websocket.Conn. Tests substitute a recording fake.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Entry is one registered module connection.
type Entry struct {
	ConnID   string
	ModuleID string

	mu     sync.Mutex
	ws     conn
	closed bool
}

// write marshals payload and sends it as a single text frame. Writes are
// serialized per connection; gorilla websockets do not allow concurrent
// writers.
func (e *Entry) write(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.WrapInvalid(err, "Registry", "write", "marshal payload")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.WrapTransient(errors.ErrNotConnected, "Registry", "write", "connection closed")
	}
	if err := e.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "Registry", "write", "send frame")
	}
	return nil
}

// Registry is the in-memory table of connected modules.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// Register binds a module id to a websocket connection and returns the entry.
// A previous connection for the same id is closed and replaced.
func (r *Registry) Register(moduleID string, ws *websocket.Conn) *Entry {
	return r.register(moduleID, ws)
}

func (r *Registry) register(moduleID string, ws conn) *Entry {
	entry := &Entry{
		ConnID:   uuid.NewString(),
		ModuleID: moduleID,
		ws:       ws,
	}

	r.mu.Lock()
	previous := r.entries[moduleID]
	r.entries[moduleID] = entry
	r.mu.Unlock()

	if previous != nil {
		previous.mu.Lock()
		previous.closed = true
		previous.mu.Unlock()
		_ = previous.ws.Close()
		r.logger.Info("replaced existing connection",
			"module_id", moduleID,
			"old_conn_id", previous.ConnID,
			"conn_id", entry.ConnID)
	} else {
		r.logger.Info("module connected",
			"module_id", moduleID,
			"conn_id", entry.ConnID)
	}
	return entry
}

// Unregister removes the entry only if it still owns the module id. This keeps
// a reconnect race from evicting the newer connection when the old one's read
// loop exits late.
func (r *Registry) Unregister(entry *Entry) {
	if entry == nil {
		return
	}

	r.mu.Lock()
	current, ok := r.entries[entry.ModuleID]
	if ok && current.ConnID == entry.ConnID {
		delete(r.entries, entry.ModuleID)
	}
	r.mu.Unlock()

	entry.mu.Lock()
	entry.closed = true
	entry.mu.Unlock()

	if ok && current.ConnID == entry.ConnID {
		r.logger.Info("module disconnected",
			"module_id", entry.ModuleID,
			"conn_id", entry.ConnID)
	}
}

// IsConnected reports whether the module currently has a live connection.
func (r *Registry) IsConnected(moduleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[moduleID]
	return ok
}

// ConnectedIDs returns the ids of all currently connected modules.
func (r *Registry) ConnectedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Send delivers a JSON payload to the named module. It returns
// errors.ErrNotConnected (wrapped) when the module has no live connection.
func (r *Registry) Send(moduleID string, payload any) error {
	r.mu.RLock()
	entry, ok := r.entries[moduleID]
	r.mu.RUnlock()

	if !ok {
		return errors.WrapTransient(errors.ErrNotConnected, "Registry", "Send", "lookup module "+moduleID)
	}
	return entry.write(payload)
}

// CloseAll closes every live connection, typically during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		entry.closed = true
		entry.mu.Unlock()
		_ = entry.ws.Close()
	}
}
