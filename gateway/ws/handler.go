// Package ws implements the module-facing websocket endpoint: it accepts
// persistent connections from hardware modules, normalizes and dispatches
// their frames into the module state store, and relays replies back.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/PicklesTheWise/Pickle-Reef/frame"
	"github.com/PicklesTheWise/Pickle-Reef/metric"
	"github.com/PicklesTheWise/Pickle-Reef/modstate"
	"github.com/PicklesTheWise/Pickle-Reef/pkg/buffer"
	"github.com/PicklesTheWise/Pickle-Reef/registry"
	"github.com/PicklesTheWise/Pickle-Reef/store"
)

// DefaultQueueSize bounds the per-connection frame queue. Processing a frame
// may await durable writes; the queue keeps that from blocking the read loop.
const DefaultQueueSize = 256

// Handler serves the /ws endpoint.
type Handler struct {
	store     *modstate.Store
	registry  *registry.Registry
	trace     *store.TraceRecorder
	metrics   *metric.Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	queueSize int
}

// NewHandler creates the websocket handler. trace and metrics may be nil.
func NewHandler(st *modstate.Store, reg *registry.Registry, trace *store.TraceRecorder, metrics *metric.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    st,
		registry: reg,
		trace:    trace,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Modules connect from the local network without an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		queueSize: DefaultQueueSize,
	}
}

// inboundFrame is one received frame after normalization, carrying the
// identity resolved at receive time so processing order cannot lose it.
type inboundFrame struct {
	frameType string
	payload   map[string]any
	moduleID  string
}

// ServeHTTP upgrades the connection and runs it until disconnect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	h.logger.Info("websocket accepted", "remote", r.RemoteAddr)
	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		defer h.metrics.ActiveConnections.Dec()
	}

	// Handling must survive the request context being cancelled mid-frame: an
	// in-flight mutation and its durable write always run to completion.
	bg := context.WithoutCancel(r.Context())

	h.sendHandshake(bg, conn)

	queue, err := buffer.New[inboundFrame](h.queueSize,
		buffer.WithOverflowPolicy[inboundFrame](buffer.DropOldest),
		buffer.WithDropCallback[inboundFrame](func(dropped inboundFrame) {
			if h.metrics != nil {
				h.metrics.RecordFrameDropped()
			}
			h.logger.Warn("frame queue overflow", "frame_type", dropped.frameType, "module_id", dropped.moduleID)
		}),
	)
	if err != nil {
		h.logger.Error("frame queue init failed", "err", err)
		return
	}

	notify := make(chan struct{}, 1)
	readerDone := make(chan struct{})
	go h.receiveFrames(bg, conn, queue, notify, readerDone)

	h.processFrames(bg, conn, clientIP, queue, notify, readerDone)
}

// sendHandshake proactively asks a fresh connection for its config and
// manifest so the record fills in without waiting for the module's own
// schedule.
func (h *Handler) sendHandshake(ctx context.Context, conn *websocket.Conn) {
	for _, request := range []map[string]any{
		{"type": "config_request"},
		{"type": "module_manifest_request"},
	} {
		if err := conn.WriteJSON(request); err != nil {
			h.logger.Warn("handshake send failed", "frame_type", request["type"], "err", err)
			return
		}
		if h.trace != nil {
			h.trace.Record(ctx, store.DirectionTx, "", request, false)
		}
	}
}

// receiveFrames reads raw frames, normalizes them, resolves identity with the
// connection-level fallback, and queues them for processing. It exits on the
// first read error (disconnect) after closing the queue.
func (h *Handler) receiveFrames(ctx context.Context, conn *websocket.Conn, queue *buffer.Buffer[inboundFrame], notify chan<- struct{}, readerDone chan<- struct{}) {
	defer close(readerDone)
	defer queue.Close()

	fallbackID := ""
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "module_id", fallbackID, "err", err)
			}
			return
		}

		// A garbled frame is dropped, not a reason to drop the module.
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			h.logger.Warn("unparseable frame", "module_id", fallbackID, "err", err)
			if h.metrics != nil {
				h.metrics.RecordFrameDropped()
			}
			continue
		}

		f := frame.Normalize(raw)
		if resolved := frame.ResolveModuleID(f.Payload, fallbackID); resolved != frame.DefaultModuleID {
			fallbackID = resolved
		}
		if h.metrics != nil {
			h.metrics.RecordFrameReceived(f.Type)
		}
		if h.trace != nil {
			// Status frames are always traced; rehydration replays them.
			h.trace.Record(ctx, store.DirectionRx, fallbackID, raw, f.Type == "status")
		}

		item := inboundFrame{frameType: f.Type, payload: f.Payload, moduleID: fallbackID}
		if err := queue.Write(item); err != nil {
			return
		}
		select {
		case notify <- struct{}{}:
		default:
		}
	}
}

// processFrames drains the queue until the reader exits and the queue is
// empty, then marks the module offline.
func (h *Handler) processFrames(ctx context.Context, conn *websocket.Conn, clientIP string, queue *buffer.Buffer[inboundFrame], notify <-chan struct{}, readerDone <-chan struct{}) {
	var (
		moduleID string
		entry    *registry.Entry
	)

	defer func() {
		if entry != nil {
			h.registry.Unregister(entry)
		}
		if moduleID != "" {
			h.store.MarkOffline(ctx, moduleID)
		}
		h.logger.Info("module disconnected", "module_id", orUnknown(moduleID))
	}()

	readerExited := false
	for {
		item, ok := queue.Read()
		if !ok {
			if readerExited {
				return
			}
			select {
			case <-notify:
			case <-readerDone:
				readerExited = true
			}
			continue
		}

		if item.moduleID != "" && item.moduleID != frame.DefaultModuleID {
			moduleID = item.moduleID
		}

		status := h.dispatch(ctx, item, conn, clientIP, &entry)
		if h.metrics != nil {
			h.metrics.RecordFrameDispatched(item.frameType, status)
		}
	}
}

// dispatch routes one frame by type. Unrecognized types are ignored, never an
// error: firmware is allowed to be newer than the gateway.
func (h *Handler) dispatch(ctx context.Context, item inboundFrame, conn *websocket.Conn, clientIP string, entry **registry.Entry) string {
	moduleID := item.moduleID
	if moduleID == "" {
		moduleID = frame.DefaultModuleID
	}

	switch item.frameType {
	case "status":
		h.store.ApplyStatus(ctx, moduleID, item.payload, clientIP)
		// Targeted replies only work once a status frame has pinned identity.
		if *entry == nil || (*entry).ModuleID != moduleID {
			if *entry != nil {
				h.registry.Unregister(*entry)
			}
			*entry = h.registry.Register(moduleID, conn)
		}
		return "ok"

	case "config_request":
		if item.moduleID == "" || item.moduleID == frame.DefaultModuleID {
			return "ignored"
		}
		reply := buildConfigReply(moduleID)
		if err := h.registry.Send(moduleID, reply); err != nil {
			h.logger.Warn("config reply undeliverable", "module_id", moduleID, "err", err)
			return "error"
		}
		if h.trace != nil {
			h.trace.Record(ctx, store.DirectionTx, moduleID, reply, false)
		}
		return "ok"

	case "config":
		h.store.ApplyConfig(ctx, moduleID, item.payload)
		return "ok"

	case "module_manifest":
		h.store.ApplyManifest(ctx, moduleID, item.payload)
		return "ok"

	case "cycle_log":
		h.store.RecordCycleFrame(ctx, moduleID, item.payload)
		return "ok"

	case "alarm":
		h.store.ApplyAlarm(ctx, moduleID, item.payload)
		return "ok"

	case "spool_activations", "spool_tick":
		h.store.ApplyActivations(ctx, moduleID, item.payload, modstate.KindRoller)
		return "ok"

	case "ato_activations":
		h.store.ApplyActivations(ctx, moduleID, item.payload, modstate.KindPump)
		return "ok"

	default:
		h.logger.Debug("unhandled frame", "frame_type", item.frameType, "module_id", moduleID)
		return "ignored"
	}
}

func orUnknown(moduleID string) string {
	if moduleID == "" {
		return frame.DefaultModuleID
	}
	return moduleID
}
