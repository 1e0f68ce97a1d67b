// Package api exposes the operator-facing REST surface: module inventory and
// lifecycle, derived history queries, control command delivery, telemetry
// ingest, and the websocket trace debug endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/PicklesTheWise/Pickle-Reef/errors"
	"github.com/PicklesTheWise/Pickle-Reef/metric"
	"github.com/PicklesTheWise/Pickle-Reef/modstate"
	"github.com/PicklesTheWise/Pickle-Reef/registry"
	"github.com/PicklesTheWise/Pickle-Reef/store"
)

// Server holds the handler dependencies for the REST surface.
type Server struct {
	modules  *modstate.Store
	db       *store.Store
	registry *registry.Registry
	trace    *store.TraceRecorder
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// NewServer creates the REST server. trace and metrics may be nil.
func NewServer(modules *modstate.Store, db *store.Store, reg *registry.Registry, trace *store.TraceRecorder, metrics *metric.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		modules:  modules,
		db:       db,
		registry: reg,
		trace:    trace,
		metrics:  metrics,
		logger:   logger,
	}
}

// Routes builds the route table. The caller mounts the result alongside the
// websocket and metrics endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/modules", s.handleListModules)
	mux.HandleFunc("PUT /api/modules/{id}", s.handleUpdateModule)
	mux.HandleFunc("DELETE /api/modules/{id}", s.handleDeleteModule)
	mux.HandleFunc("GET /api/modules/{id}/snapshots", s.handleModuleSnapshots)
	mux.HandleFunc("POST /api/modules/{id}/control", s.handleControl)

	mux.HandleFunc("GET /api/cycles/history", s.handleCycleHistory)
	mux.HandleFunc("GET /api/spool-usage", s.handleSpoolUsage)

	mux.HandleFunc("GET /api/debug/ws-trace", s.handleGetTrace)
	mux.HandleFunc("DELETE /api/debug/ws-trace", s.handleClearTrace)

	mux.HandleFunc("GET /api/telemetry", s.handleListTelemetry)
	mux.HandleFunc("POST /api/telemetry", s.handleInsertTelemetry)
	mux.HandleFunc("GET /api/telemetry/summary", s.handleTelemetrySummary)

	return corsMiddleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"modules_connected": s.registry.Count(),
	})
}

// corsMiddleware allows the dashboard, served from a different port during
// development, to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response write failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

// errorStatus maps classified errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, errors.ErrNotConnected):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrModuleNotReady):
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryInt parses an integer query parameter, clamping it into [low, high].
// Absent or malformed values return the fallback.
func queryInt(r *http.Request, name string, fallback, low, high int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return clampInt(fallback, low, high)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return clampInt(fallback, low, high)
	}
	return clampInt(value, low, high)
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
