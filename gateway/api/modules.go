package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/PicklesTheWise/Pickle-Reef/modstate"
	"github.com/PicklesTheWise/Pickle-Reef/pkg/timestamp"
)

const (
	maxSnapshotLimit = 1000

	// Snapshot windows are bounded to a year.
	maxSnapshotWindowHours = 8760
)

// moduleView is a module record hydrated with the derived presentation
// fields the dashboard renders from.
type moduleView struct {
	modstate.Record
	ModuleType string               `json:"module_type"`
	Subsystems []modstate.Subsystem `json:"subsystems"`
	SpoolState map[string]any       `json:"spool_state,omitempty"`
	Connected  bool                 `json:"connected"`
}

func (s *Server) hydrate(rec modstate.Record) moduleView {
	return moduleView{
		Record:     rec,
		ModuleType: modstate.ClassifyModule(&rec),
		Subsystems: modstate.DeriveSubsystems(&rec),
		SpoolState: modstate.MergedSpoolState(&rec),
		Connected:  s.registry.IsConnected(rec.ModuleID),
	}
}

func (s *Server) handleListModules(w http.ResponseWriter, _ *http.Request) {
	records := s.modules.List()
	views := make([]moduleView, 0, len(records))
	for _, rec := range records {
		views = append(views, s.hydrate(rec))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleUpdateModule(w http.ResponseWriter, r *http.Request) {
	moduleID := r.PathValue("id")

	var update modstate.OperatorUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec := s.modules.UpsertOperator(r.Context(), moduleID, update)
	s.writeJSON(w, http.StatusOK, s.hydrate(rec))
}

func (s *Server) handleDeleteModule(w http.ResponseWriter, r *http.Request) {
	moduleID := r.PathValue("id")

	counts, err := s.modules.Purge(r.Context(), moduleID)
	if err != nil {
		s.logger.Error("module purge failed", "module_id", moduleID, "err", err)
		s.writeError(w, errorStatus(err), "failed to delete module")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"module_id": moduleID,
		"deleted":   counts,
	})
}

func (s *Server) handleModuleSnapshots(w http.ResponseWriter, r *http.Request) {
	moduleID := r.PathValue("id")
	limit := queryInt(r, "limit", 100, 1, maxSnapshotLimit)

	var sinceMs int64
	if windowHours := queryInt(r, "window_hours", 0, 0, maxSnapshotWindowHours); windowHours > 0 {
		sinceMs = timestamp.Now() - int64(windowHours)*time.Hour.Milliseconds()
	}

	snapshots, err := s.db.ListSnapshots(r.Context(), moduleID, sinceMs, limit)
	if err != nil {
		s.logger.Error("snapshot query failed", "module_id", moduleID, "err", err)
		s.writeError(w, errorStatus(err), "failed to load snapshots")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"module_id": moduleID,
		"snapshots": snapshots,
	})
}
