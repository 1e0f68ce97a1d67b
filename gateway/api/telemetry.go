package api

import (
	"encoding/json"
	"net/http"

	"github.com/PicklesTheWise/Pickle-Reef/pkg/timestamp"
	"github.com/PicklesTheWise/Pickle-Reef/store"
)

const maxTelemetryLimit = 5000

type telemetryRequest struct {
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	ModuleID   string  `json:"module_id,omitempty"`
	CapturedAt int64   `json:"captured_at,omitempty"`
}

func (s *Server) handleInsertTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Metric == "" {
		s.writeError(w, http.StatusBadRequest, "metric is required")
		return
	}
	if req.CapturedAt <= 0 {
		req.CapturedAt = timestamp.Now()
	}

	sample, err := s.db.InsertTelemetry(r.Context(), store.TelemetrySample{
		Metric:     req.Metric,
		Value:      req.Value,
		ModuleID:   req.ModuleID,
		CapturedAt: req.CapturedAt,
	})
	if err != nil {
		s.logger.Error("telemetry insert failed", "metric", req.Metric, "err", err)
		s.writeError(w, errorStatus(err), "failed to store sample")
		return
	}

	s.writeJSON(w, http.StatusCreated, sample)
}

func (s *Server) handleListTelemetry(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 500, 1, maxTelemetryLimit)

	samples, err := s.db.ListTelemetry(r.Context(), limit)
	if err != nil {
		s.logger.Error("telemetry query failed", "err", err)
		s.writeError(w, errorStatus(err), "failed to load telemetry")
		return
	}
	if samples == nil {
		samples = []store.TelemetrySample{}
	}

	s.writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleTelemetrySummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.db.SummarizeTelemetry(r.Context())
	if err != nil {
		s.logger.Error("telemetry summary failed", "err", err)
		s.writeError(w, errorStatus(err), "failed to summarize telemetry")
		return
	}
	if summaries == nil {
		summaries = []store.TelemetrySummary{}
	}

	s.writeJSON(w, http.StatusOK, summaries)
}
