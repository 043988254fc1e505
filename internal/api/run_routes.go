package api

import (
	"errors"
	"net/http"

	"github.com/kjannette/freq-response-backend/internal/pipeline"
)

type triggerResponse struct {
	Report *pipeline.Report `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusNotFound, "no runs yet")
		return
	}
	last := s.deps.Reports.LastReport()
	if last == nil {
		writeError(w, http.StatusNotFound, "no runs yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "manual runs are not available")
		return
	}

	report, err := s.deps.Trigger.RunNow(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.log.Error("manual run failed", "err", err)
		writeJSON(w, http.StatusBadGateway, triggerResponse{Report: report, Error: err.Error()})
	default:
		writeJSON(w, http.StatusAccepted, triggerResponse{Report: report})
	}
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	limit := parseLimit(r, 50)

	history, err := s.deps.Runs.GetHistory(r.Context(), limit)
	if err != nil {
		s.log.Error("fetch run history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch run history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}
