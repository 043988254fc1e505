package api

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
	LastRun   *lastRunInfo   `json:"lastRun,omitempty"`
	NextRun   string         `json:"nextRun,omitempty"`
}

type healthServices struct {
	Database  string `json:"database"`
	Scheduler string `json:"scheduler"`
}

type lastRunInfo struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dbStatus = "connected"
		if err := s.deps.DB.Ping(ctx); err != nil {
			dbStatus = "disconnected"
		}
	}

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus, Scheduler: "stopped"},
	}

	if s.deps.Trigger != nil && s.deps.Trigger.Running() {
		resp.Services.Scheduler = "running"
		if next := s.deps.Trigger.Next(); !next.IsZero() {
			resp.NextRun = next.UTC().Format(time.RFC3339)
		}
	}
	if s.deps.Reports != nil {
		if last := s.deps.Reports.LastReport(); last != nil {
			resp.LastRun = &lastRunInfo{
				ID:        last.ID,
				Status:    last.Status,
				Stage:     last.Stage,
				StartedAt: last.StartedAt,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
