package api

import (
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/kjannette/freq-response-backend/internal/export"
	"github.com/kjannette/freq-response-backend/internal/models"
)

type intervalJSON struct {
	Interval     time.Time `json:"interval"`
	AveragePower float64   `json:"averagePower"`
	Samples      int       `json:"samples"`
	RunID        string    `json:"runId,omitempty"`
}

func (s *Server) handleLatestIntervals(w http.ResponseWriter, r *http.Request) {
	var (
		results []models.IntervalAverage
		runID   string
	)
	if s.deps.Reports != nil {
		if last := s.deps.Reports.LastSuccess(); last != nil {
			results, runID = last.Results, last.ID
		}
	}

	if results == nil && s.deps.CSVPath != "" {
		fromFile, err := export.ReadCSV(s.deps.CSVPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			s.log.Error("read csv", "path", s.deps.CSVPath, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to read latest intervals")
			return
		default:
			results = fromFile
		}
	}

	if results == nil {
		writeError(w, http.StatusNotFound, "no successful run yet")
		return
	}

	out := make([]intervalJSON, len(results))
	for i, iv := range results {
		out[i] = intervalJSON{
			Interval:     iv.Interval.UTC(),
			AveragePower: iv.AveragePower,
			Samples:      iv.Samples,
			RunID:        runID,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIntervalsByDay(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if !validateDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return
	}
	if s.deps.Intervals == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}

	rows, err := s.deps.Intervals.GetByDay(r.Context(), date)
	if err != nil {
		s.log.Error("fetch intervals", "date", date, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch intervals")
		return
	}

	out := make([]intervalJSON, len(rows))
	for i, row := range rows {
		out[i] = intervalJSON{
			Interval:     row.Interval.UTC(),
			AveragePower: row.AveragePower,
			Samples:      row.Samples,
			RunID:        row.RunID,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
