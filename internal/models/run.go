package models

import "time"

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

type Run struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Status       string     `json:"status"`
	Stage        string     `json:"stage,omitempty"` // "fetch", "parse" or "persist" on failure
	WindowFrom   time.Time  `json:"windowFrom"`
	WindowTo     time.Time  `json:"windowTo"`
	ReadingCount int        `json:"readingCount"`
	Intervals    int        `json:"intervals"`
	OutputPath   string     `json:"outputPath"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// IntervalRow is a persisted interval average tied to the run that produced it.
type IntervalRow struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"runId"`
	Interval     time.Time `json:"interval"`
	AveragePower float64   `json:"averagePower"`
	Samples      int       `json:"samples"`
	CreatedAt    time.Time `json:"createdAt"`
}
