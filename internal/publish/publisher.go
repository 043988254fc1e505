package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kjannette/freq-response-backend/internal/models"
)

// Publisher pushes a run's interval averages to a downstream system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, runID string, intervals []models.IntervalAverage) error
	Close() error
}

// IntervalMessage is the JSON payload sent for every interval.
type IntervalMessage struct {
	RunID        string    `json:"runId"`
	Interval     time.Time `json:"interval"`
	AveragePower float64   `json:"averagePower"`
	Samples      int       `json:"samples"`
}

func encode(runID string, iv models.IntervalAverage) ([]byte, error) {
	return json.Marshal(IntervalMessage{
		RunID:        runID,
		Interval:     iv.Interval.UTC(),
		AveragePower: iv.AveragePower,
		Samples:      iv.Samples,
	})
}

// Multi fans out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Name() string { return "multi" }

func (m Multi) Publish(ctx context.Context, runID string, intervals []models.IntervalAverage) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, runID, intervals); err != nil {
			errs = append(errs, &SinkError{Sink: p.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return e.Sink + ": " + e.Err.Error() }

func (e *SinkError) Unwrap() error { return e.Err }
