package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/freq-response-backend/internal/export"
	"github.com/kjannette/freq-response-backend/internal/external"
	"github.com/kjannette/freq-response-backend/internal/metrics"
	"github.com/kjannette/freq-response-backend/internal/models"
	"github.com/kjannette/freq-response-backend/internal/power"
	"github.com/kjannette/freq-response-backend/internal/publish"
)

const (
	StageFetch   = "fetch"
	StageParse   = "parse"
	StagePersist = "persist"
)

var (
	ErrNoData         = errors.New("no valid data fetched")
	ErrAlreadyRunning = errors.New("a run is already in progress")
)

// Fetcher retrieves raw frequency readings for a window.
type Fetcher interface {
	FetchFrequency(ctx context.Context, from, to time.Time) ([]models.Reading, error)
}

// RunStore persists run bookkeeping. Implemented by repository.RunRepo.
type RunStore interface {
	Start(ctx context.Context, run *models.Run) (*models.Run, error)
	Finish(ctx context.Context, run *models.Run) (*models.Run, error)
}

// IntervalStore persists interval averages. Implemented by repository.IntervalRepo.
type IntervalStore interface {
	Record(ctx context.Context, runID string, intervals []models.IntervalAverage) error
}

type Notifier interface {
	Send(ctx context.Context, msg string)
}

// StageError tags a failed run with the stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// Report is the outcome of one run.
type Report struct {
	models.Run
	Results []models.IntervalAverage `json:"results"`
}

type Options struct {
	OutputPath  string
	WindowHours int

	Runs      RunStore
	Intervals IntervalStore
	Publisher publish.Publisher
	Notifier  Notifier
	Metrics   *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

type Job struct {
	fetcher Fetcher
	opts    Options
	log     *slog.Logger

	runMu sync.Mutex

	mu          sync.RWMutex
	last        *Report
	lastSuccess *Report
}

func NewJob(fetcher Fetcher, opts Options, log *slog.Logger) *Job {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OutputPath == "" {
		opts.OutputPath = "average_power.csv"
	}
	if opts.WindowHours <= 0 {
		opts.WindowHours = 24
	}
	return &Job{
		fetcher: fetcher,
		opts:    opts,
		log:     log.With("component", "pipeline"),
	}
}

// Run fetches the window ending at the last midnight, aggregates it into
// half-hour average response power and writes the CSV. Database and
// publisher failures are logged and counted but do not fail the run.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	if !j.runMu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer j.runMu.Unlock()

	started := j.opts.Now()
	from, to := external.Window(started, j.opts.WindowHours)

	report := &Report{Run: models.Run{
		ID:         uuid.NewString(),
		StartedAt:  started,
		Status:     models.RunStatusRunning,
		WindowFrom: from,
		WindowTo:   to,
		OutputPath: j.opts.OutputPath,
	}}
	log := j.log.With("run_id", report.ID)
	log.Info("Job has been triggered.", "from", from.Format(time.RFC3339), "to", to.Format(time.RFC3339))

	stored := j.recordStart(ctx, log, report)

	intervals, err := j.execute(ctx, log, report, from, to)
	if err != nil {
		j.finish(ctx, log, report, stored, err)
		return report, err
	}

	report.Results = intervals
	report.Intervals = len(intervals)
	if stored && j.opts.Intervals != nil {
		if err := j.opts.Intervals.Record(ctx, report.ID, intervals); err != nil {
			log.Error("store intervals", "err", err)
			j.opts.Metrics.SinkError("db")
		}
	}
	if j.opts.Publisher != nil {
		if err := j.opts.Publisher.Publish(ctx, report.ID, intervals); err != nil {
			log.Error("publish intervals", "err", err)
			var se *publish.SinkError
			if errors.As(err, &se) {
				j.opts.Metrics.SinkError(se.Sink)
			} else {
				j.opts.Metrics.SinkError(j.opts.Publisher.Name())
			}
		}
	}

	for _, iv := range intervals {
		log.Info(fmt.Sprintf("Interval: %s, Average Power: %v",
			iv.Interval.Format(export.IntervalLayout), iv.AveragePower))
	}

	j.finish(ctx, log, report, stored, nil)
	return report, nil
}

func (j *Job) execute(ctx context.Context, log *slog.Logger, report *Report, from, to time.Time) ([]models.IntervalAverage, error) {
	readings, err := j.fetcher.FetchFrequency(ctx, from, to)
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}
	if len(readings) == 0 {
		log.Warn("No valid data fetched, job will be aborted.")
		return nil, &StageError{Stage: StageFetch, Err: ErrNoData}
	}
	report.ReadingCount = len(readings)

	result, err := power.Aggregate(readings)
	if err != nil {
		return nil, &StageError{Stage: StageParse, Err: err}
	}

	if err := export.WriteCSV(j.opts.OutputPath, result); err != nil {
		return nil, &StageError{Stage: StagePersist, Err: err}
	}
	log.Info(fmt.Sprintf("Data successfully saved to %s", j.opts.OutputPath))

	return result.Intervals(), nil
}

func (j *Job) recordStart(ctx context.Context, log *slog.Logger, report *Report) bool {
	if j.opts.Runs == nil {
		return false
	}
	if _, err := j.opts.Runs.Start(ctx, &report.Run); err != nil {
		log.Error("record run start", "err", err)
		j.opts.Metrics.SinkError("db")
		return false
	}
	return true
}

func (j *Job) finish(ctx context.Context, log *slog.Logger, report *Report, stored bool, runErr error) {
	finished := j.opts.Now()
	report.FinishedAt = &finished
	elapsed := finished.Sub(report.StartedAt)

	outcome := "success"
	if runErr != nil {
		report.Status = models.RunStatusFailed
		report.Stage = StageOf(runErr)
		msg := runErr.Error()
		report.Error = &msg
		outcome = report.Stage
		log.Error("Job failed", "stage", report.Stage, "err", runErr)
	} else {
		report.Status = models.RunStatusSuccess
		j.opts.Metrics.RunSucceeded(report.ReadingCount, report.Intervals, finished)
		log.Info("Job completed successfully.", "intervals", report.Intervals, "elapsed", elapsed.String())
	}
	j.opts.Metrics.RunFinished(outcome, elapsed)

	if stored {
		if _, err := j.opts.Runs.Finish(ctx, &report.Run); err != nil {
			log.Error("record run finish", "err", err)
			j.opts.Metrics.SinkError("db")
		}
	}

	j.mu.Lock()
	j.last = report
	if runErr == nil {
		j.lastSuccess = report
	}
	j.mu.Unlock()

	if j.opts.Notifier != nil {
		if runErr != nil {
			j.opts.Notifier.Send(ctx, fmt.Sprintf("Run %s failed at %s stage: %v", report.ID, report.Stage, runErr))
		} else {
			j.opts.Notifier.Send(ctx, fmt.Sprintf("Run %s wrote %d intervals from %d readings to %s",
				report.ID, report.Intervals, report.ReadingCount, report.OutputPath))
		}
	}
}

// LastReport returns the most recent run, or nil before the first run.
func (j *Job) LastReport() *Report {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}

// LastSuccess returns the most recent successful run.
func (j *Job) LastSuccess() *Report {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastSuccess
}

// StageOf classifies err into fetch, parse or persist. Errors that carry no
// stage are classified by their sentinel.
func StageOf(err error) string {
	var se *StageError
	switch {
	case errors.As(err, &se):
		return se.Stage
	case errors.Is(err, external.ErrFetch), errors.Is(err, ErrNoData):
		return StageFetch
	case errors.Is(err, power.ErrParse):
		return StageParse
	case errors.Is(err, export.ErrPersist):
		return StagePersist
	default:
		return ""
	}
}
