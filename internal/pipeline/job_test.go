package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/freq-response-backend/internal/export"
	"github.com/kjannette/freq-response-backend/internal/external"
	"github.com/kjannette/freq-response-backend/internal/logging"
	"github.com/kjannette/freq-response-backend/internal/metrics"
	"github.com/kjannette/freq-response-backend/internal/models"
	"github.com/kjannette/freq-response-backend/internal/power"
	"github.com/kjannette/freq-response-backend/internal/publish"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeFetcher struct {
	readings []models.Reading
	err      error
	from, to time.Time
	started  chan struct{}
	block    chan struct{}
}

func (f *fakeFetcher) FetchFrequency(ctx context.Context, from, to time.Time) ([]models.Reading, error) {
	f.from, f.to = from, to
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.readings, f.err
}

type fakeRuns struct {
	started  []models.Run
	finished []models.Run
	startErr error
}

func (f *fakeRuns) Start(ctx context.Context, run *models.Run) (*models.Run, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, *run)
	return run, nil
}

func (f *fakeRuns) Finish(ctx context.Context, run *models.Run) (*models.Run, error) {
	f.finished = append(f.finished, *run)
	return run, nil
}

type fakeIntervals struct {
	runID string
	got   []models.IntervalAverage
}

func (f *fakeIntervals) Record(ctx context.Context, runID string, intervals []models.IntervalAverage) error {
	f.runID = runID
	f.got = intervals
	return nil
}

type fakePublisher struct {
	err   error
	calls int
}

func (f *fakePublisher) Name() string { return "kafka" }
func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) Publish(ctx context.Context, runID string, intervals []models.IntervalAverage) error {
	f.calls++
	return f.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Send(ctx context.Context, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

var fixedNow = time.Date(2024, 1, 2, 0, 0, 3, 0, time.UTC)

func sampleReadings() []models.Reading {
	return []models.Reading{
		{MeasurementTime: "2024-01-01T00:00:15Z", Frequency: 50.2},
		{MeasurementTime: "2024-01-01T00:10:00Z", Frequency: 49.9},
		{MeasurementTime: "2024-01-01T00:31:00Z", Frequency: 50.6},
	}
}

func newTestJob(t *testing.T, f Fetcher, opts Options) (*Job, string) {
	t.Helper()
	if opts.OutputPath == "" {
		opts.OutputPath = filepath.Join(t.TempDir(), "average_power.csv")
	}
	opts.Now = func() time.Time { return fixedNow }
	return NewJob(f, opts, logging.Discard()), opts.OutputPath
}

func TestRun_Success(t *testing.T) {
	fetcher := &fakeFetcher{readings: sampleReadings()}
	runs := &fakeRuns{}
	ivs := &fakeIntervals{}
	pub := &fakePublisher{}
	notify := &fakeNotifier{}
	m := metrics.New(prometheus.NewRegistry())

	job, path := newTestJob(t, fetcher, Options{
		Runs: runs, Intervals: ivs, Publisher: pub, Notifier: notify, Metrics: m,
	})

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !fetcher.from.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) ||
		!fetcher.to.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("window: %s - %s", fetcher.from, fetcher.to)
	}
	if report.Status != models.RunStatusSuccess || report.Stage != "" || report.Error != nil {
		t.Fatalf("unexpected report: %+v", report.Run)
	}
	if report.ReadingCount != 3 || report.Intervals != 2 {
		t.Fatalf("counts: readings=%d intervals=%d", report.ReadingCount, report.Intervals)
	}
	if math.Abs(report.Results[0].AveragePower-0.3) > 1e-9 || report.Results[1].AveragePower != 1.0 {
		t.Fatalf("averages: %+v", report.Results)
	}

	rows, err := export.ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 csv rows, got %d", len(rows))
	}

	if len(runs.started) != 1 || len(runs.finished) != 1 || runs.finished[0].Status != models.RunStatusSuccess {
		t.Fatalf("run store calls: %+v", runs)
	}
	if ivs.runID != report.ID || len(ivs.got) != 2 {
		t.Fatalf("interval store: %q %d", ivs.runID, len(ivs.got))
	}
	if pub.calls != 1 {
		t.Fatalf("publisher calls: %d", pub.calls)
	}
	if len(notify.msgs) != 1 || !strings.Contains(notify.msgs[0], "wrote 2 intervals") {
		t.Fatalf("notifications: %v", notify.msgs)
	}
	if job.LastReport() != report || job.LastSuccess() != report {
		t.Fatal("last report not recorded")
	}
	if got := testutil.ToFloat64(m.RunsTotal("success")); got != 1 {
		t.Fatalf("success counter: %v", got)
	}
}

func TestRun_ParseFailureWritesNothing(t *testing.T) {
	readings := sampleReadings()
	readings[1].MeasurementTime = "2024-01-01 00:10:00"
	notify := &fakeNotifier{}
	m := metrics.New(prometheus.NewRegistry())

	job, path := newTestJob(t, &fakeFetcher{readings: readings}, Options{Notifier: notify, Metrics: m})

	report, err := job.Run(context.Background())
	if !errors.Is(err, power.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if report.Stage != StageParse || report.Status != models.RunStatusFailed {
		t.Fatalf("report: %+v", report.Run)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("csv must not be written on parse failure, stat err=%v", statErr)
	}
	if job.LastSuccess() != nil {
		t.Fatal("failed run must not be recorded as success")
	}
	if len(notify.msgs) != 1 || !strings.Contains(notify.msgs[0], "parse stage") {
		t.Fatalf("notifications: %v", notify.msgs)
	}
	if got := testutil.ToFloat64(m.RunsTotal(StageParse)); got != 1 {
		t.Fatalf("parse counter: %v", got)
	}
}

func TestRun_FetchFailure(t *testing.T) {
	fetchErr := &external.FetchError{URL: "http://x", Attempts: 3, Err: errors.New("boom")}
	runs := &fakeRuns{}
	job, path := newTestJob(t, &fakeFetcher{err: fetchErr}, Options{Runs: runs})

	report, err := job.Run(context.Background())
	if !errors.Is(err, external.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if StageOf(err) != StageFetch || report.Stage != StageFetch {
		t.Fatalf("stage: %q", report.Stage)
	}
	if len(runs.finished) != 1 || runs.finished[0].Status != models.RunStatusFailed {
		t.Fatalf("failed run not stored: %+v", runs.finished)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("csv must not be written on fetch failure")
	}
}

func TestRun_NoData(t *testing.T) {
	job, _ := newTestJob(t, &fakeFetcher{}, Options{})
	_, err := job.Run(context.Background())
	if !errors.Is(err, ErrNoData) || StageOf(err) != StageFetch {
		t.Fatalf("expected no-data fetch error, got %v", err)
	}
}

func TestRun_PersistFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "out.csv")
	job, _ := newTestJob(t, &fakeFetcher{readings: sampleReadings()}, Options{OutputPath: path})

	report, err := job.Run(context.Background())
	if !errors.Is(err, export.ErrPersist) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if report.Stage != StagePersist {
		t.Fatalf("stage: %q", report.Stage)
	}
}

func TestRun_OptionalSinkFailuresDoNotFailRun(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	runs := &fakeRuns{startErr: errors.New("db down")}
	ivs := &fakeIntervals{}
	pub := publish.Multi{&fakePublisher{err: errors.New("broker down")}}

	job, _ := newTestJob(t, &fakeFetcher{readings: sampleReadings()}, Options{
		Runs: runs, Intervals: ivs, Publisher: pub, Metrics: m,
	})

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("sink failures must not fail the run: %v", err)
	}
	if report.Status != models.RunStatusSuccess {
		t.Fatalf("status: %s", report.Status)
	}
	if ivs.got != nil {
		t.Fatal("intervals must not be stored when the run row was not created")
	}
	if got := testutil.ToFloat64(m.SinkErrors("db")); got != 1 {
		t.Fatalf("db sink errors: %v", got)
	}
	if got := testutil.ToFloat64(m.SinkErrors("kafka")); got != 1 {
		t.Fatalf("kafka sink errors: %v", got)
	}
}

func TestRun_RejectsOverlap(t *testing.T) {
	fetcher := &fakeFetcher{
		readings: sampleReadings(),
		started:  make(chan struct{}),
		block:    make(chan struct{}),
	}
	job, _ := newTestJob(t, fetcher, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := job.Run(context.Background())
		done <- err
	}()

	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never started")
	}

	if _, err := job.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(fetcher.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestStageOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&StageError{Stage: StagePersist, Err: errors.New("x")}, StagePersist},
		{&external.FetchError{Err: errors.New("x")}, StageFetch},
		{&power.ParseError{Value: "bad", Err: errors.New("x")}, StageParse},
		{&export.PersistenceError{Path: "p", Err: errors.New("x")}, StagePersist},
		{errors.New("other"), ""},
	}
	for _, tc := range cases {
		if got := StageOf(tc.err); got != tc.want {
			t.Errorf("StageOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
