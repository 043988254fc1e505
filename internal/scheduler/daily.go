package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kjannette/freq-response-backend/internal/pipeline"
	"github.com/robfig/cron/v3"
)

// Runner is the work triggered on every tick.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

type Config struct {
	Spec       string         // standard 5-field cron, e.g. "0 0 * * *"
	Location   *time.Location // defaults to UTC
	RunTimeout time.Duration
	RunOnStart bool
}

type DailyScheduler struct {
	runner Runner
	cfg    Config
	log    *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
}

func NewDailyScheduler(runner Runner, cfg Config, log *slog.Logger) (*DailyScheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = "0 0 * * *"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}

	s := &DailyScheduler{
		runner: runner,
		cfg:    cfg,
		log:    log.With("component", "scheduler"),
	}

	logger := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := s.cron.AddFunc(cfg.Spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", cfg.Spec, err)
	}
	s.entryID = id
	return s, nil
}

func (s *DailyScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("scheduler already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()

	if s.cfg.RunOnStart {
		go s.tick()
	}

	s.log.Info("Scheduler started", "spec", s.cfg.Spec, "tz", s.cfg.Location.String(), "next", s.Next().Format(time.RFC3339))
}

// Stop halts the schedule and waits for an in-flight run to return or ctx
// to expire.
func (s *DailyScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with a run in flight")
	}
	s.log.Info("Scheduler stopped")
}

func (s *DailyScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next is the next scheduled trigger, zero before Start.
func (s *DailyScheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// RunNow triggers a run outside the normal schedule.
func (s *DailyScheduler) RunNow(ctx context.Context) (*pipeline.Report, error) {
	s.log.Info("Manual run triggered")
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	return s.runner.Run(ctx)
}

func (s *DailyScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()
	if _, err := s.runner.Run(ctx); err != nil {
		s.log.Error("scheduled run failed", "err", err)
	}
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
