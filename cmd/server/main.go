package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/freq-response-backend/internal/api"
	"github.com/kjannette/freq-response-backend/internal/config"
	"github.com/kjannette/freq-response-backend/internal/db"
	"github.com/kjannette/freq-response-backend/internal/external"
	"github.com/kjannette/freq-response-backend/internal/httputil"
	"github.com/kjannette/freq-response-backend/internal/logging"
	"github.com/kjannette/freq-response-backend/internal/metrics"
	"github.com/kjannette/freq-response-backend/internal/notifications"
	"github.com/kjannette/freq-response-backend/internal/pipeline"
	"github.com/kjannette/freq-response-backend/internal/publish"
	"github.com/kjannette/freq-response-backend/internal/repository"
	"github.com/kjannette/freq-response-backend/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const banner = `
╔══════════════════════════════════════╗
║   Frequency Response Aggregator v1   ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	once := flag.Bool("once", false, "run the job once and exit")
	flag.Parse()

	os.Exit(run(*once))
}

func run(once bool) int {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	cfg.Print()

	log, closeLog, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer closeLog()

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Database (optional)
	var pool *pgxpool.Pool
	var runRepo *repository.RunRepo
	var intervalRepo *repository.IntervalRepo
	if cfg.DBEnabled {
		pool, err = connectDB(ctx, cfg, log)
		if err != nil {
			log.Error("database unavailable", "err", err)
			return 1
		}
		defer func() {
			pool.Close()
			log.Info("Connection pool closed")
		}()
		runRepo = repository.NewRunRepo(pool)
		intervalRepo = repository.NewIntervalRepo(pool)
	}

	// Publishers (optional)
	publishers := buildPublishers(cfg, log)
	defer func() {
		if err := publishers.Close(); err != nil {
			log.Error("close publishers", "err", err)
		}
	}()

	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, log)

	fetcher := external.NewBMRSClient(external.BMRSOptions{
		BaseURL:   cfg.BMRSBaseURL,
		URL:       cfg.FreqURL,
		Timeout:   cfg.FetchTimeout,
		Retry:     httputil.FixedRetry(cfg.FetchMaxAttempts, cfg.FetchRetryDelay),
		OnAttempt: m.FetchAttempt,
	}, log)

	opts := pipeline.Options{
		OutputPath:  cfg.OutputCSV,
		WindowHours: cfg.FreqWindowHours,
		Notifier:    notify,
		Metrics:     m,
	}
	if runRepo != nil {
		opts.Runs = runRepo
		opts.Intervals = intervalRepo
	}
	if len(publishers) > 0 {
		opts.Publisher = publishers
	}
	job := pipeline.NewJob(fetcher, opts, log)

	if once {
		runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
		if _, err := job.Run(runCtx); err != nil {
			return 1
		}
		return 0
	}

	// 1. Scheduler
	sched, err := scheduler.NewDailyScheduler(job, scheduler.Config{
		Spec:       cfg.ScheduleCron,
		Location:   cfg.Location(),
		RunTimeout: cfg.RunTimeout,
		RunOnStart: cfg.RunOnStart,
	}, log)
	if err != nil {
		log.Error("scheduler", "err", err)
		return 1
	}
	sched.Start()

	// 2. API server
	deps := api.Deps{
		Reports:   job,
		Trigger:   sched,
		Metrics:   m,
		CSVPath:   cfg.OutputCSV,
		Log:       log,
		AccessLog: os.Stdout,
	}
	if pool != nil {
		deps.Runs = runRepo
		deps.Intervals = intervalRepo
		deps.DB = pool
	}
	srv := api.NewServer(deps, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	log.Info("All services started successfully")

	code := 0
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error("API server error", "err", err)
		code = 1
	}
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("API shutdown error", "err", err)
	}
	log.Info("Shutdown complete")
	return code
}

func connectDB(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	log.Info(fmt.Sprintf("Connecting to %s:%d/%s ...", cfg.DBHost, cfg.DBPort, cfg.DBName))
	pool, err := db.Connect(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	now, err := db.TestConnection(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("Connected", "server_time", now.Format(time.RFC3339))

	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.EnsureSchema(schemaCtx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// buildPublishers connects the configured brokers. A broker that cannot be
// reached is logged and left out.
func buildPublishers(cfg *config.Config, log *slog.Logger) publish.Multi {
	var pubs publish.Multi
	if len(cfg.KafkaBrokers) > 0 {
		pubs = append(pubs, publish.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic))
		log.Info("Kafka publisher enabled", "topic", cfg.KafkaTopic)
	}
	if cfg.MQTTBroker != "" {
		p, err := publish.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			log.Error("MQTT publisher disabled", "err", err)
		} else {
			pubs = append(pubs, p)
			log.Info("MQTT publisher enabled", "topic", cfg.MQTTTopic)
		}
	}
	return pubs
}
