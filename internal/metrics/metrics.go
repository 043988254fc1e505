package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	fetchAttempts     prometheus.Counter
	readingsTotal     prometheus.Counter
	intervalsLast     prometheus.Gauge
	lastSuccess       prometheus.Gauge
	sinkErrors        *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. Passing nil uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freq_pipeline_runs_total",
			Help: "Pipeline runs by outcome (success, fetch, parse, persist).",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "freq_pipeline_run_duration_seconds",
			Help:    "Wall time of a pipeline run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		fetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freq_fetch_attempts_total",
			Help: "HTTP attempts made against the frequency dataset.",
		}),
		readingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freq_readings_total",
			Help: "Frequency readings aggregated.",
		}),
		intervalsLast: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freq_intervals_last_run",
			Help: "Half-hour intervals produced by the last successful run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freq_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freq_sink_errors_total",
			Help: "Failures of optional sinks by name.",
		}, []string{"sink"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.fetchAttempts,
		m.readingsTotal,
		m.intervalsLast,
		m.lastSuccess,
		m.sinkErrors,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

func (m *Metrics) RunFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func (m *Metrics) RunSucceeded(readings, intervals int, at time.Time) {
	if m == nil {
		return
	}
	m.readingsTotal.Add(float64(readings))
	m.intervalsLast.Set(float64(intervals))
	m.lastSuccess.Set(float64(at.Unix()))
}

func (m *Metrics) FetchAttempt() {
	if m == nil {
		return
	}
	m.fetchAttempts.Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// RunsTotal exposes the run counter for one outcome.
func (m *Metrics) RunsTotal(outcome string) prometheus.Counter {
	return m.runsTotal.WithLabelValues(outcome)
}

func (m *Metrics) SinkErrors(sink string) prometheus.Counter {
	return m.sinkErrors.WithLabelValues(sink)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
