package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/kjannette/freq-response-backend/internal/metrics"
	"github.com/kjannette/freq-response-backend/internal/models"
	"github.com/kjannette/freq-response-backend/internal/pipeline"
)

const maxQueryLimit = 1000

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Reports exposes the in-memory results of the pipeline.
type Reports interface {
	LastReport() *pipeline.Report
	LastSuccess() *pipeline.Report
}

// Trigger runs the pipeline on demand and reports schedule state.
type Trigger interface {
	RunNow(ctx context.Context) (*pipeline.Report, error)
	Running() bool
	Next() time.Time
}

type RunHistory interface {
	GetHistory(ctx context.Context, limit int) ([]models.Run, error)
}

type IntervalHistory interface {
	GetByDay(ctx context.Context, day string) ([]models.IntervalRow, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the server to the rest of the service. The database fields are
// left nil when no database is configured.
type Deps struct {
	Reports   Reports
	Trigger   Trigger
	Runs      RunHistory
	Intervals IntervalHistory
	DB        Pinger
	Metrics   *metrics.Metrics
	// CSVPath is read when no run has succeeded since startup.
	CSVPath   string
	Log       *slog.Logger
	AccessLog io.Writer
}

type Server struct {
	deps       Deps
	log        *slog.Logger
	httpServer *http.Server
	handler    http.Handler
	apiKey     string
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		deps:   deps,
		log:    log.With("component", "api"),
		apiKey: apiKey,
	}

	r := mux.NewRouter()

	// Health and metrics (no auth required)
	s.route(r, http.MethodGet, "/health", s.handleHealth)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)

	// Run routes
	s.route(r, http.MethodGet, "/v1/runs/latest", s.handleLatestRun)
	s.route(r, http.MethodGet, "/v1/runs", s.handleRunHistory)
	s.route(r, http.MethodPost, "/v1/runs", s.handleTriggerRun)

	// Interval routes
	s.route(r, http.MethodGet, "/v1/intervals/latest", s.handleLatestIntervals)
	s.route(r, http.MethodGet, "/v1/intervals/day/{date}", s.handleIntervalsByDay)

	var handler http.Handler = s.authMiddleware(r)
	handler = corsMiddleware(handler, corsOrigin)
	if deps.AccessLog != nil {
		handler = handlers.LoggingHandler(deps.AccessLog, handler)
	}
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	return s
}

func (s *Server) route(r *mux.Router, method, path string, h http.HandlerFunc) {
	r.Handle(path, s.deps.Metrics.WrapHandler(path, h)).Methods(method)
}

// Handler is the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	s.log.Info(fmt.Sprintf("REST API server started on http://localhost%s", s.httpServer.Addr))
	s.log.Info(fmt.Sprintf("Health check: http://localhost%s/health", s.httpServer.Addr))
	if s.apiKey != "" {
		s.log.Info("Authentication: enabled (Bearer token)")
	} else {
		s.log.Info("Authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return handlers.CORS(
		handlers.AllowedOrigins([]string{allowOrigin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(next)
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
