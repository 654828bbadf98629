package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/fault"
	"github.com/lazypower/sanctum/internal/isolation"
	"github.com/lazypower/sanctum/internal/lifecycle"
	"github.com/lazypower/sanctum/internal/logging"
	"github.com/lazypower/sanctum/internal/records"
	"github.com/lazypower/sanctum/internal/service"
	"github.com/lazypower/sanctum/internal/tenant"
)

// Deps are the components the API serves from.
type Deps struct {
	Directory *tenant.Directory
	Brain     *brain.Store
	Records   *records.Store
	Verifier  *isolation.Verifier
	Lifecycle *lifecycle.Manager
	Service   *service.Service

	// Metrics is mounted at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string
}

// Server is the sanctum HTTP API server.
type Server struct {
	Deps
	router  chi.Router
	logger  *slog.Logger
	version string
	started time.Time
}

// New creates a new Server with the given components and version string.
func New(d Deps, version string) *Server {
	s := &Server{
		Deps:    d,
		logger:  slog.Default().With("component", "server"),
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	if s.Metrics != nil && s.MetricsPath != "" {
		r.Method(http.MethodGet, s.MetricsPath, s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Use(s.requireUserID)

			r.Post("/", s.handleProvision)
			r.Delete("/", s.handleErase)
			r.Get("/isolation", s.handleIsolation)

			r.Get("/brain", s.handleBrain)
			r.Get("/brain/summary", s.handleBrainSummary)
			r.Get("/brain/context", s.handleBrainContext)
			r.Post("/brain/events", s.handleLearningEvent)
			r.Post("/brain/goals", s.handleBrainGoal)
			r.Patch("/brain/goals", s.handleBrainGoalProgress)
			r.Post("/brain/achievements", s.handleAchievement)
			r.Post("/brain/challenges", s.handleChallenge)
			r.Post("/brain/challenges/resolve", s.handleResolveChallenge)
			r.Post("/brain/growth-areas", s.handleGrowthArea)
			r.Put("/brain/personal-info", s.handlePersonalInfo)

			r.Post("/habits", s.handleHabits)
			r.Post("/mood", s.handleMood)
			r.Post("/productivity", s.handleProductivity)
			r.Post("/daily", s.handleDaily)

			r.Post("/goals", s.handleAddGoal)
			r.Get("/goals", s.handleListGoals)
			r.Patch("/goals/{goalID}", s.handleGoalProgress)

			r.Post("/chat", s.handleChat)
			r.Get("/chat", s.handleChatHistory)

			r.Get("/analytics", s.handleAnalytics)
			r.Post("/analytics/snapshot", s.handleSnapshotMetrics)
			r.Get("/analytics/metrics/{name}", s.handleMetricHistory)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	users, err := s.Directory.Users()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"storage":  err == nil,
		"data_dir": s.Directory.Root(),
		"users":    len(users),
	})
}

// requestLog logs each request once it completes.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireUserID rejects ids that cannot name a storage unit before any
// handler touches the disk.
func (s *Server) requireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := tenant.ValidateUserID(chi.URLParam(r, "userID")); err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
	Detail    any    `json:"detail,omitempty"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fault.ErrInvalidUser),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, brain.ErrInvalidInput),
		errors.Is(err, records.ErrInvalidInput),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, records.ErrNotFound),
		errors.Is(err, brain.ErrGoalNotFound),
		errors.Is(err, brain.ErrChallengeNotFound):
		return http.StatusNotFound
	case errors.Is(err, fault.ErrWrite):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrMentorUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorDetail(w, r, err, nil)
}

func (s *Server) writeErrorDetail(w http.ResponseWriter, r *http.Request, err error, detail any) {
	status := statusFor(err)
	body := errorBody{
		Error:     err.Error(),
		Retryable: fault.Retryable(err),
		Detail:    detail,
	}
	if fault.KindOf(err) != nil {
		body.Kind = fault.Describe(err)
	}
	if status >= http.StatusInternalServerError {
		logger := logging.WithUser(s.logger, chi.URLParam(r, "userID"), middleware.GetReqID(r.Context()))
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	if body.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}
