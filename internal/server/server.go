// Package server exposes the pipeline trigger over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/plant-for-the-planet/firealert/internal/config"
	"github.com/plant-for-the-planet/firealert/internal/engine"
	"github.com/plant-for-the-planet/firealert/internal/runlock"
)

// TriggerPath is the route external schedulers call.
const TriggerPath = "/api/cron/geo-event-fetcher"

// Runner runs one pipeline cycle.
type Runner interface {
	Run(ctx context.Context, limit int) (engine.RunSummary, error)
}

// Pinger reports datastore health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the server.
type Options struct {
	CronKey  string
	Pipeline config.PipelineConfig // limit defaults and clamping
	Health   Pinger                // nil reports healthy
	Gatherer prometheus.Gatherer   // nil disables /metrics
}

// Server routes trigger, health and metrics requests.
type Server struct {
	runner Runner
	opts   Options
}

// New creates a Server.
func New(runner Runner, opts Options) *Server {
	return &Server{runner: runner, opts: opts}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Get(TriggerPath, s.trigger)
	r.Post(TriggerPath, s.trigger)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type messageResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r.FormValue("cron_key")) {
		writeJSON(w, http.StatusForbidden, messageResponse{Message: "unauthorized", Status: http.StatusForbidden})
		return
	}

	requested, _ := strconv.Atoi(r.FormValue("limit"))
	limit := s.opts.Pipeline.ClampLimit(requested)

	// The run outlives a scheduler that hangs up early; its own timeout applies.
	summary, err := s.runner.Run(context.WithoutCancel(r.Context()), limit)
	switch {
	case errors.Is(err, runlock.ErrLocked):
		writeJSON(w, http.StatusConflict, summary)
	case err != nil:
		zap.L().Error("trigger run failed", zap.String("component", "server"), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "run failed", Status: http.StatusInternalServerError})
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) authorized(key string) bool {
	if s.opts.CronKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.CronKey)) == 1
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.opts.Health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("component", "server"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
