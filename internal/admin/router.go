// Package admin serves the operational HTTP surface: liveness, readiness,
// Prometheus metrics and entity registry introspection.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/registry"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const readyCheckTimeout = 5 * time.Second

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Registry is the part of *registry.Manager the admin routes use.
type Registry interface {
	Current() *registry.State
	Refresh(ctx context.Context) (registry.Stats, error)
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type Options struct {
	Registry Registry
	// Checks run on /ready, keyed by dependency name.
	Checks  map[string]Check
	Metrics http.Handler
	Logger  Logger
	Now     func() time.Time
}

type handlers struct {
	opts Options
}

// NewRouter builds the chi router. Metrics is mounted only when set.
func NewRouter(opts Options) *chi.Mux {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	h := &handlers{opts: opts}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.health)
	r.Get("/ready", h.ready)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Route("/admin/registry", func(r chi.Router) {
		r.Get("/", h.registryStats)
		r.Post("/refresh", h.refreshRegistry)
	})
	return r
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	failures := map[string]string{}
	for name, check := range h.opts.Checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "not_ready",
			"failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) registryStats(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Registry == nil {
		writeError(w, http.StatusNotFound, "REGISTRY_DISABLED", "entity registry is not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Registry.Current().Stats(h.opts.Now()))
}

// refreshRegistry forces a rebuild. Concurrent requests join the same build.
// On a rejected build the previous registry stays live and its stats are
// returned alongside the error.
func (h *handlers) refreshRegistry(w http.ResponseWriter, r *http.Request) {
	if h.opts.Registry == nil {
		writeError(w, http.StatusNotFound, "REGISTRY_DISABLED", "entity registry is not configured")
		return
	}
	reqID := chimw.GetReqID(r.Context())
	start := h.opts.Now()

	stats, err := h.opts.Registry.Refresh(r.Context())
	if err != nil {
		se := apperrors.Normalize(err)
		status := http.StatusUnprocessableEntity
		if se.Retryable {
			status = http.StatusServiceUnavailable
		}
		h.opts.Logger.Error("registry refresh via admin failed", map[string]interface{}{
			"requestId": reqID,
			"errorCode": string(se.Code),
			"error":     err.Error(),
		})
		writeJSON(w, status, map[string]interface{}{
			"refreshed": false,
			"error":     map[string]string{"code": string(se.Code), "message": se.Message, "details": se.Details},
			"stats":     stats,
		})
		return
	}

	h.opts.Logger.Info("registry refreshed via admin", map[string]interface{}{
		"requestId":  reqID,
		"durationMs": h.opts.Now().Sub(start).Milliseconds(),
		"degraded":   stats.Degraded,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"refreshed": true, "stats": stats})
}

type nopLogger struct{}

func (nopLogger) Info(string, map[string]interface{})  {}
func (nopLogger) Error(string, map[string]interface{}) {}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"code": code, "message": message}})
}
