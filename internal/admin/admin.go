// Package admin serves the operational HTTP API: stats, Prometheus metrics,
// cache invalidation and rate limit resets.
package admin

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wudi/cachelayer/internal/errors"
	"github.com/wudi/cachelayer/internal/logging"
	"github.com/wudi/cachelayer/internal/ratelimit"
	"github.com/wudi/cachelayer/internal/stats"
)

// CacheStore is the part of a cache store the admin API reads and mutates.
// Values are raw JSON documents.
type CacheStore interface {
	Get(key string) (json.RawMessage, bool)
	SetWithTags(key string, value json.RawMessage, ttl time.Duration, tags ...string)
	Warm(key string, value json.RawMessage, expiresAt time.Time, tags ...string) bool
	Delete(key string) bool
	InvalidateByTag(tag string) int
}

// Fallback is consulted on a cache miss, typically a durable.Adapter. It
// reports when the value it found expires.
type Fallback interface {
	GetWithExpiry(ctx context.Context, key string, dst any) (time.Time, bool)
}

// maxValueBytes bounds PUT bodies.
const maxValueBytes = 1 << 20

// ResetFunc clears the limiter window for identifier and reports whether one
// existed.
type ResetFunc func(ctx context.Context, identifier string) (bool, error)

// Config wires the admin API to the running components. Nil fields disable
// the routes that need them.
type Config struct {
	Stats    *stats.Collector
	Gatherer prometheus.Gatherer
	Cache    CacheStore
	Durable  Fallback
	Limiter  ratelimit.Checker
	Reset    ResetFunc

	// ConfigView returns the effective configuration, secrets removed.
	ConfigView func() any

	// HealthChecks are run by GET /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck

	// Metrics records per-request counters when set.
	Metrics *RequestMetrics

	// Middleware wraps the routes, inside request ID tagging. Typically
	// ratelimit.Middleware.
	Middleware func(http.Handler) http.Handler
}

type handler struct {
	cfg     Config
	started time.Time
}

// NewHandler builds the admin router.
func NewHandler(cfg Config) http.Handler {
	h := &handler{cfg: cfg, started: time.Now()}

	router := httprouter.New()
	router.NotFound = http.HandlerFunc(h.notFound)
	router.GET("/health", h.handleHealth)

	if cfg.Stats != nil {
		router.GET("/stats", h.handleStats)
	}
	if cfg.ConfigView != nil {
		router.GET("/config", h.handleConfig)
	}
	if cfg.Gatherer != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Cache != nil {
		router.GET("/cache/keys/:key", h.handleGetKey)
		router.PUT("/cache/keys/:key", h.handlePutKey)
		router.DELETE("/cache/keys/:key", h.handleDeleteKey)
		router.DELETE("/cache/tags/:tag", h.handleInvalidateTag)
	}
	if cfg.Reset != nil {
		router.DELETE("/ratelimit/:id", h.handleResetLimit)
	}
	if cfg.Limiter != nil {
		router.GET("/ratelimit/check/:id", h.handleCheckLimit)
	}

	var next http.Handler = router
	if cfg.Middleware != nil {
		next = cfg.Middleware(next)
	}
	if cfg.Metrics != nil {
		next = cfg.Metrics.middleware(next)
	}
	return requestID(next)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	errors.ErrNotFound.WithRequestID(RequestIDFromContext(r.Context())).WriteJSON(w)
}

func (h *handler) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, h.cfg.Stats.Snapshot())
}

func (h *handler) handleConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	out, err := yaml.Marshal(h.cfg.ConfigView())
	if err != nil {
		errors.ErrInternalServer.WithRequestID(RequestIDFromContext(r.Context())).WriteJSON(w)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(out)
}

func (h *handler) handleGetKey(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	if v, ok := h.cfg.Cache.Get(key); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, v)
		return
	}

	// Warm the store from the durable medium, e.g. after a restart. The entry
	// keeps the expiry recorded there.
	if h.cfg.Durable != nil {
		var v json.RawMessage
		if expiresAt, ok := h.cfg.Durable.GetWithExpiry(r.Context(), key, &v); ok {
			h.cfg.Cache.Warm(key, v, expiresAt)
			w.Header().Set("X-Cache", "DURABLE")
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	w.Header().Set("X-Cache", "MISS")
	errors.ErrNotFound.WithRequestID(RequestIDFromContext(r.Context())).WriteJSON(w)
}

// handlePutKey stores the JSON request body. Optional query parameters:
// ttl (a Go duration) and tag (repeatable).
func (h *handler) handlePutKey(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	reqID := RequestIDFromContext(r.Context())

	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errors.ErrBadRequest.WithDetails("ttl must be a positive duration").WithRequestID(reqID).WriteJSON(w)
			return
		}
		ttl = d
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		errors.ErrBadRequest.WithDetails("failed to read body").WithRequestID(reqID).WriteJSON(w)
		return
	}
	if len(body) > maxValueBytes {
		errors.ErrPayloadTooLarge.WithDetails("value exceeds 1 MiB").WithRequestID(reqID).WriteJSON(w)
		return
	}
	if !json.Valid(body) {
		errors.ErrBadRequest.WithDetails("body must be a JSON document").WithRequestID(reqID).WriteJSON(w)
		return
	}

	key := ps.ByName("key")
	h.cfg.Cache.SetWithTags(key, json.RawMessage(body), ttl, r.URL.Query()["tag"]...)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleDeleteKey(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	deleted := h.cfg.Cache.Delete(key)

	logging.Info("cache key deleted via admin API",
		zap.String("key", key),
		zap.Bool("deleted", deleted),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *handler) handleInvalidateTag(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tag := ps.ByName("tag")
	removed := h.cfg.Cache.InvalidateByTag(tag)

	logging.Info("cache tag invalidated via admin API",
		zap.String("tag", tag),
		zap.Int("removed", removed),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *handler) handleResetLimit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	reqID := RequestIDFromContext(r.Context())

	existed, err := h.cfg.Reset(r.Context(), id)
	if err != nil {
		apiErr, ok := errors.IsAPIError(err)
		if !ok {
			apiErr = errors.Wrap(err, http.StatusInternalServerError, "Internal Server Error").
				WithDetails("rate limit reset failed")
		}
		logging.Error("rate limit reset failed",
			zap.String("identifier", id),
			zap.String("request_id", reqID),
			zap.Error(apiErr),
		)
		apiErr.WithRequestID(reqID).WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": existed})
}

func (h *handler) handleCheckLimit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, http.StatusOK, h.cfg.Limiter.Check(r.Context(), ps.ByName("id")))
}
