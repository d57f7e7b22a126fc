// Package handler provides HTTP handlers for all API endpoints.
// Handlers delegate to the pipeline runner and the notifications service;
// list responses are cached with ETags.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/freshroute/expiry-engine/internal/api/respond"
	"github.com/freshroute/expiry-engine/internal/cache"
	"github.com/freshroute/expiry-engine/internal/model"
	"github.com/freshroute/expiry-engine/internal/notifications"
	"github.com/freshroute/expiry-engine/internal/pipeline"
)

// Runner executes and reports pipeline runs.
type Runner interface {
	Run(ctx context.Context) (pipeline.Summary, error)
	LastRun() (pipeline.Summary, bool)
}

// Notifications serves notification reads and outcome updates.
type Notifications interface {
	Get(ctx context.Context, id string) (model.NotificationLog, error)
	UpdateOutcome(ctx context.Context, id, action string) (notifications.OutcomeUpdate, error)
	Inbox(ctx context.Context, q model.InboxQuery) (notifications.Inbox, error)
	History(ctx context.Context, q model.HistoryQuery) (notifications.History, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	runner Runner
	notes  Notifications
	db     Pinger
	cache  *cache.Cache
	logger *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(runner Runner, notes Notifications, db Pinger, c *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, notes: notes, db: db, cache: c, logger: logger}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Expiry Engine API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
