package handler

import (
	"errors"
	"net/http"

	"github.com/freshroute/expiry-engine/internal/api/respond"
	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/cache"
)

// RunEngine executes one full pipeline run synchronously.
// @Summary Run the expiry pipeline
// @Description Recomputes thresholds, detects at-risk batches, ranks retailers and records notifications. Returns the run summary.
// @Tags engine
// @Produce json
// @Success 200 {object} pipeline.Summary
// @Failure 409 {object} pipeline.Summary
// @Failure 500 {object} pipeline.Summary
// @Router /engine/run [post]
func (h *Handler) RunEngine(w http.ResponseWriter, r *http.Request) {
	sum, err := h.runner.Run(r.Context())
	if errors.Is(err, apperr.ErrConflict) {
		respond.WriteJSONObject(w, http.StatusConflict, sum)
		return
	}

	// Failed runs are recorded too; last-run reloads from the runner.
	h.cache.Invalidate(cache.PrefixLastRun)
	if sum.NotificationsCreated > 0 {
		h.cache.Invalidate(cache.PrefixInbox)
		h.cache.Invalidate(cache.PrefixHistory)
	}
	if err != nil {
		respond.WriteJSONObject(w, http.StatusInternalServerError, sum)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, sum)
}

// GetLastRun returns the summary of the most recent run.
// @Summary Last pipeline run
// @Description Returns the most recent run summary held by this instance.
// @Tags engine
// @Produce json
// @Success 200 {object} pipeline.Summary
// @Success 304 "Not modified"
// @Failure 404 {object} respond.ErrorResponse
// @Router /engine/last-run [get]
func (h *Handler) GetLastRun(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, cache.PrefixLastRun, cache.TTLLastRun, func() (any, error) {
		sum, ok := h.runner.LastRun()
		if !ok {
			return nil, apperr.NotFound("pipeline run", "last")
		}
		return sum, nil
	})
}
