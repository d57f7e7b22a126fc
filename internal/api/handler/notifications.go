package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/freshroute/expiry-engine/internal/api/respond"
	"github.com/freshroute/expiry-engine/internal/apperr"
	"github.com/freshroute/expiry-engine/internal/cache"
	"github.com/freshroute/expiry-engine/internal/model"
)

// outcomeRequest is the PATCH body.
type outcomeRequest struct {
	Action string `json:"action" example:"viewed"`
}

// parsePage reads page and limit; absent values are left zero for the
// service to default.
func parsePage(r *http.Request) (model.Page, error) {
	var p model.Page
	for name, dst := range map[string]*int{"page": &p.Page, "limit": &p.Limit} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, apperr.Invalid("%s must be a positive integer", name)
		}
		*dst = n
	}
	return p, nil
}

// GetInbox lists a retailer's live recommendations.
// @Summary Retailer inbox
// @Description Notifications for batches still sellable, most urgent first.
// @Tags notifications
// @Produce json
// @Param retailerId query string true "Retailer ID"
// @Param outcome query string false "Outcome filter" Enums(pending, viewed, ignored, ordered)
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} notifications.Inbox
// @Success 304 "Not modified"
// @Failure 400 {object} respond.ErrorResponse
// @Failure 403 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /notifications [get]
func (h *Handler) GetInbox(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := model.InboxQuery{
		RetailerID: r.URL.Query().Get("retailerId"),
		Outcome:    model.Outcome(r.URL.Query().Get("outcome")),
		Page:       page,
	}

	key := fmt.Sprintf("%s%s:%s:%d:%d", cache.PrefixInbox, q.RetailerID, q.Outcome, page.Page, page.Limit)
	h.serveCached(w, r, key, cache.TTLInbox, func() (any, error) {
		return h.notes.Inbox(r.Context(), q)
	})
}

// GetHistory lists notifications sent for a merchandiser's batches.
// @Summary Merchandiser history
// @Description Sent notifications, newest first, with view and conversion rates.
// @Tags notifications
// @Produce json
// @Param merchandiserId query string true "Merchandiser ID"
// @Param outcome query string false "Outcome filter" Enums(pending, viewed, ignored, ordered)
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} notifications.History
// @Success 304 "Not modified"
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /notifications/history [get]
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := model.HistoryQuery{
		MerchandiserID: r.URL.Query().Get("merchandiserId"),
		Outcome:        model.Outcome(r.URL.Query().Get("outcome")),
		Page:           page,
	}
	if q.MerchandiserID == "" {
		h.writeError(w, r, apperr.Invalid("merchandiserId is required"))
		return
	}

	key := fmt.Sprintf("%s%s:%s:%d:%d", cache.PrefixHistory, q.MerchandiserID, q.Outcome, page.Page, page.Limit)
	h.serveCached(w, r, key, cache.TTLHistory, func() (any, error) {
		return h.notes.History(r.Context(), q)
	})
}

// GetNotification returns one notification.
// @Summary Get notification
// @Tags notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} model.NotificationLog
// @Failure 404 {object} respond.ErrorResponse
// @Router /notifications/{id} [get]
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.notes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, n)
}

// PatchNotification records a retailer action on a notification.
// @Summary Update notification outcome
// @Description Applies viewed, ordered or ignored. An action that does not outrank the current outcome leaves it unchanged.
// @Tags notifications
// @Accept json
// @Produce json
// @Param id path string true "Notification ID"
// @Param body body outcomeRequest true "Action"
// @Success 200 {object} notifications.OutcomeUpdate
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /notifications/{id} [patch]
func (h *Handler) PatchNotification(w http.ResponseWriter, r *http.Request) {
	var body outcomeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		h.writeError(w, r, apperr.Invalid("request body must be JSON with an action"))
		return
	}

	res, err := h.notes.UpdateOutcome(r.Context(), chi.URLParam(r, "id"), body.Action)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Changed {
		h.cache.Invalidate(cache.PrefixInbox + res.Notification.RetailerID + ":")
		h.cache.Invalidate(cache.PrefixHistory)
	}
	respond.WriteJSONObject(w, http.StatusOK, res)
}
