package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/freshroute/expiry-engine/internal/api/respond"
	"github.com/freshroute/expiry-engine/internal/cache"
)

// serveCached answers from the cache when it can, honouring If-None-Match,
// and otherwise calls load, caches the encoded result and writes it.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, load func() (any, error)) {
	if data, etag, ok := h.cache.Get(key); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	v, err := load()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	etag := h.cache.Set(key, data, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, ttl, false)
}

// writeError logs server-side failures and writes the mapped error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := respond.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	respond.WriteAppError(w, err)
}
