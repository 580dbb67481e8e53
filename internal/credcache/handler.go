package credcache

import (
	"encoding/json"
	"net/http"

	"github.com/HerbHall/mailpulse/internal/server"
)

// Handler exposes cache statistics and manual invalidation.
type Handler[V any] struct {
	cache *Cache[V]
}

// NewHandler creates the cache diagnostics handler.
func NewHandler[V any](cache *Cache[V]) *Handler[V] {
	return &Handler[V]{cache: cache}
}

// RegisterRoutes mounts the cache routes on mux.
func (h *Handler[V]) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/cache/stats", h.handleStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.handleInvalidate)
}

func (h *Handler[V]) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.cache.Stats())
}

// handleInvalidate drops every entry whose key matches the glob in the
// pattern query parameter.
func (h *Handler[V]) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		server.BadRequest(w, "pattern is required", r.URL.Path)
		return
	}
	n, err := h.cache.Invalidate(pattern)
	if err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, map[string]int{"removed": n})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
