package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/HerbHall/mailpulse/internal/server"
)

// Handler serves endpoint health for operators.
type Handler struct {
	gw *Gateway
}

// NewHandler creates the gateway diagnostics handler.
func NewHandler(gw *Gateway) *Handler {
	return &Handler{gw: gw}
}

// RegisterRoutes mounts the gateway routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/gateway/{service}/endpoints", h.handleEndpoints)
}

func (h *Handler) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	stats := h.gw.Stats(r.PathValue("service"))
	if stats == nil {
		server.NotFound(w, "unknown service", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
