package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/HerbHall/mailpulse/internal/auth"
	"github.com/HerbHall/mailpulse/internal/event"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

var knownTypes = map[event.Type]bool{
	event.TypeSessionStarted: true,
	event.TypeSessionStopped: true,
	event.TypeCodeFound:      true,
	event.TypeCheckError:     true,
	event.TypeMetricsUpdated: true,
}

// Handler serves GET /api/v1/ws/events.
type Handler struct {
	hub         *Hub
	tokens      *auth.TokenService
	unsubscribe func()
	logger      *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler fed by every event on bus. A nil
// tokens disables the token check.
func NewHandler(tokens *auth.TokenService, bus event.Subscriber, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		hub:    NewHub(logger),
		tokens: tokens,
		logger: logger,
	}
	if bus != nil {
		h.unsubscribe = bus.Subscribe(event.Filter{}, func(_ context.Context, e event.Event) {
			h.hub.Broadcast(e)
		})
	}
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEvents)
}

// Hub exposes the client registry.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// Close detaches from the bus and disconnects all clients.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.hub.CloseAll()
}

// handleEvents upgrades the connection and streams bus events. Query
// parameters: token (required when auth is enabled), account and types
// (comma separated) to narrow the stream.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	subject := "anonymous"
	if h.tokens != nil {
		// Browsers cannot set headers on WebSocket requests.
		token := q.Get("token")
		if token == "" {
			http.Error(w, "missing token parameter", http.StatusUnauthorized)
			return
		}
		claims, err := h.tokens.Validate(token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		subject = claims.Subject
	}

	filter := event.Filter{AccountID: strings.TrimSpace(q.Get("account"))}
	if raw := q.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			typ := event.Type(strings.TrimSpace(t))
			if !knownTypes[typ] {
				http.Error(w, "unknown event type "+string(typ), http.StatusBadRequest)
				return
			}
			filter.Types = append(filter.Types, typ)
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Any origin; access is gated by the token.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := newClient(conn, subject, filter, h.logger)
	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		// A failed write ends the stream.
		cancel()
		close(done)
	}()

	// readPump blocks until the client disconnects.
	client.readPump(ctx)
	cancel()

	h.hub.Unregister(client)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	<-done
}
