// Package ws streams monitor events to WebSocket clients.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/mailpulse/internal/event"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const sendBuffer = 256

var (
	wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mailpulse_ws_clients",
		Help: "Connected event stream clients.",
	})
	wsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailpulse_ws_dropped_messages_total",
		Help: "Messages dropped because a client's send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(wsClients, wsDropped)
}

// Client represents a connected WebSocket client.
type Client struct {
	conn    *websocket.Conn
	subject string
	filter  event.Filter
	send    chan Message
	logger  *zap.Logger
}

func newClient(conn *websocket.Conn, subject string, filter event.Filter, logger *zap.Logger) *Client {
	return &Client{
		conn:    conn,
		subject: subject,
		filter:  filter,
		send:    make(chan Message, sendBuffer),
		logger:  logger,
	}
}

// Hub manages active WebSocket connections and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	wsClients.Inc()
	h.logger.Debug("websocket client connected",
		zap.String("subject", c.subject),
		zap.String("account_id", c.filter.AccountID),
	)
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		wsClients.Dec()
		h.logger.Debug("websocket client disconnected", zap.String("subject", c.subject))
	}
}

// Broadcast delivers e to every client whose filter matches. A client whose
// buffer is full misses the message; the publisher never blocks.
func (h *Hub) Broadcast(e event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var msg *Message
	for c := range h.clients {
		if !c.filter.Matches(e) {
			continue
		}
		if msg == nil {
			m := messageFromEvent(e)
			msg = &m
		}
		select {
		case c.send <- *msg:
		default:
			wsDropped.Inc()
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("subject", c.subject),
				zap.String("type", string(e.Type)),
			)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client, used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		if c.conn != nil {
			conns = append(conns, c.conn)
		}
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// writePump sends messages from the client's send channel to the WebSocket.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				// Channel closed by hub (unregister).
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}

// readPump reads from the WebSocket to detect client disconnect.
// Clients never send anything meaningful, so reads are drained.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
