// Package webhook forwards selected bus events to an operator-configured
// HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/mailpulse/internal/event"
	"github.com/HerbHall/mailpulse/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a
// secret is configured.
const SignatureHeader = "X-MailPulse-Signature"

var deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "mailpulse_webhook_deliveries_total",
	Help: "Webhook delivery attempts by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(deliveries)
}

// Config holds the webhook notifier configuration.
type Config struct {
	URL       string        `mapstructure:"url"`
	Secret    string        `mapstructure:"secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	QueueSize int           `mapstructure:"queue_size"`
	// Events lists the event types forwarded. Empty means code-found only.
	Events []string `mapstructure:"events"`
}

// DefaultConfig returns the default webhook configuration. The notifier is
// disabled until URL is set.
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		QueueSize: 100,
		Events:    []string{string(event.TypeCodeFound)},
	}
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     event.Type `json:"event"`
	AccountID string     `json:"account_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Timestamp string     `json:"timestamp"`
	Data      any        `json:"data,omitempty"`
}

// Notifier queues matching events and posts them from a single worker, so
// slow endpoints never hold up the publisher.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	queue  chan Payload

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a notifier. The client may be nil.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Notifier {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if len(cfg.Events) == 0 {
		cfg.Events = def.Events
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		cfg:    cfg,
		client: client,
		logger: logger,
		queue:  make(chan Payload, cfg.QueueSize),
	}
}

// Enabled reports whether a destination URL is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.URL != ""
}

// Start subscribes to the bus and runs the delivery worker until Stop is
// called or ctx ends.
func (n *Notifier) Start(ctx context.Context, bus event.Subscriber) {
	types := make([]event.Type, 0, len(n.cfg.Events))
	for _, t := range n.cfg.Events {
		types = append(types, event.Type(t))
	}
	n.unsubscribe = bus.Subscribe(event.Filter{Types: types}, n.enqueue)

	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-n.queue:
				n.deliver(ctx, p)
			}
		}
	}()

	n.logger.Info("webhook notifier started",
		zap.String("url", n.cfg.URL),
		zap.Strings("events", n.cfg.Events),
	)
}

// Stop unsubscribes from the bus and waits for the worker to exit.
// Queued but undelivered payloads are dropped.
func (n *Notifier) Stop() {
	if n.unsubscribe != nil {
		n.unsubscribe()
	}
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

func (n *Notifier) enqueue(_ context.Context, e event.Event) {
	p := Payload{
		Event:     e.Type,
		AccountID: e.AccountID,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Data:      e.Payload,
	}
	select {
	case n.queue <- p:
	default:
		deliveries.WithLabelValues("dropped").Inc()
		n.logger.Warn("webhook queue full, dropping event",
			zap.String("event", string(e.Type)),
			zap.String("account_id", e.AccountID),
		)
	}
}

func (n *Notifier) deliver(ctx context.Context, p Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		deliveries.WithLabelValues("error").Inc()
		n.logger.Error("failed to marshal webhook payload",
			zap.String("event", string(p.Event)),
			zap.Error(err),
		)
		return
	}
	if err := n.send(ctx, body); err != nil {
		deliveries.WithLabelValues("failed").Inc()
		n.logger.Warn("webhook delivery failed",
			zap.String("event", string(p.Event)),
			zap.String("account_id", p.AccountID),
			zap.Error(err),
		)
		return
	}
	deliveries.WithLabelValues("delivered").Inc()
	n.logger.Debug("webhook delivered", zap.String("event", string(p.Event)))
}

func (n *Notifier) send(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MailPulse-Webhook/"+version.Short())
	if n.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign([]byte(n.cfg.Secret), body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
