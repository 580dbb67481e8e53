// Package gateway wraps outbound calls to the mail and token providers with
// per-endpoint circuit breakers, capacity limits and endpoint selection.
package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Strategy selects among equivalent endpoints of a service.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyWeightedRandom   Strategy = "weighted_random"
	StrategyStickyHash       Strategy = "sticky_hash"
)

// Endpoint is one upstream base URL serving a logical service such as
// "mail" or "token".
type Endpoint struct {
	ID            string `mapstructure:"id" json:"id"`
	Service       string `mapstructure:"service" json:"service"`
	BaseURL       string `mapstructure:"base_url" json:"base_url"`
	Weight        int    `mapstructure:"weight" json:"weight"`
	MaxConcurrent int    `mapstructure:"max_concurrent" json:"max_concurrent"` // 0 = unlimited
}

// EndpointStats is a snapshot of one endpoint's health.
type EndpointStats struct {
	Endpoint
	Active     int           `json:"active"`
	Calls      int64         `json:"calls"`
	Failures   int64         `json:"failures"`
	AvgLatency time.Duration `json:"avg_latency"`
	Breaker    BreakerState  `json:"breaker"`
}

// CallFunc performs the actual network operation against the chosen endpoint.
type CallFunc func(ctx context.Context, ep Endpoint) error

type endpointState struct {
	Endpoint
	breaker    *Breaker
	active     int
	calls      int64
	failures   int64
	avgLatency float64 // nanoseconds, exponentially smoothed
}

type pool struct {
	endpoints []*endpointState
	next      int
}

// Gateway routes calls to registered endpoints. It exclusively owns breaker
// and capacity state.
type Gateway struct {
	mu       sync.Mutex
	cfg      GatewayConfig
	services map[string]*pool
	rng      *rand.Rand
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a gateway with no endpoints.
func New(cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:      cfg.withDefaults(),
		services: make(map[string]*pool),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6d61696c)),
		now:      time.Now,
		logger:   logger,
	}
}

// RegisterEndpoint adds an endpoint to its service pool.
func (g *Gateway) RegisterEndpoint(ep Endpoint) error {
	if ep.ID == "" || ep.Service == "" {
		return fmt.Errorf("endpoint requires id and service")
	}
	if ep.Weight <= 0 {
		ep.Weight = 1
	}
	if ep.MaxConcurrent < 0 {
		return fmt.Errorf("endpoint %s: max_concurrent must be >= 0", ep.ID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.services[ep.Service]
	if !ok {
		p = &pool{}
		g.services[ep.Service] = p
	}
	for _, existing := range p.endpoints {
		if existing.ID == ep.ID {
			return fmt.Errorf("endpoint %s already registered for %s", ep.ID, ep.Service)
		}
	}

	br := NewBreaker(ep.ID, g.cfg.FailureThreshold, g.cfg.CoolDown, g.cfg.HalfOpenSuccesses)
	br.now = g.now
	p.endpoints = append(p.endpoints, &endpointState{Endpoint: ep, breaker: br})

	g.logger.Info("endpoint registered",
		zap.String("service", ep.Service),
		zap.String("endpoint", ep.ID),
		zap.String("base_url", ep.BaseURL),
		zap.Int("max_concurrent", ep.MaxConcurrent),
	)
	return nil
}

// RemoveEndpoint drops an endpoint. In-flight calls finish normally.
func (g *Gateway) RemoveEndpoint(service, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.services[service]
	if !ok {
		return false
	}
	for i, ep := range p.endpoints {
		if ep.ID == id {
			p.endpoints = append(p.endpoints[:i:i], p.endpoints[i+1:]...)
			return true
		}
	}
	return false
}

// Call runs fn against an eligible endpoint of service. key feeds the sticky
// hash strategy and is otherwise ignored. The call is bounded by the
// configured timeout; hitting it is reported as ErrUnavailable.
func (g *Gateway) Call(ctx context.Context, service, key string, fn CallFunc) error {
	ep, err := g.acquire(service, key)
	if err != nil {
		gatewayCalls.WithLabelValues(service, noEndpoint, outcomeOf(err)).Inc()
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	start := g.now()
	err = fn(callCtx, ep.Endpoint)
	latency := g.now().Sub(start)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: %s timed out after %s: %w", ErrUnavailable, ep.ID, g.cfg.CallTimeout, err)
	}
	cancel()

	g.release(ep, latency, err, ctx.Err() != nil)
	return err
}

// Stats returns a snapshot of every endpoint registered for service.
func (g *Gateway) Stats(service string) []EndpointStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.services[service]
	if !ok {
		return nil
	}
	out := make([]EndpointStats, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, EndpointStats{
			Endpoint:   ep.Endpoint,
			Active:     ep.active,
			Calls:      ep.calls,
			Failures:   ep.failures,
			AvgLatency: time.Duration(ep.avgLatency),
			Breaker:    ep.breaker.Snapshot(),
		})
	}
	return out
}

// acquire picks an endpoint and reserves a concurrency slot on it.
// Endpoints with an open breaker or no free capacity are skipped in favour
// of the next candidate in strategy order.
func (g *Gateway) acquire(service, key string) (*endpointState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.services[service]
	if !ok || len(p.endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints registered for %s", ErrNoEndpoint, service)
	}

	var circuitErr error
	openCount := 0
	for _, ep := range g.order(p, key) {
		if err := ep.breaker.Allow(); err != nil {
			openCount++
			if circuitErr == nil {
				circuitErr = err
			}
			continue
		}
		if ep.MaxConcurrent > 0 && ep.active >= ep.MaxConcurrent {
			continue
		}
		ep.active++
		return ep, nil
	}

	if openCount == len(p.endpoints) {
		return nil, circuitErr
	}
	return nil, fmt.Errorf("%w: all %s endpoints at capacity", ErrNoEndpoint, service)
}

// order returns the pool's endpoints in the sequence the strategy prefers.
// Must be called with g.mu held.
func (g *Gateway) order(p *pool, key string) []*endpointState {
	n := len(p.endpoints)
	start := 0

	switch g.cfg.Strategy {
	case StrategyLeastConnections:
		sorted := make([]*endpointState, n)
		copy(sorted, p.endpoints)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].active < sorted[j].active
		})
		return sorted
	case StrategyWeightedRandom:
		start = g.pickWeighted(p.endpoints)
	case StrategyStickyHash:
		sum := blake2b.Sum256([]byte(key))
		start = int(binary.BigEndian.Uint64(sum[:8]) % uint64(n))
	default:
		start = p.next % n
		p.next = (p.next + 1) % n
	}

	rotated := make([]*endpointState, 0, n)
	for i := range n {
		rotated = append(rotated, p.endpoints[(start+i)%n])
	}
	return rotated
}

func (g *Gateway) pickWeighted(eps []*endpointState) int {
	total := 0
	for _, ep := range eps {
		total += ep.Weight
	}
	r := g.rng.IntN(total)
	for i, ep := range eps {
		r -= ep.Weight
		if r < 0 {
			return i
		}
	}
	return len(eps) - 1
}

// release frees the slot taken by acquire and feeds the outcome to the
// breaker, latency average and metrics.
func (g *Gateway) release(ep *endpointState, latency time.Duration, err error, callerCanceled bool) {
	g.mu.Lock()
	ep.active--
	ep.calls++
	if ep.avgLatency == 0 {
		ep.avgLatency = float64(latency)
	} else {
		a := g.cfg.LatencySmoothing
		ep.avgLatency = a*float64(latency) + (1-a)*ep.avgLatency
	}
	failed := countsAsFailure(err) && !callerCanceled
	if failed {
		ep.failures++
	}
	g.mu.Unlock()

	switch {
	case callerCanceled:
		// The caller gave up; the endpoint's health is unknown.
	case failed:
		ep.breaker.RecordFailure()
		g.logger.Debug("upstream call failed",
			zap.String("endpoint", ep.ID),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	default:
		ep.breaker.RecordSuccess()
	}

	gatewayCalls.WithLabelValues(ep.Service, ep.ID, outcomeOf(err)).Inc()
	gatewayCallDuration.WithLabelValues(ep.ID).Observe(latency.Seconds())
}

// countsAsFailure reports whether err reflects endpoint health. Every
// failed call counts except credential rejections, which come from a
// healthy endpoint.
func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrAuth)
}

func outcomeOf(err error) string {
	var rl *RateLimitError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrNoEndpoint):
		return "no_endpoint"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
