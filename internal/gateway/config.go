package gateway

import "time"

// GatewayConfig holds configuration for the upstream gateway.
type GatewayConfig struct {
	Strategy          Strategy      `mapstructure:"strategy"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	CoolDown          time.Duration `mapstructure:"cool_down"`
	HalfOpenSuccesses int           `mapstructure:"half_open_successes"`
	LatencySmoothing  float64       `mapstructure:"latency_smoothing"`
	// MaxResponseBytes bounds how much of a response body the HTTP
	// transport buffers before the call's deadline is released.
	MaxResponseBytes int64 `mapstructure:"max_response_bytes"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() GatewayConfig {
	return GatewayConfig{
		Strategy:          StrategyRoundRobin,
		CallTimeout:       30 * time.Second,
		FailureThreshold:  3,
		CoolDown:          30 * time.Second,
		HalfOpenSuccesses: 3,
		LatencySmoothing:  0.1,
		MaxResponseBytes:  8 << 20,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	def := DefaultConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.CoolDown <= 0 {
		c.CoolDown = def.CoolDown
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	if c.LatencySmoothing <= 0 || c.LatencySmoothing > 1 {
		c.LatencySmoothing = def.LatencySmoothing
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = def.MaxResponseBytes
	}
	return c
}
