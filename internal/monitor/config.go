package monitor

import (
	"fmt"
	"time"
)

// Retry policies applied after a failed check.
const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// MonitorConfig holds scheduler-wide settings. Per-session settings live in
// models.SessionSettings.
type MonitorConfig struct {
	MaxConcurrentChecks int           `mapstructure:"max_concurrent_checks"`
	RateWindow          time.Duration `mapstructure:"rate_window"`
	RateMax             int           `mapstructure:"rate_max"`
	CodeGrace           time.Duration `mapstructure:"code_grace"`
	AbsoluteTimeout     time.Duration `mapstructure:"absolute_timeout"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	RetryPolicy         string        `mapstructure:"retry_policy"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	CodeLookback        time.Duration `mapstructure:"code_lookback"`
	MaxMessages         int           `mapstructure:"max_messages"`
	CodeRetention       time.Duration `mapstructure:"code_retention"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// DefaultConfig returns the scheduler settings used when the monitor
// section of the config file is absent.
func DefaultConfig() MonitorConfig {
	return MonitorConfig{
		MaxConcurrentChecks: 10,
		RateWindow:          60 * time.Second,
		RateMax:             20,
		CodeGrace:           10 * time.Second,
		AbsoluteTimeout:     300 * time.Second,
		SweepInterval:       60 * time.Second,
		RetryPolicy:         RetryFixed,
		MaxBackoff:          60 * time.Second,
		CodeLookback:        2 * time.Minute,
		MaxMessages:         5,
		CodeRetention:       30 * 24 * time.Hour,
		MaintenanceInterval: time.Hour,
	}
}

// Validate rejects settings that withDefaults cannot repair. An empty
// retry policy is allowed and means fixed.
func (c MonitorConfig) Validate() error {
	switch c.RetryPolicy {
	case "", RetryFixed, RetryExponential:
		return nil
	default:
		return fmt.Errorf("%w: unknown retry_policy %q (want %q or %q)",
			ErrConfiguration, c.RetryPolicy, RetryFixed, RetryExponential)
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	def := DefaultConfig()
	if c.MaxConcurrentChecks <= 0 {
		c.MaxConcurrentChecks = def.MaxConcurrentChecks
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.RateMax <= 0 {
		c.RateMax = def.RateMax
	}
	if c.CodeGrace <= 0 {
		c.CodeGrace = def.CodeGrace
	}
	if c.AbsoluteTimeout <= 0 {
		c.AbsoluteTimeout = def.AbsoluteTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.RetryPolicy == "" {
		c.RetryPolicy = def.RetryPolicy
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.CodeLookback < 0 {
		c.CodeLookback = 0
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = def.MaxMessages
	}
	if c.CodeRetention <= 0 {
		c.CodeRetention = def.CodeRetention
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = def.MaintenanceInterval
	}
	return c
}
