package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	ReadOnly       bool     `mapstructure:"read_only"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	TrustedProxies []string `mapstructure:"trusted_proxies"` // CIDRs or IPs allowed to set X-Forwarded-For
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		RateLimitRPS:   100,
		RateLimitBurst: 200,
	}
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
// Every key with a default can be overridden from the environment with the
// MP_ prefix, dots becoming underscores (MP_SERVER_PORT=9090).
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.rate_limit_rps", 100)
	v.SetDefault("server.rate_limit_burst", 200)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/mailpulse.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl", "24h")

	// Component defaults
	v.SetDefault("monitor.max_concurrent_checks", 10)
	v.SetDefault("monitor.rate_window", "60s")
	v.SetDefault("monitor.rate_max", 20)
	v.SetDefault("monitor.code_grace", "10s")
	v.SetDefault("monitor.absolute_timeout", "300s")
	v.SetDefault("monitor.sweep_interval", "60s")
	v.SetDefault("monitor.retry_policy", "fixed")
	v.SetDefault("monitor.max_backoff", "60s")
	v.SetDefault("monitor.code_lookback", "2m")
	v.SetDefault("monitor.max_messages", 5)
	v.SetDefault("monitor.code_retention", "720h")
	v.SetDefault("monitor.maintenance_interval", "1h")
	v.SetDefault("gateway.strategy", "round_robin")
	v.SetDefault("gateway.call_timeout", "30s")
	v.SetDefault("gateway.failure_threshold", 3)
	v.SetDefault("gateway.cool_down", "30s")
	v.SetDefault("gateway.half_open_successes", 3)
	v.SetDefault("gateway.latency_smoothing", 0.1)
	v.SetDefault("gateway.endpoints", []map[string]any{
		{"id": "graph", "service": "mail", "base_url": "https://graph.microsoft.com", "weight": 1},
		{"id": "login", "service": "token", "base_url": "https://login.microsoftonline.com", "weight": 1},
	})
	v.SetDefault("cache.hot_capacity", 10000)
	v.SetDefault("cache.warm_capacity", 100000)
	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.warm_ttl", "1h")
	v.SetDefault("cache.sweep_interval", "60s")
	v.SetDefault("cache.expiry_margin", "60s")
	v.SetDefault("oauth.token_url", "https://login.microsoftonline.com/consumers/oauth2/v2.0/token")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.default_ttl", "1h")
	v.SetDefault("mail.base_url", "https://graph.microsoft.com")
	v.SetDefault("mail.folder", "inbox")
	v.SetDefault("mail.max_messages", 5)
	v.SetDefault("extract.min_digits", 4)
	v.SetDefault("extract.max_digits", 8)
	v.SetDefault("extract.min_score", 30)

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.queue_size", 100)
	v.SetDefault("webhook.events", []string{"code-found"})

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("mailpulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mailpulse")
	}

	v.SetEnvPrefix("MP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
