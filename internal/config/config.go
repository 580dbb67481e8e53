// Package config wraps Viper so components can overlay their own
// mapstructure-tagged settings on top of their defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ViperConfig wraps a Viper instance.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a Config backed by the given Viper instance.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

func (c *ViperConfig) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *ViperConfig) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

func (c *ViperConfig) IsSet(key string) bool {
	return c.v.IsSet(key)
}

// Sub returns the subtree rooted at key. A missing key yields an empty config.
// The subtree is built from AllSettings so environment overrides and
// defaults of nested keys are carried over.
func (c *ViperConfig) Sub(key string) *ViperConfig {
	m, ok := lookup(c.v.AllSettings(), key)
	if !ok {
		return New(nil)
	}
	sub := viper.New()
	if err := sub.MergeConfigMap(m); err != nil {
		return New(nil)
	}
	return New(sub)
}

func lookup(m map[string]any, key string) (map[string]any, bool) {
	for _, part := range strings.Split(strings.ToLower(key), ".") {
		next, ok := m[part].(map[string]any)
		if !ok {
			return nil, false
		}
		m = next
	}
	return m, true
}

// Viper returns the underlying Viper instance for direct access
// (e.g., by the server for top-level config like server.port).
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}

// Section overlays the settings under key onto def. Fields absent from the
// configuration keep their value from def.
func Section[T any](c *ViperConfig, key string, def T) (T, error) {
	out := def
	if err := c.Sub(key).Unmarshal(&out); err != nil {
		return def, fmt.Errorf("decode %s config: %w", key, err)
	}
	return out, nil
}
