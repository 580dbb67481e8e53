package credcache

import "time"

type CacheConfig struct {
	HotCapacity   int           `mapstructure:"hot_capacity"`
	WarmCapacity  int           `mapstructure:"warm_capacity"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	WarmTTL       time.Duration `mapstructure:"warm_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// ExpiryMargin is subtracted from provider-reported credential lifetimes
	// so a cached credential is never handed out moments before it expires.
	ExpiryMargin time.Duration `mapstructure:"expiry_margin"`
}

func DefaultConfig() CacheConfig {
	return CacheConfig{
		HotCapacity:   10000,
		WarmCapacity:  100000,
		DefaultTTL:    5 * time.Minute,
		WarmTTL:       time.Hour,
		SweepInterval: time.Minute,
		ExpiryMargin:  time.Minute,
	}
}
