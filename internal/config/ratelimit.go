package config

import "time"

// RateLimitConfig configures the redis token bucket in front of the API.
// KeyStrategy is one of "ip", "user", "ip_route", "user_route" or
// "ip_user_route"; authenticated requests key on the user id when the
// strategy mentions it.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
	}
	if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
		def.Capacity = b
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	// a bucket key must outlive a full refill or idle clients get a fresh burst
	if minTTL := 5 * def.RefillInterval; def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}

// AuthRateLimitConfig is a stricter bucket for the login and register
// endpoints, keyed by client IP.
func AuthRateLimitConfig() RateLimitConfig {
	cfg := LoadRateLimitConfig()
	cfg.Capacity = envInt("AUTH_RATE_LIMIT_CAPACITY", 10)
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	cfg.RefillInterval = envDur("AUTH_RATE_LIMIT_REFILL_INTERVAL", 6*time.Second)
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = 6 * time.Second
	}
	cfg.RefillTokens = 1
	cfg.KeyStrategy = "ip_route"
	cfg.Prefix = cfg.Prefix + ":auth"
	if minTTL := 5 * cfg.RefillInterval; cfg.TTL < minTTL {
		cfg.TTL = minTTL
	}
	return cfg
}
