package config

import "time"

// RateLimitRule is a sliding window budget: Requests calls per Period.
type RateLimitRule struct {
	Requests int
	Period   time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	Prefix  string // key namespace in Redis
	Access  RateLimitRule
	Preview RateLimitRule
	Debug   bool // adds X-RateLimit-* headers to responses
}

// LoadRateLimitConfig reads the limiter settings.  Defaults are 30
// requests/minute for access endpoints and 10 requests/minute for previews.
func LoadRateLimitConfig() RateLimitConfig {
	c := RateLimitConfig{
		Enabled: envBool("RATE_LIMIT_ENABLED", true),
		Prefix:  envStr("RATE_LIMIT_PREFIX", "rl"),
		Access: RateLimitRule{
			Requests: envInt("RATE_LIMIT_ACCESS_REQUESTS", 30),
			Period:   envDur("RATE_LIMIT_ACCESS_PERIOD", time.Minute),
		},
		Preview: RateLimitRule{
			Requests: envInt("RATE_LIMIT_PREVIEW_REQUESTS", 10),
			Period:   envDur("RATE_LIMIT_PREVIEW_PERIOD", time.Minute),
		},
		Debug: envBool("RATE_LIMIT_DEBUG", false),
	}
	for _, r := range []*RateLimitRule{&c.Access, &c.Preview} {
		if r.Requests < 1 {
			r.Requests = 1
		}
		if r.Period <= 0 {
			r.Period = time.Minute
		}
	}
	return c
}
