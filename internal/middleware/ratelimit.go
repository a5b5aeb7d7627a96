package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iliyamo/qr-access/internal/config"
	"github.com/iliyamo/qr-access/internal/ratelimit"
)

// RateLimit throttles requests per client IP within scope ("access",
// "preview").  The window key is "<scope>:<ip>".  onLimited, when set, is
// called for every rejected request.
func RateLimit(cfg config.RateLimitConfig, l *ratelimit.Limiter, scope string, rule config.RateLimitRule, onLimited func(c echo.Context)) echo.MiddlewareFunc {
	if !cfg.Enabled || l == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	r := ratelimit.Rule{Requests: rule.Requests, Period: rule.Period}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := scope + ":" + clientIP(c)
			if cfg.Debug {
				c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(r.Requests))
				c.Response().Header().Set("X-RateLimit-Key", key)
			}

			err := l.Check(c.Request().Context(), key, r)
			var exceeded *ratelimit.ExceededError
			if !errors.As(err, &exceeded) {
				return next(c)
			}

			if onLimited != nil {
				onLimited(c)
			}
			secs := exceeded.Seconds()
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":       "too_many_requests",
				"message":     "rate limit exceeded",
				"retry_after": secs,
			})
		}
	}
}
