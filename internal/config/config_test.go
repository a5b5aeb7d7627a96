package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLoadRateLimitConfigDefaults(t *testing.T) {
	for _, k := range []string{"RATE_LIMIT_ENABLED", "RATE_LIMIT_ACCESS_REQUESTS", "RATE_LIMIT_ACCESS_PERIOD", "RATE_LIMIT_PREVIEW_REQUESTS", "RATE_LIMIT_PREVIEW_PERIOD"} {
		t.Setenv(k, "")
	}
	c := LoadRateLimitConfig()
	assert.True(t, c.Enabled)
	assert.Equal(t, RateLimitRule{Requests: 30, Period: time.Minute}, c.Access)
	assert.Equal(t, RateLimitRule{Requests: 10, Period: time.Minute}, c.Preview)
}

func TestLoadRateLimitConfigOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_ACCESS_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_ACCESS_PERIOD", "10s")
	t.Setenv("RATE_LIMIT_PREVIEW_REQUESTS", "0")
	t.Setenv("RATE_LIMIT_PREVIEW_PERIOD", "bogus")
	t.Setenv("RATE_LIMIT_ENABLED", "off")

	c := LoadRateLimitConfig()
	assert.False(t, c.Enabled)
	assert.Equal(t, RateLimitRule{Requests: 5, Period: 10 * time.Second}, c.Access)
	assert.Equal(t, RateLimitRule{Requests: 1, Period: time.Minute}, c.Preview)
}

func TestLoadAccessPolicy(t *testing.T) {
	t.Setenv("COOLDOWN_THRESHOLD", "")
	t.Setenv("COOLDOWN_WINDOW", "")
	t.Setenv("COOLDOWN_DURATION", "-1h")
	t.Setenv("DEFAULT_MAX_REACTIVATIONS", "7")

	p := LoadAccessPolicy()
	assert.Equal(t, 3, p.CooldownThreshold)
	assert.Equal(t, 24*time.Hour, p.CooldownWindow)
	assert.Equal(t, 48*time.Hour, p.CooldownDuration)
	assert.Equal(t, 7, p.DefaultMaxReactivations)
}

func TestLoadSQLite(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("JWT_SECRET", "j")
	t.Setenv("MEDIA_SECRET", "m")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://broker:5672/")

	c := Load()
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "amqp://broker:5672/", c.AMQPURL)
	assert.Equal(t, "audit_events", c.AuditQueue)
	assert.Empty(t, c.DBUser)
}

func TestRedisOptions(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_TLS", "")

	o := RedisOptions()
	assert.Equal(t, "cache:6380", o.Addr)
	assert.Equal(t, 2, o.DB)
	assert.Nil(t, o.TLSConfig)

	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("REDIS_TLS", "1")
	o = RedisOptions()
	assert.Equal(t, "redis.internal:6379", o.Addr)
	assert.NotNil(t, o.TLSConfig)
}

func TestNewRedisClientDisabled(t *testing.T) {
	t.Setenv("REDIS_DISABLED", "true")
	assert.Nil(t, NewRedisClient(zap.NewNop()))
}
