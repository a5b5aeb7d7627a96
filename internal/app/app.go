// Package app wires the long-lived dependencies of the service into one
// context struct built at startup and handed to the router.
package app

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/access"
	"github.com/iliyamo/qr-access/internal/audit"
	"github.com/iliyamo/qr-access/internal/config"
	"github.com/iliyamo/qr-access/internal/database"
	"github.com/iliyamo/qr-access/internal/media"
	"github.com/iliyamo/qr-access/internal/queue"
	"github.com/iliyamo/qr-access/internal/ratelimit"
	"github.com/iliyamo/qr-access/internal/repository"
)

// App holds everything a request handler may need.
type App struct {
	Config    config.Config
	RateLimit config.RateLimitConfig
	Log       *zap.Logger

	DB        *sql.DB
	Store     *repository.SQLStore
	Redis     *redis.Client
	Limiter   *ratelimit.Limiter
	Audit     *audit.Logger
	Publisher *queue.Publisher
	Access    *access.Service
}

// OpenDB opens the configured database.
func OpenDB(cfg config.Config) (*sql.DB, error) {
	switch cfg.DBDriver {
	case repository.DialectSQLite:
		return database.OpenSQLite(cfg.DBPath)
	default:
		return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
}

// New builds the application.  Redis and RabbitMQ are optional: without
// Redis the limiter works in memory, without RabbitMQ audit events only go
// to the log.
func New(cfg config.Config, rl config.RateLimitConfig, log *zap.Logger) (*App, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	a := &App{Config: cfg, RateLimit: rl, Log: log, DB: db}
	a.Store = repository.NewSQLStore(db, cfg.DBDriver)

	var primary ratelimit.Backend
	if rl.Enabled {
		if a.Redis = config.NewRedisClient(log); a.Redis != nil {
			primary = ratelimit.NewRedisBackend(a.Redis, rl.Prefix)
		}
	}
	a.Limiter = ratelimit.New(primary, log.Named("ratelimit"))

	sinks := audit.MultiSink{audit.NewZapSink(log.Named("audit"))}
	if cfg.AuditAMQPEnabled {
		a.Publisher = queue.NewPublisher(cfg.AMQPURL, cfg.AuditQueue, 0, log.Named("audit-publisher"))
		sinks = append(sinks, a.Publisher)
	}
	a.Audit = audit.NewLogger(audit.NewHasher(cfg.HashKey), sinks, log)

	a.Access = access.NewService(a.Store, a.Audit, cfg.Access, log.Named("access"),
		access.WithSigner(media.NewSigner(cfg.MediaSecret, cfg.MediaBaseURL, cfg.MediaURLTTL)))
	return a, nil
}

// Start launches background workers; they stop with ctx.
func (a *App) Start(ctx context.Context) {
	if a.Publisher != nil {
		go a.Publisher.Run(ctx)
	}
}

// Close releases external connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
