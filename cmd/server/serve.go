package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/app"
	"github.com/iliyamo/qr-access/internal/config"
	"github.com/iliyamo/qr-access/internal/database"
	"github.com/iliyamo/qr-access/internal/router"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config()
			log, err := ctx.logger()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, config.LoadRateLimitConfig(), log, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the schema before serving")
	return cmd
}

func serve(parent context.Context, cfg config.Config, rl config.RateLimitConfig, log *zap.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, rl, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := database.Migrate(ctx, a.DB, cfg.DBDriver); err != nil {
			return err
		}
	}
	a.Start(ctx)

	e := router.New(a)
	addr := ":" + cfg.Port
	log.Info("listening",
		zap.String("addr", addr),
		zap.String("env", cfg.Env),
		zap.String("db_driver", cfg.DBDriver),
		zap.Bool("distributed_rate_limit", a.Limiter.Distributed()),
		zap.Bool("audit_amqp", a.Publisher != nil),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
