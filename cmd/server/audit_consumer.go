package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/queue"
)

func newAuditConsumerCommand(ctx *commandContext) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "audit-consumer",
		Short: "Drain the audit queue into a log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config()
			log, err := ctx.logger()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("audit-consumer starting", zap.String("queue", cfg.AuditQueue), zap.String("dir", dir))
			err = queue.NewConsumer(cfg.AMQPURL, cfg.AuditQueue, dir, log.Named("audit-consumer")).Run(runCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "logs", "Directory for audit.log")
	return cmd
}
