package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/config"
	"github.com/iliyamo/qr-access/internal/logging"
)

// commandContext carries lazily loaded configuration shared by the
// subcommands.
type commandContext struct {
	envFile string
	cfg     *config.Config
	log     *zap.Logger
}

func (c *commandContext) config() config.Config {
	if c.cfg == nil {
		cfg := config.Load()
		c.cfg = &cfg
	}
	return *c.cfg
}

func (c *commandContext) logger() (*zap.Logger, error) {
	if c.log != nil {
		return c.log, nil
	}
	cfg := c.config()
	log, err := logging.New(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return nil, err
	}
	c.log = log
	return log, nil
}

func (c *commandContext) close() {
	if c.log != nil {
		_ = c.log.Sync()
	}
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "qr-access",
		Short:         "QR access and registration service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine; the environment may already be set.
			_ = godotenv.Load(ctx.envFile)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&ctx.envFile, "env-file", ".env", "Environment file loaded before reading configuration")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newSeedCommand(ctx))
	rootCmd.AddCommand(newInspectCommand(ctx))
	rootCmd.AddCommand(newAdminTokenCommand(ctx))
	rootCmd.AddCommand(newAuditConsumerCommand(ctx))

	return rootCmd
}
