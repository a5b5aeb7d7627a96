package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/qr-access/internal/utils"
)

func newAdminTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		subject string
		ttl     int
	)

	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Print a signed ADMIN bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config()
			if ttl <= 0 {
				ttl = cfg.AccessTTLMin
			}
			tok, err := utils.NewAccessToken(cfg.JWTSecret, subject, utils.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.Exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "Subject (operator id) of the token")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Lifetime in minutes (defaults to ACCESS_TOKEN_TTL_MIN)")
	return cmd
}
