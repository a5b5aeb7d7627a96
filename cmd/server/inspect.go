package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/qr-access/internal/access"
	"github.com/iliyamo/qr-access/internal/app"
	"github.com/iliyamo/qr-access/internal/repository"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Show a QR code and its bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config()
			log, err := ctx.logger()
			if err != nil {
				return err
			}
			db, err := app.OpenDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := access.NewService(repository.NewSQLStore(db, cfg.DBDriver), nil, cfg.Access, log.Named("access"))
			d, err := svc.Detail(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			summary := [][]string{
				{"Token", d.Qr.Token},
				{"ID", d.Qr.ID},
				{"Status", string(d.Qr.Status)},
				{"Public status", d.Validation.Status},
				{"Can reregister", strconv.FormatBool(d.Validation.CanReregister)},
				{"Max reactivations", strconv.Itoa(d.Qr.MaxReactivations)},
				{"Registered at", formatTime(d.Qr.RegisteredAt)},
				{"Cooldown until", formatTime(d.Qr.CooldownUntil)},
			}
			if d.Validation.Product != nil {
				summary = append(summary, []string{"Product", d.Validation.Product.Title})
			}
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, summary, nil))

			rows := make([][]string, 0, len(d.Bindings))
			for _, b := range d.Bindings {
				account := "-"
				if b.AccountID != nil {
					account = *b.AccountID
				}
				created := b.CreatedAt
				rows = append(rows, []string{b.DeviceID, account, strconv.FormatBool(b.Active), formatTime(&created), formatTime(b.RevokedAt)})
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "no bindings")
				return nil
			}
			fmt.Fprintln(out, renderTable([]string{"Device", "Account", "Active", "Created", "Revoked"}, rows, nil))
			return nil
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
