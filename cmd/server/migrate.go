package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/access"
	"github.com/iliyamo/qr-access/internal/app"
	"github.com/iliyamo/qr-access/internal/audit"
	"github.com/iliyamo/qr-access/internal/database"
	"github.com/iliyamo/qr-access/internal/model"
	"github.com/iliyamo/qr-access/internal/repository"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config()
			db, err := app.OpenDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db, cfg.DBDriver); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}

// Fixed demo tokens created by seed.
const (
	demoNew     = "DEMO-NEW"
	demoActive  = "DEMO-ACTIVE"
	demoBlocked = "DEMO-BLOCKED"
)

func newSeedCommand(ctx *commandContext) *cobra.Command {
	var (
		count   int
		product string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo QR codes",
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
			if err := database.Migrate(cmd.Context(), db, cfg.DBDriver); err != nil {
				return err
			}

			store := repository.NewSQLStore(db, cfg.DBDriver)
			productID, err := store.CreateProduct(cmd.Context(), product)
			if err != nil {
				return err
			}

			tokens := []struct {
				token  string
				status model.QrStatus
			}{
				{demoNew, model.QrStatusNew},
				{demoActive, model.QrStatusNew},
				{demoBlocked, model.QrStatusBlocked},
			}
			for i := 0; i < count; i++ {
				tokens = append(tokens, struct {
					token  string
					status model.QrStatus
				}{randomToken(), model.QrStatusNew})
			}

			rows := make([][]string, 0, len(tokens))
			for _, t := range tokens {
				qr := model.NewQrCode(t.token)
				qr.Status = t.status
				qr.ProductID = &productID
				qr.MaxReactivations = cfg.Access.DefaultMaxReactivations
				result := "created"
				if err := store.CreateQr(cmd.Context(), &qr); err != nil {
					if !errors.Is(err, repository.ErrConflict) {
						return err
					}
					result = "exists"
				}
				rows = append(rows, []string{t.token, string(t.status), result})
			}

			// DEMO-ACTIVE goes through the regular registration path.
			svc := access.NewService(store, audit.NewLogger(audit.NewHasher(cfg.HashKey), audit.NewZapSink(log.Named("audit")), log),
				cfg.Access, log.Named("access"))
			device := uuid.NewString()
			if _, err := svc.Register(cmd.Context(), access.RegisterRequest{Token: demoActive, DeviceID: device, Source: audit.Source{UserAgent: "seed"}}); err != nil {
				if kind, ok := access.KindOf(err); !ok || kind != access.KindDeviceConflict {
					return err
				}
			} else {
				rows[1][1] = string(model.QrStatusActive)
				rows[1][2] += ", device " + device
			}

			log.Info("seed complete", zap.Int("tokens", len(tokens)), zap.Int64("product_id", productID))
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Token", "Status", "Result"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of additional random tokens")
	cmd.Flags().StringVar(&product, "product", "Demo Audiobook", "Title of the demo product")
	return cmd
}

func randomToken() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
