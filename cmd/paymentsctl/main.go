// Command paymentsctl runs one-off operator tasks against the payments database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"paycore/config"
	"paycore/internal/database"
	"paycore/internal/idempotency"
	"paycore/internal/repository"
	"paycore/internal/service"
	"paycore/pkg/logger"
	"paycore/pkg/payment"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Version = "dev"

// env is what every subcommand needs: config, logger and an open database.
type env struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
}

func setup() (*env, error) {
	cfg := config.Load()
	log := logger.Must(cfg.Server.Env)
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return &env{cfg: cfg, log: log, db: db}, nil
}

func (e *env) close() {
	_ = e.log.Sync()
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// paymentService wires the same PaymentService the server runs, without push.
func (e *env) paymentService(ctx context.Context) (*service.PaymentService, *payment.Registry, func() error, error) {
	idem, closeIdem, err := idempotency.Open(ctx, e.cfg.Idempotency, e.cfg.Redis, e.db)
	if err != nil {
		return nil, nil, nil, err
	}
	notifier := service.NewNotificationService(repository.NewNotificationRepository(e.db), nil, e.log)
	gateways := service.NewGatewayRegistry(e.cfg.Gateways, e.log)
	return service.NewPaymentService(e.db, idem, gateways, notifier, e.cfg.Gateways, e.log), gateways, closeIdem, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "paymentsctl",
		Short:         "Operator tasks for the payments service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedLevelsCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(commissionsCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(idempotencyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			if err := database.AutoMigrate(e.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func seedLevelsCmd() *cobra.Command {
	var levels string
	cmd := &cobra.Command{
		Use:   "seed-levels",
		Short: "Seed referral commission levels if none exist",
		Long: `Seed referral commission levels if the table is empty.

Levels are "name:min_referrals:rate" triples separated by commas.

Examples:
  paymentsctl seed-levels
  paymentsctl seed-levels --levels "bronze:0:0.05,silver:10:0.10,gold:50:0.15"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			if levels == "" {
				levels = e.cfg.Referral.Levels
			}
			n, err := database.SeedReferralLevels(e.db, levels)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Println("levels already present, nothing seeded")
				return nil
			}
			fmt.Printf("seeded %d levels\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&levels, "levels", "", "level table (defaults to REFERRAL_LEVELS)")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over stale open payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			payments, gateways, closeIdem, err := e.paymentService(ctx)
			if err != nil {
				return err
			}
			defer closeIdem()
			r := service.NewReconciler(e.db, gateways, payments, e.cfg.Reconciliation, e.log)
			report, err := r.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("checked=%d applied=%d unchanged=%d rejected=%d unreachable=%d skipped=%d errors=%d\n",
				report.Checked, report.Applied, report.Unchanged, report.Rejected,
				report.Unreachable, report.Skipped, report.Errors)
			return nil
		},
	}
}

func commissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commissions",
		Short: "Referral commission jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Settle every due commission job",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			w := service.NewCommissionWorker(e.db, service.NewCommissionService(e.db, e.log), e.cfg.Commission, e.log)
			report, err := w.Drain(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("settled=%d failed=%d\n", report.Settled, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d jobs failed and were rescheduled", report.Failed)
			}
			return nil
		},
	})
	return cmd
}

func idempotencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idempotency",
		Short: "Database-backed idempotency keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired idempotency keys from the database store",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			n, err := idempotency.NewDBStore(e.db, e.cfg.Idempotency.TTL).Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("purged %d keys\n", n)
			return nil
		},
	})
	return cmd
}
