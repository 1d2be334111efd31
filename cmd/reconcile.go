package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/ticket-payments/internal/payment"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-verify stale pending payments",
	Long:  `Sweep pending payments older than reconcile.stale_after through gateway verification, settling or failing each one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd.Context())
	},
}

var (
	reconcileWorkers    int
	reconcileBatchSize  int
	reconcileStaleAfter time.Duration
	reconcileInterval   time.Duration
)

func runReconcile(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	deps, err := initializeDependencies()
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	cfg := deps.Config.Reconcile
	reconciler := payment.NewReconciler(payment.ReconcilerConfig{
		StaleAfter: getDurationFlag(reconcileStaleAfter, cfg.StaleAfter),
		Workers:    getIntFlag(reconcileWorkers, cfg.Workers),
		BatchSize:  getIntFlag(reconcileBatchSize, cfg.BatchSize),
	}, deps.PaymentService, deps.Payments, deps.Metrics, deps.Logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if reconcileInterval <= 0 {
		_, err := reconciler.Run(ctx)
		return err
	}

	deps.Logger.Info("reconcile loop started", "interval", reconcileInterval)
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		if _, err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			deps.Logger.Error("reconcile sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			deps.Logger.Info("reconcile loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileWorkers, "workers", 0, "Number of concurrent verifications (overrides config)")
	reconcileCmd.Flags().IntVar(&reconcileBatchSize, "batch-size", 0, "Maximum payments per sweep (overrides config)")
	reconcileCmd.Flags().DurationVar(&reconcileStaleAfter, "stale-after", 0, "Age after which a pending payment is re-verified (overrides config)")
	reconcileCmd.Flags().DurationVar(&reconcileInterval, "interval", 0, "Repeat the sweep at this interval until interrupted; 0 runs once")
}
