package main

import (
	"fmt"
	"time"

	"github.com/fieldside/clubbill/internal/billing"
	"github.com/fieldside/clubbill/internal/config"
	"github.com/fieldside/clubbill/internal/logging"
	"github.com/fieldside/clubbill/internal/reconcile"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rollbackLive      bool
	rollbackDryRun    bool
	rollbackWindow    time.Duration
	rollbackAnchorDay int
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [accountFilter]",
	Short: "Refund invoices from a recent run and restore billing dates",
	Long:  `rollback finds invoices created by a recent migration run (inside the lookback window), refunds them, and resets each affected subscription's next charge to the target billing day. Refunds are idempotent: an already-refunded charge counts as success.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := resolveMode(rollbackLive, rollbackDryRun)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{
			Format:    cfg.LogFormat,
			Level:     cfg.LogLevel,
			Component: "clubbill",
		})

		accountFilter := ""
		if len(args) > 0 {
			accountFilter = args[0]
		}
		anchorDay := rollbackAnchorDay
		if anchorDay == 0 {
			anchorDay = cfg.AnchorDay
		}

		store := billing.NewStripeStore(cfg.StripeAPIKey)
		accounts, err := store.ListConnectedAccounts(cmd.Context())
		if err != nil {
			return fmt.Errorf("list connected accounts: %w", err)
		}
		account, err := reconcile.ResolveAccount(accounts, accountFilter)
		if err != nil {
			return err
		}
		log.Info().
			Str("account_id", account.ID).
			Str("account", account.Name).
			Dur("window", rollbackWindow).
			Msg("Rolling back recent run")

		printLastRun(cfg, account.ID)

		restoreAnchor := reconcile.NextAnchorDay(time.Now(), anchorDay)
		rollback := reconcile.NewRollback(store, dryRun)
		stats, err := rollback.Run(cmd.Context(), account.ID, rollbackWindow, restoreAnchor)
		if err != nil {
			return err
		}

		fmt.Println()
		fmt.Println("=== Rollback Summary ===")
		fmt.Printf("Account:     %s (%s)\n", account.Name, account.ID)
		fmt.Printf("Window:      %s\n", rollbackWindow)
		fmt.Printf("Next charge: %s\n", restoreAnchor.Format("2006-01-02"))
		fmt.Printf("Refunded:    %d\n", stats.Refunded)
		fmt.Printf("Rescheduled: %d\n", stats.Rescheduled)
		fmt.Printf("Skipped:     %d\n", stats.Skipped)
		fmt.Printf("Errors:      %d\n", stats.Errors)
		if dryRun {
			fmt.Println()
			fmt.Println("Dry run only - use --live to execute.")
		}
		return nil
	},
}

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackLive, "live", false, "apply refunds and reschedules (default is a dry run)")
	rollbackCmd.Flags().BoolVar(&rollbackDryRun, "dry-run", false, "simulate only, never mutate remote state")
	rollbackCmd.Flags().DurationVar(&rollbackWindow, "window", reconcile.DefaultRollbackWindow, "how far back to look for run-created invoices")
	rollbackCmd.Flags().IntVar(&rollbackAnchorDay, "anchor-day", 0, "billing day-of-month to restore (1-28, default from config)")
}

// printLastRun surfaces the most recent recorded live run so the
// operator can sanity-check the window before refunding anything.
func printLastRun(cfg *config.Config, accountID string) {
	audit := openAudit(cfg)
	if audit == nil {
		return
	}
	defer audit.Close()

	runs, err := audit.RecentRuns(accountID, 5)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read audit history")
		return
	}
	for _, run := range runs {
		if run.DryRun {
			continue
		}
		fmt.Printf("Last live run: %s at %s (plan %s, created %d, updated %d, errors %d)\n",
			run.ID, run.StartedAt.Format(time.RFC3339), run.PlanLabel,
			run.Created, run.Updated, run.Errors)
		return
	}
	fmt.Println("No recorded live run for this account.")
}
