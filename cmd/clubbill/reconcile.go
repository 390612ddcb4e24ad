package main

import (
	"fmt"

	"github.com/fieldside/clubbill/internal/auditlog"
	"github.com/fieldside/clubbill/internal/billing"
	"github.com/fieldside/clubbill/internal/config"
	"github.com/fieldside/clubbill/internal/logging"
	"github.com/fieldside/clubbill/internal/reconcile"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	reconcileLive      bool
	reconcileDryRun    bool
	reconcileAnchorDay int
	reconcileChargeNow bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [accountFilter] [planFilter]",
	Short: "Put every customer of an account on the target plan and billing date",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := resolveMode(reconcileLive, reconcileDryRun)
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

		accountFilter, planFilter := positional(args)
		anchorDay := reconcileAnchorDay
		if anchorDay == 0 {
			anchorDay = cfg.AnchorDay
		}

		store := billing.NewStripeStore(cfg.StripeAPIKey)
		audit := openAudit(cfg)
		if audit != nil {
			defer audit.Close()
		}

		runner := reconcile.NewRunner(store, audit)
		report, err := runner.Reconcile(cmd.Context(), reconcile.Options{
			AccountFilter: accountFilter,
			PlanFilter:    planFilter,
			DryRun:        dryRun,
			AnchorDay:     anchorDay,
			ChargeNow:     reconcileChargeNow,
		})
		if err != nil {
			return err
		}

		printReport(report)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileLive, "live", false, "apply changes (default is a dry run)")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "simulate only, never mutate remote state")
	reconcileCmd.Flags().IntVar(&reconcileAnchorDay, "anchor-day", 0, "target billing day-of-month (1-28, default from config)")
	reconcileCmd.Flags().BoolVar(&reconcileChargeNow, "charge-now", false, "re-anchor immediately with immediate proration")
}

// resolveMode turns the --live/--dry-run pair into a dry-run flag.
// Absence of --live implies dry-run; passing both is a contradiction.
func resolveMode(live, dryRun bool) (bool, error) {
	if live && dryRun {
		return false, fmt.Errorf("--live and --dry-run are mutually exclusive")
	}
	return !live, nil
}

func positional(args []string) (accountFilter, planFilter string) {
	if len(args) > 0 {
		accountFilter = args[0]
	}
	if len(args) > 1 {
		planFilter = args[1]
	}
	return accountFilter, planFilter
}

// openAudit is best-effort: a broken audit database degrades to an
// unrecorded run, never a failed one.
func openAudit(cfg *config.Config) *auditlog.Store {
	audit, err := auditlog.Open(cfg.AuditDir())
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.AuditDir()).Msg("Audit log unavailable, run will not be recorded")
		return nil
	}
	return audit
}

func printReport(report *reconcile.Report) {
	fmt.Println()
	fmt.Println("=== Run Summary ===")
	fmt.Printf("Account:         %s (%s)\n", report.Account.Name, report.Account.ID)
	fmt.Printf("Target plan:     %s (%s)\n", report.Plan.Label(), report.Plan.ID)
	fmt.Printf("Customers:       %d (%d duplicates collapsed)\n", report.Customers, report.Duplicates)
	fmt.Printf("Created:         %d\n", report.Stats.Created)
	fmt.Printf("Updated:         %d\n", report.Stats.Updated)
	fmt.Printf("Already aligned: %d\n", report.Stats.AlreadyAligned)
	fmt.Printf("Skipped:         %d\n", report.Stats.Skipped)
	fmt.Printf("Errors:          %d\n", report.Stats.Errors)
	if report.DryRun {
		fmt.Println()
		fmt.Println("Dry run only - use --live to execute.")
	}
}
