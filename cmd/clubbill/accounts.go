package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fieldside/clubbill/internal/billing"
	"github.com/fieldside/clubbill/internal/config"
	"github.com/fieldside/clubbill/internal/logging"
	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts [filter]",
	Short: "List connected accounts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{
			Format:    cfg.LogFormat,
			Level:     cfg.LogLevel,
			Component: "clubbill",
		})

		filter := ""
		if len(args) > 0 {
			filter = strings.ToLower(strings.TrimSpace(args[0]))
		}

		store := billing.NewStripeStore(cfg.StripeAPIKey)
		accounts, err := store.ListConnectedAccounts(cmd.Context())
		if err != nil {
			return err
		}

		shown := 0
		for _, a := range accounts {
			if filter != "" &&
				!strings.Contains(strings.ToLower(a.Name), filter) &&
				!strings.Contains(strings.ToLower(a.Email), filter) &&
				!strings.Contains(strings.ToLower(a.ID), filter) {
				continue
			}
			fmt.Printf("%-24s  %-32s  %s\n", a.ID, a.Name, a.Email)
			shown++
		}
		if shown == 0 {
			fmt.Println("No matching connected accounts.")
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs [accountID]",
	Short: "Show recorded reconciliation runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{
			Format:    cfg.LogFormat,
			Level:     cfg.LogLevel,
			Component: "clubbill",
		})

		accountID := ""
		if len(args) > 0 {
			accountID = args[0]
		}

		audit := openAudit(cfg)
		if audit == nil {
			return fmt.Errorf("audit log unavailable")
		}
		defer audit.Close()

		runs, err := audit.RecentRuns(accountID, 20)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}
		for _, run := range runs {
			mode := "live"
			if run.DryRun {
				mode = "dry-run"
			}
			fmt.Printf("%s  %s  %-8s  %-24s  plan=%s  created=%d updated=%d aligned=%d errors=%d\n",
				run.StartedAt.Format(time.RFC3339), run.ID[:8], mode,
				run.AccountName, run.PlanLabel,
				run.Created, run.Updated, run.AlreadyAligned, run.Errors)
		}
		return nil
	},
}
