package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldside/clubbill/internal/auditlog"
	"github.com/fieldside/clubbill/internal/billing"
	"github.com/rs/zerolog/log"
)

// Options configures one reconciliation run.
type Options struct {
	AccountFilter string
	PlanFilter    string
	DryRun        bool
	AnchorDay     int  // day-of-month for the target billing date
	ChargeNow     bool // re-anchor immediately instead of a fixed day
}

// Report is the result of one completed run. Per-customer errors are
// inside Stats/Outcomes; the run as a whole succeeded.
type Report struct {
	RunID      string
	Account    billing.Account
	Plan       billing.Price
	DryRun     bool
	Customers  int
	Duplicates int
	Stats      RunStats
	Outcomes   []Outcome
}

// Runner wires the full pipeline: account and plan resolution, customer
// materialization, dedup, planning, execution, and audit recording.
type Runner struct {
	store billing.Store
	audit *auditlog.Store // nil disables audit recording
	nowFn func() time.Time
}

// NewRunner creates a Runner. audit may be nil.
func NewRunner(store billing.Store, audit *auditlog.Store) *Runner {
	return &Runner{store: store, audit: audit, nowFn: time.Now}
}

// Reconcile runs the engine for one account against one target plan.
// Account-not-found and plan-not-found are fatal and returned as
// errors; everything past that point is per-customer and lands in the
// report instead.
func (r *Runner) Reconcile(ctx context.Context, opts Options) (*Report, error) {
	startedAt := r.nowFn().UTC()

	accounts, err := r.store.ListConnectedAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connected accounts: %w", err)
	}
	account, err := ResolveAccount(accounts, opts.AccountFilter)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("account_id", account.ID).
		Str("account", account.Name).
		Msg("Resolved connected account")

	prices, err := r.store.ListActivePrices(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("list active prices: %w", err)
	}
	plan, err := ResolvePlan(prices, opts.PlanFilter)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("price_id", plan.ID).
		Str("plan", plan.Label()).
		Int64("unit_amount", plan.UnitAmount).
		Str("currency", plan.Currency).
		Msg("Resolved target plan")

	customers, err := r.materializeCustomers(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	deduped := Dedupe(customers)
	for _, d := range deduped.Duplicates {
		log.Info().
			Str("customer_id", d.ID).
			Str("email", d.Email).
			Msg("Skipping duplicate customer")
	}

	anchor := billing.AnchorNow()
	if !opts.ChargeNow {
		anchor = billing.AnchorAt(NextAnchorDay(r.nowFn(), opts.AnchorDay))
	}
	log.Info().
		Str("target_anchor", anchor.String()).
		Bool("dry_run", opts.DryRun).
		Int("customers", len(deduped.Unique)).
		Int("duplicates", len(deduped.Duplicates)).
		Msg("Planning actions")

	actions := make([]Action, 0, len(deduped.Unique))
	for _, c := range deduped.Unique {
		actions = append(actions, PlanCustomer(c, plan, anchor))
	}

	engine := NewEngine(r.store, plan.Label(), opts.DryRun)
	stats, outcomes := engine.Run(ctx, account.ID, actions)

	report := &Report{
		RunID:      auditlog.NewRunID(),
		Account:    account,
		Plan:       plan,
		DryRun:     opts.DryRun,
		Customers:  len(deduped.Unique),
		Duplicates: len(deduped.Duplicates),
		Stats:      stats,
		Outcomes:   outcomes,
	}
	r.recordAudit(report, startedAt)
	return report, nil
}

// materializeCustomers fetches every customer and joins their live
// subscriptions from one account-wide listing. Dedup and planning both
// need a complete view, so the sequence is fully materialized here.
func (r *Runner) materializeCustomers(ctx context.Context, accountID string) ([]billing.Customer, error) {
	customers, err := r.store.ListCustomers(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	subs, err := r.store.ListActiveSubscriptions(ctx, accountID, "")
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	byCustomer := make(map[string][]billing.Subscription, len(subs))
	for _, s := range subs {
		byCustomer[s.CustomerID] = append(byCustomer[s.CustomerID], s)
	}
	for i := range customers {
		customers[i].Subscriptions = byCustomer[customers[i].ID]
	}
	return customers, nil
}

// recordAudit is best-effort: an audit failure is logged but never
// fails a completed run.
func (r *Runner) recordAudit(report *Report, startedAt time.Time) {
	if r.audit == nil {
		return
	}

	run := auditlog.Run{
		ID:             report.RunID,
		Kind:           "reconcile",
		AccountID:      report.Account.ID,
		AccountName:    report.Account.Name,
		PlanID:         report.Plan.ID,
		PlanLabel:      report.Plan.Label(),
		DryRun:         report.DryRun,
		Created:        report.Stats.Created,
		Updated:        report.Stats.Updated,
		Skipped:        report.Stats.Skipped,
		AlreadyAligned: report.Stats.AlreadyAligned,
		Errors:         report.Stats.Errors,
		StartedAt:      startedAt,
		FinishedAt:     r.nowFn().UTC(),
	}
	actions := make([]auditlog.RunAction, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		actions = append(actions, auditlog.RunAction{
			RunID:          run.ID,
			CustomerID:     o.CustomerID,
			CustomerName:   o.CustomerName,
			Kind:           string(o.Kind),
			Description:    o.Description,
			SubscriptionID: o.SubscriptionID,
			InvoiceID:      o.InvoiceID,
			Err:            o.Err,
		})
	}
	if err := r.audit.Record(run, actions); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record audit run")
	}
}
