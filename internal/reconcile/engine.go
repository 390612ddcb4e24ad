package reconcile

import (
	"context"
	"fmt"

	"github.com/fieldside/clubbill/internal/billing"
	"github.com/rs/zerolog/log"
)

// RunStats aggregates one engine pass. Emitted as an immutable snapshot
// when the pass completes.
type RunStats struct {
	Created        int
	Updated        int
	Skipped        int
	AlreadyAligned int
	Errors         int
}

// Outcome records what happened to one customer, for the run log, the
// audit store, and the rollback companion.
type Outcome struct {
	CustomerID     string
	CustomerName   string
	Kind           ActionKind
	Description    string
	SubscriptionID string
	InvoiceID      string
	Err            string
}

// Engine applies planned actions against the store. Execution is
// strictly sequential: the store is quota-limited per account, and a
// serial batch keeps partial failures easy to reason about.
type Engine struct {
	store     billing.Store
	planLabel string
	dryRun    bool
}

// NewEngine creates an Engine. planLabel is the operator-facing name of
// the target plan, used in run-log descriptions.
func NewEngine(store billing.Store, planLabel string, dryRun bool) *Engine {
	return &Engine{store: store, planLabel: planLabel, dryRun: dryRun}
}

// Run executes the action list in order. A failure on one customer is
// recorded and execution continues; the batch never aborts. Re-running
// the whole batch is the retry mechanism: actions are recomputed from
// remote state each run, so completed work is naturally skipped over.
func (e *Engine) Run(ctx context.Context, accountID string, actions []Action) (RunStats, []Outcome) {
	stats := RunStats{}
	outcomes := make([]Outcome, 0, len(actions))

	for _, action := range actions {
		outcome := Outcome{
			CustomerID:     action.CustomerID,
			CustomerName:   action.CustomerName,
			Kind:           action.Kind,
			SubscriptionID: action.SubscriptionID,
			Description:    e.describe(action),
		}

		switch {
		case action.Kind == ActionNone:
			stats.Skipped++
		case alreadyAligned(action):
			stats.AlreadyAligned++
			log.Info().
				Str("customer_id", action.CustomerID).
				Str("customer", action.CustomerName).
				Msg("Already aligned, nothing to do")
		case e.dryRun:
			e.classify(action.Kind, &stats)
			log.Info().
				Str("customer_id", action.CustomerID).
				Str("customer", action.CustomerName).
				Msgf("Would: %s", outcome.Description)
		default:
			sub, err := e.apply(ctx, accountID, action)
			if err != nil {
				stats.Errors++
				outcome.Err = err.Error()
				log.Error().
					Err(err).
					Str("customer_id", action.CustomerID).
					Str("customer", action.CustomerName).
					Msg("Action failed, continuing with next customer")
			} else {
				e.classify(action.Kind, &stats)
				outcome.SubscriptionID = sub.ID
				outcome.InvoiceID = sub.LatestInvoiceID
				log.Info().
					Str("customer_id", action.CustomerID).
					Str("customer", action.CustomerName).
					Str("subscription_id", sub.ID).
					Msg(outcome.Description)
			}
		}
		outcomes = append(outcomes, outcome)
	}

	return stats, outcomes
}

func (e *Engine) apply(ctx context.Context, accountID string, action Action) (billing.Subscription, error) {
	switch action.Kind {
	case ActionCreate:
		return e.store.CreateSubscription(ctx, accountID, action.CustomerID, action.ToPriceID, billing.AnchorNow())
	case ActionAlign:
		return e.store.UpdateSubscription(ctx, accountID, action.SubscriptionID, billing.SubscriptionUpdate{
			Anchor:    action.Anchor,
			Proration: billing.ProrationCreate,
		})
	case ActionSwitchAndAlign:
		return e.store.UpdateSubscription(ctx, accountID, action.SubscriptionID, billing.SubscriptionUpdate{
			PriceID:   action.ToPriceID,
			Anchor:    action.Anchor,
			Proration: billing.ProrationCreate,
		})
	default:
		return billing.Subscription{}, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (e *Engine) classify(kind ActionKind, stats *RunStats) {
	switch kind {
	case ActionCreate:
		stats.Created++
	case ActionAlign, ActionSwitchAndAlign:
		stats.Updated++
	default:
		stats.Skipped++
	}
}

// alreadyAligned reports whether an align-only action would not change
// the subscription: the current period already ends on the target
// anchor day. Charge-now anchors always fire.
func alreadyAligned(action Action) bool {
	if action.Kind != ActionAlign || action.Anchor.Now {
		return false
	}
	current := action.CurrentPeriodEnd.UTC()
	target := action.Anchor.At.UTC()
	return current.Year() == target.Year() && current.YearDay() == target.YearDay()
}

func (e *Engine) describe(action Action) string {
	anchor := "Align Date (Charge Now)"
	if !action.Anchor.Now {
		anchor = "Align Date → " + action.Anchor.String()
	}
	switch action.Kind {
	case ActionCreate:
		return fmt.Sprintf("Create Subscription → %s (Charge Now)", e.planLabel)
	case ActionAlign:
		return anchor
	case ActionSwitchAndAlign:
		return fmt.Sprintf("Switch Plan → %s, %s", e.planLabel, anchor)
	default:
		return "No change"
	}
}
