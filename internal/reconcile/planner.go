package reconcile

import (
	"time"

	"github.com/fieldside/clubbill/internal/billing"
)

// ActionKind classifies what the engine must do for one customer.
type ActionKind string

const (
	// ActionNone leaves the customer untouched.
	ActionNone ActionKind = "none"
	// ActionAlign re-applies the billing-date policy to a subscription
	// already on the target plan. This fires on every run for every
	// eligible customer; there is no "done forever" state.
	ActionAlign ActionKind = "align"
	// ActionSwitchAndAlign moves the subscription to the target plan and
	// re-applies the billing-date policy in the same update.
	ActionSwitchAndAlign ActionKind = "switch_and_align"
	// ActionCreate starts a new subscription for a customer with no live
	// one.
	ActionCreate ActionKind = "create"
)

// Action is the planner's verdict for one canonical customer. It is
// computed fresh each run, consumed exactly once by the engine, and
// never persisted as engine state (the audit log keeps outcomes, not
// pending actions).
type Action struct {
	CustomerID       string
	CustomerName     string
	Kind             ActionKind
	SubscriptionID   string
	FromPriceID      string
	ToPriceID        string
	CurrentPeriodEnd time.Time
	Anchor           billing.Anchor
}

// PlanCustomer computes the required action for one canonical customer
// against the target plan and anchor policy. Pure: no store access, no
// clock access.
func PlanCustomer(c billing.Customer, plan billing.Price, anchor billing.Anchor) Action {
	action := Action{
		CustomerID:   c.ID,
		CustomerName: c.Name,
		ToPriceID:    plan.ID,
		Anchor:       anchor,
	}

	sub, ok := c.LiveSubscription()
	if !ok {
		action.Kind = ActionCreate
		return action
	}

	action.SubscriptionID = sub.ID
	action.CurrentPeriodEnd = sub.CurrentPeriodEnd
	if sub.PriceID == plan.ID {
		action.Kind = ActionAlign
		return action
	}

	action.Kind = ActionSwitchAndAlign
	action.FromPriceID = sub.PriceID
	return action
}

// NextAnchorDay returns the next occurrence of the given day-of-month at
// midnight UTC, rolling into the next month when the day has already
// passed. Days beyond the end of a short month clamp to its last day.
func NextAnchorDay(now time.Time, day int) time.Time {
	now = now.UTC()
	candidate := anchorInMonth(now.Year(), now.Month(), day)
	if !candidate.After(now) {
		candidate = anchorInMonth(now.Year(), now.Month()+1, day)
	}
	return candidate
}

func anchorInMonth(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
