// Package billing defines the domain model for subscription billing state
// and the Store abstraction over the remote payment provider. The engine
// in internal/reconcile only ever talks to the provider through Store, so
// tests run against an in-memory fake and production runs against Stripe.
package billing

import (
	"strings"
	"time"
)

// SubscriptionStatus mirrors the provider-side subscription lifecycle.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

// Proration controls how the provider settles a mid-cycle plan or anchor
// change.
type Proration string

const (
	// ProrationAlwaysInvoice settles the change immediately with an invoice.
	ProrationAlwaysInvoice Proration = "always_invoice"
	// ProrationCreate issues partial charges/credits on the next invoice.
	ProrationCreate Proration = "create_prorations"
	// ProrationNone shifts the billing date without any extra line items.
	ProrationNone Proration = "none"
)

// Account is a connected sub-merchant (one sports club) under the
// platform account.
type Account struct {
	ID    string
	Name  string
	Email string
}

// Price is one entry of a connected account's active catalog.
type Price struct {
	ID          string
	Nickname    string
	ProductName string
	UnitAmount  int64
	Currency    string
}

// Label returns the operator-facing name of the price.
func (p Price) Label() string {
	if strings.TrimSpace(p.Nickname) != "" {
		return p.Nickname
	}
	return p.ProductName
}

// Customer is a billing identity at the remote store. The engine never
// creates customers; it only reads them and annotates them in memory.
type Customer struct {
	ID            string
	Email         string
	Name          string
	Created       time.Time
	Subscriptions []Subscription
}

// LiveSubscription returns the first active or trialing subscription, if
// any.
func (c Customer) LiveSubscription() (Subscription, bool) {
	for _, s := range c.Subscriptions {
		if s.IsLive() {
			return s, true
		}
	}
	return Subscription{}, false
}

// HasLiveSubscription reports whether the customer has any active or
// trialing subscription.
func (c Customer) HasLiveSubscription() bool {
	_, ok := c.LiveSubscription()
	return ok
}

// Subscription belongs to exactly one customer. Mutated only through
// Store update calls.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           SubscriptionStatus
	PriceID          string
	CurrentPeriodEnd time.Time
	LatestInvoiceID  string
}

// IsLive reports whether the subscription currently bills or trials.
func (s Subscription) IsLive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// Invoice is the subset of the provider invoice the engine needs for the
// reversal companion.
type Invoice struct {
	ID         string
	Created    time.Time
	Paid       bool
	AmountPaid int64
	ChargeID   string
}

// RefundStatus distinguishes a fresh refund from an idempotent repeat.
type RefundStatus string

const (
	RefundIssued          RefundStatus = "issued"
	RefundAlreadyRefunded RefundStatus = "already_refunded"
)

// Refund is the outcome of a RefundCharge call.
type Refund struct {
	ID       string
	ChargeID string
	Amount   int64
	Status   RefundStatus
}

// Anchor is the target billing-cycle anchor for a subscription change:
// either "now" (immediate re-anchor, triggering immediate proration at
// the provider) or a fixed future instant.
type Anchor struct {
	Now bool
	At  time.Time
}

// AnchorNow returns an immediate anchor.
func AnchorNow() Anchor { return Anchor{Now: true} }

// AnchorAt returns a fixed-instant anchor.
func AnchorAt(at time.Time) Anchor { return Anchor{At: at.UTC()} }

// String renders the anchor for run logs.
func (a Anchor) String() string {
	if a.Now {
		return "now"
	}
	return a.At.UTC().Format("2006-01-02")
}
