package billing

import "context"

// SubscriptionUpdate carries the mutable fields of an update call. An
// empty PriceID leaves the subscription's price item untouched.
type SubscriptionUpdate struct {
	PriceID   string
	Anchor    Anchor
	Proration Proration
}

// Store is the narrow interface the reconciliation engine requires from
// the remote billing provider. Every operation is individually atomic at
// the provider; the store offers no cross-entity transaction, so callers
// must tolerate re-running against partially applied state.
type Store interface {
	// ListConnectedAccounts returns all connected sub-merchant accounts.
	ListConnectedAccounts(ctx context.Context) ([]Account, error)

	// ListActivePrices returns the full active price catalog of an
	// account, with product names resolved.
	ListActivePrices(ctx context.Context, accountID string) ([]Price, error)

	// ListCustomers enumerates every customer of an account. Pagination
	// is handled internally; the result is fully materialized.
	ListCustomers(ctx context.Context, accountID string) ([]Customer, error)

	// ListActiveSubscriptions returns the active and trialing
	// subscriptions of an account, optionally scoped to one customer
	// (empty customerID means all).
	ListActiveSubscriptions(ctx context.Context, accountID, customerID string) ([]Subscription, error)

	// CreateSubscription starts a new subscription on priceID. New
	// subscriptions always settle immediately (always_invoice).
	CreateSubscription(ctx context.Context, accountID, customerID, priceID string, anchor Anchor) (Subscription, error)

	// UpdateSubscription applies a price and/or anchor change.
	UpdateSubscription(ctx context.Context, accountID, subscriptionID string, update SubscriptionUpdate) (Subscription, error)

	// RetrieveInvoice fetches a single invoice.
	RetrieveInvoice(ctx context.Context, accountID, invoiceID string) (Invoice, error)

	// RefundCharge refunds a charge in full. A charge that was already
	// refunded is reported as success with RefundAlreadyRefunded, never
	// as an error.
	RefundCharge(ctx context.Context, accountID, chargeID string) (Refund, error)
}
