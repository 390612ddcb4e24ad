package reconcile

import (
	"context"
	"fmt"

	"github.com/fieldside/clubbill/internal/billing"
)

type createCall struct {
	accountID  string
	customerID string
	priceID    string
	anchor     billing.Anchor
}

type updateCall struct {
	accountID      string
	subscriptionID string
	update         billing.SubscriptionUpdate
}

// fakeStore is an in-memory billing.Store for engine and rollback
// tests. Error hooks simulate per-entity remote failures.
type fakeStore struct {
	accounts  []billing.Account
	prices    []billing.Price
	customers []billing.Customer
	subs      []billing.Subscription
	invoices  map[string]billing.Invoice

	createCalls []createCall
	updateCalls []updateCall
	refunds     []string

	createErr       func(customerID string) error
	updateErr       func(subscriptionID string) error
	refundErr       func(chargeID string) error
	alreadyRefunded map[string]bool
}

func (f *fakeStore) ListConnectedAccounts(ctx context.Context) ([]billing.Account, error) {
	return f.accounts, nil
}

func (f *fakeStore) ListActivePrices(ctx context.Context, accountID string) ([]billing.Price, error) {
	return f.prices, nil
}

func (f *fakeStore) ListCustomers(ctx context.Context, accountID string) ([]billing.Customer, error) {
	out := make([]billing.Customer, len(f.customers))
	copy(out, f.customers)
	for i := range out {
		out[i].Subscriptions = nil
	}
	return out, nil
}

func (f *fakeStore) ListActiveSubscriptions(ctx context.Context, accountID, customerID string) ([]billing.Subscription, error) {
	var out []billing.Subscription
	for _, s := range f.subs {
		if !s.IsLive() {
			continue
		}
		if customerID != "" && s.CustomerID != customerID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) CreateSubscription(ctx context.Context, accountID, customerID, priceID string, anchor billing.Anchor) (billing.Subscription, error) {
	f.createCalls = append(f.createCalls, createCall{accountID, customerID, priceID, anchor})
	if f.createErr != nil {
		if err := f.createErr(customerID); err != nil {
			return billing.Subscription{}, err
		}
	}
	sub := billing.Subscription{
		ID:              fmt.Sprintf("sub_new_%d", len(f.createCalls)),
		CustomerID:      customerID,
		Status:          billing.StatusActive,
		PriceID:         priceID,
		LatestInvoiceID: fmt.Sprintf("in_new_%d", len(f.createCalls)),
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeStore) UpdateSubscription(ctx context.Context, accountID, subscriptionID string, update billing.SubscriptionUpdate) (billing.Subscription, error) {
	f.updateCalls = append(f.updateCalls, updateCall{accountID, subscriptionID, update})
	if f.updateErr != nil {
		if err := f.updateErr(subscriptionID); err != nil {
			return billing.Subscription{}, err
		}
	}
	for i, s := range f.subs {
		if s.ID != subscriptionID {
			continue
		}
		if update.PriceID != "" {
			f.subs[i].PriceID = update.PriceID
		}
		if !update.Anchor.Now {
			f.subs[i].CurrentPeriodEnd = update.Anchor.At
		}
		return f.subs[i], nil
	}
	return billing.Subscription{}, fmt.Errorf("no such subscription: %s", subscriptionID)
}

func (f *fakeStore) RetrieveInvoice(ctx context.Context, accountID, invoiceID string) (billing.Invoice, error) {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return billing.Invoice{}, fmt.Errorf("no such invoice: %s", invoiceID)
	}
	return inv, nil
}

func (f *fakeStore) RefundCharge(ctx context.Context, accountID, chargeID string) (billing.Refund, error) {
	if f.refundErr != nil {
		if err := f.refundErr(chargeID); err != nil {
			return billing.Refund{}, err
		}
	}
	if f.alreadyRefunded[chargeID] {
		return billing.Refund{ChargeID: chargeID, Status: billing.RefundAlreadyRefunded}, nil
	}
	f.refunds = append(f.refunds, chargeID)
	if f.alreadyRefunded == nil {
		f.alreadyRefunded = map[string]bool{}
	}
	f.alreadyRefunded[chargeID] = true
	return billing.Refund{
		ID:       "re_" + chargeID,
		ChargeID: chargeID,
		Status:   billing.RefundIssued,
	}, nil
}

var _ billing.Store = (*fakeStore)(nil)
