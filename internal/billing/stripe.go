package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeStore implements Store against the Stripe API. All calls are
// scoped to a connected account via the Stripe-Account header, except
// account listing which runs on the platform key itself.
type StripeStore struct {
	api *client.API
}

// NewStripeStore creates a StripeStore authenticated with the platform
// secret key.
func NewStripeStore(apiKey string) *StripeStore {
	api := &client.API{}
	api.Init(strings.TrimSpace(apiKey), nil)
	return &StripeStore{api: api}
}

func (s *StripeStore) ListConnectedAccounts(ctx context.Context) ([]Account, error) {
	params := &stripe.AccountListParams{}
	params.Context = ctx

	var accounts []Account
	iter := s.api.Accounts.List(params)
	for iter.Next() {
		accounts = append(accounts, accountFromStripe(iter.Account()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list connected accounts: %w", err)
	}
	return accounts, nil
}

func (s *StripeStore) ListActivePrices(ctx context.Context, accountID string) ([]Price, error) {
	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
	}
	params.Context = ctx
	params.SetStripeAccount(accountID)
	params.AddExpand("data.product")

	var prices []Price
	iter := s.api.Prices.List(params)
	for iter.Next() {
		prices = append(prices, priceFromStripe(iter.Price()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list active prices for account %s: %w", accountID, err)
	}
	return prices, nil
}

func (s *StripeStore) ListCustomers(ctx context.Context, accountID string) ([]Customer, error) {
	params := &stripe.CustomerListParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	var customers []Customer
	iter := s.api.Customers.List(params)
	for iter.Next() {
		c := iter.Customer()
		customers = append(customers, Customer{
			ID:      c.ID,
			Email:   strings.TrimSpace(c.Email),
			Name:    strings.TrimSpace(c.Name),
			Created: time.Unix(c.Created, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list customers for account %s: %w", accountID, err)
	}
	return customers, nil
}

func (s *StripeStore) ListActiveSubscriptions(ctx context.Context, accountID, customerID string) ([]Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)
	if strings.TrimSpace(customerID) != "" {
		params.Customer = stripe.String(customerID)
	}

	var subs []Subscription
	iter := s.api.Subscriptions.List(params)
	for iter.Next() {
		sub := subscriptionFromStripe(iter.Subscription())
		if sub.IsLive() {
			subs = append(subs, sub)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions for account %s: %w", accountID, err)
	}
	return subs, nil
}

func (s *StripeStore) CreateSubscription(ctx context.Context, accountID, customerID, priceID string, anchor Anchor) (Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		ProrationBehavior: stripe.String(string(ProrationAlwaysInvoice)),
	}
	params.Context = ctx
	params.SetStripeAccount(accountID)
	if !anchor.Now {
		params.BillingCycleAnchor = stripe.Int64(anchor.At.Unix())
	}

	sub, err := s.api.Subscriptions.New(params)
	if err != nil {
		return Subscription{}, fmt.Errorf("create subscription for customer %s: %w", customerID, err)
	}
	return subscriptionFromStripe(sub), nil
}

func (s *StripeStore) UpdateSubscription(ctx context.Context, accountID, subscriptionID string, update SubscriptionUpdate) (Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	if update.Proration != "" {
		params.ProrationBehavior = stripe.String(string(update.Proration))
	}

	// A fixed future anchor is expressed as a trial end at the Stripe
	// API; billing_cycle_anchor only accepts "now" on update.
	if update.Anchor.Now {
		params.BillingCycleAnchorNow = stripe.Bool(true)
	} else if !update.Anchor.At.IsZero() {
		params.TrialEnd = stripe.Int64(update.Anchor.At.Unix())
	}

	if strings.TrimSpace(update.PriceID) != "" {
		itemID, err := s.firstItemID(ctx, accountID, subscriptionID)
		if err != nil {
			return Subscription{}, err
		}
		params.Items = []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(update.PriceID),
			},
		}
	}

	sub, err := s.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return Subscription{}, fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}
	return subscriptionFromStripe(sub), nil
}

func (s *StripeStore) firstItemID(ctx context.Context, accountID, subscriptionID string) (string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	sub, err := s.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", fmt.Errorf("subscription %s has no price items", subscriptionID)
	}
	return sub.Items.Data[0].ID, nil
}

func (s *StripeStore) RetrieveInvoice(ctx context.Context, accountID, invoiceID string) (Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	inv, err := s.api.Invoices.Get(invoiceID, params)
	if err != nil {
		return Invoice{}, fmt.Errorf("retrieve invoice %s: %w", invoiceID, err)
	}

	out := Invoice{
		ID:         inv.ID,
		Created:    time.Unix(inv.Created, 0).UTC(),
		Paid:       inv.Paid,
		AmountPaid: inv.AmountPaid,
	}
	if inv.Charge != nil {
		out.ChargeID = inv.Charge.ID
	}
	return out, nil
}

func (s *StripeStore) RefundCharge(ctx context.Context, accountID, chargeID string) (Refund, error) {
	params := &stripe.RefundParams{
		Charge: stripe.String(chargeID),
	}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	ref, err := s.api.Refunds.New(params)
	if err != nil {
		if isAlreadyRefunded(err) {
			log.Debug().Str("charge_id", chargeID).Msg("Charge already refunded, treating as success")
			return Refund{ChargeID: chargeID, Status: RefundAlreadyRefunded}, nil
		}
		return Refund{}, fmt.Errorf("refund charge %s: %w", chargeID, err)
	}
	return Refund{
		ID:       ref.ID,
		ChargeID: chargeID,
		Amount:   ref.Amount,
		Status:   RefundIssued,
	}, nil
}

func isAlreadyRefunded(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded
	}
	return false
}

func accountFromStripe(a *stripe.Account) Account {
	out := Account{ID: a.ID, Email: strings.TrimSpace(a.Email)}
	if a.Settings != nil && a.Settings.Dashboard != nil {
		out.Name = strings.TrimSpace(a.Settings.Dashboard.DisplayName)
	}
	if out.Name == "" && a.BusinessProfile != nil {
		out.Name = strings.TrimSpace(a.BusinessProfile.Name)
	}
	return out
}

func priceFromStripe(p *stripe.Price) Price {
	out := Price{
		ID:         p.ID,
		Nickname:   strings.TrimSpace(p.Nickname),
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
	}
	if p.Product != nil {
		out.ProductName = strings.TrimSpace(p.Product.Name)
	}
	return out
}

func subscriptionFromStripe(s *stripe.Subscription) Subscription {
	out := Subscription{
		ID:               s.ID,
		Status:           SubscriptionStatus(s.Status),
		CurrentPeriodEnd: time.Unix(s.CurrentPeriodEnd, 0).UTC(),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		out.PriceID = s.Items.Data[0].Price.ID
	}
	if s.LatestInvoice != nil {
		out.LatestInvoiceID = s.LatestInvoice.ID
	}
	return out
}
