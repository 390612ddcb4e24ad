package billing

import (
	"errors"
	"fmt"
	"testing"

	stripe "github.com/stripe/stripe-go/v81"
)

func TestIsAlreadyRefunded(t *testing.T) {
	alreadyRefunded := &stripe.Error{Code: stripe.ErrorCodeChargeAlreadyRefunded}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"already refunded", alreadyRefunded, true},
		{"wrapped already refunded", fmt.Errorf("refund charge: %w", alreadyRefunded), true},
		{"other stripe error", &stripe.Error{Code: stripe.ErrorCodeCardDeclined}, false},
		{"plain error", errors.New("network down"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAlreadyRefunded(tt.err); got != tt.want {
				t.Errorf("isAlreadyRefunded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccountFromStripe(t *testing.T) {
	a := &stripe.Account{
		ID:    "acct_1",
		Email: " billing@riverside.example ",
		Settings: &stripe.AccountSettings{
			Dashboard: &stripe.AccountSettingsDashboard{DisplayName: "Riverside FC"},
		},
	}
	got := accountFromStripe(a)
	if got.Name != "Riverside FC" || got.Email != "billing@riverside.example" {
		t.Errorf("accountFromStripe() = %+v", got)
	}

	// Falls back to the business profile when the dashboard name is unset.
	b := &stripe.Account{
		ID:              "acct_2",
		BusinessProfile: &stripe.AccountBusinessProfile{Name: "Northgate Hockey"},
	}
	if got := accountFromStripe(b); got.Name != "Northgate Hockey" {
		t.Errorf("accountFromStripe() fallback name = %q", got.Name)
	}

	// Nil sub-structs must not panic.
	if got := accountFromStripe(&stripe.Account{ID: "acct_3"}); got.Name != "" {
		t.Errorf("accountFromStripe() bare account name = %q", got.Name)
	}
}

func TestPriceFromStripe(t *testing.T) {
	p := &stripe.Price{
		ID:         "price_A",
		Nickname:   "u13-u16",
		UnitAmount: 2500,
		Currency:   stripe.CurrencyGBP,
		Product:    &stripe.Product{Name: "Youth Membership"},
	}
	got := priceFromStripe(p)
	if got.ProductName != "Youth Membership" || got.Currency != "gbp" || got.UnitAmount != 2500 {
		t.Errorf("priceFromStripe() = %+v", got)
	}

	if got := priceFromStripe(&stripe.Price{ID: "price_B"}); got.ProductName != "" {
		t.Errorf("priceFromStripe() without product = %+v", got)
	}
}

func TestSubscriptionFromStripe(t *testing.T) {
	s := &stripe.Subscription{
		ID:               "sub_1",
		Status:           stripe.SubscriptionStatusActive,
		CurrentPeriodEnd: 1760000000,
		Customer:         &stripe.Customer{ID: "cus_1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{ID: "si_1", Price: &stripe.Price{ID: "price_A"}},
			},
		},
		LatestInvoice: &stripe.Invoice{ID: "in_1"},
	}

	got := subscriptionFromStripe(s)
	if got.CustomerID != "cus_1" || got.PriceID != "price_A" || got.LatestInvoiceID != "in_1" {
		t.Errorf("subscriptionFromStripe() = %+v", got)
	}
	if !got.IsLive() {
		t.Error("active subscription must be live")
	}
	if got.CurrentPeriodEnd.Unix() != 1760000000 {
		t.Errorf("CurrentPeriodEnd = %v", got.CurrentPeriodEnd)
	}

	// Items and customer may be absent on sparse API responses.
	sparse := subscriptionFromStripe(&stripe.Subscription{ID: "sub_2", Status: stripe.SubscriptionStatusCanceled})
	if sparse.PriceID != "" || sparse.CustomerID != "" || sparse.IsLive() {
		t.Errorf("subscriptionFromStripe() sparse = %+v", sparse)
	}
}
