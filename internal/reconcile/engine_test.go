package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fieldside/clubbill/internal/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineDryRunNeverMutates(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, "u13-u16", true)

	actions := []Action{
		{CustomerID: "cus_1", Kind: ActionCreate, ToPriceID: "price_A", Anchor: billing.AnchorNow()},
		{CustomerID: "cus_2", Kind: ActionAlign, SubscriptionID: "sub_2", ToPriceID: "price_A", Anchor: billing.AnchorNow()},
		{CustomerID: "cus_3", Kind: ActionSwitchAndAlign, SubscriptionID: "sub_3", FromPriceID: "price_B", ToPriceID: "price_A", Anchor: billing.AnchorNow()},
		{CustomerID: "cus_4", Kind: ActionNone},
	}

	stats, outcomes := engine.Run(context.Background(), "acct_1", actions)

	assert.Empty(t, store.createCalls, "dry run must not create subscriptions")
	assert.Empty(t, store.updateCalls, "dry run must not update subscriptions")
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Errors)
	assert.Len(t, outcomes, len(actions))
}

func TestEngineLiveCreate(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, "u13-u16", false)

	stats, outcomes := engine.Run(context.Background(), "acct_1", []Action{
		{CustomerID: "cus_1", Kind: ActionCreate, ToPriceID: "price_A", Anchor: billing.AnchorNow()},
	})

	require.Len(t, store.createCalls, 1)
	call := store.createCalls[0]
	assert.Equal(t, "acct_1", call.accountID)
	assert.Equal(t, "cus_1", call.customerID)
	assert.Equal(t, "price_A", call.priceID)
	assert.True(t, call.anchor.Now, "new subscriptions settle immediately")

	assert.Equal(t, 1, stats.Created)
	require.Len(t, outcomes, 1)
	assert.NotEmpty(t, outcomes[0].SubscriptionID)
	assert.NotEmpty(t, outcomes[0].InvoiceID)
}

func TestEngineLiveAlignAndSwitch(t *testing.T) {
	anchor := billing.AnchorAt(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	store := &fakeStore{subs: []billing.Subscription{
		{ID: "sub_1", CustomerID: "cus_1", Status: billing.StatusActive, PriceID: "price_A"},
		{ID: "sub_2", CustomerID: "cus_2", Status: billing.StatusActive, PriceID: "price_B"},
	}}
	engine := NewEngine(store, "u13-u16", false)

	stats, _ := engine.Run(context.Background(), "acct_1", []Action{
		{CustomerID: "cus_1", Kind: ActionAlign, SubscriptionID: "sub_1", ToPriceID: "price_A", Anchor: anchor},
		{CustomerID: "cus_2", Kind: ActionSwitchAndAlign, SubscriptionID: "sub_2", FromPriceID: "price_B", ToPriceID: "price_A", Anchor: anchor},
	})

	require.Len(t, store.updateCalls, 2)

	align := store.updateCalls[0]
	assert.Equal(t, "sub_1", align.subscriptionID)
	assert.Empty(t, align.update.PriceID, "align must not touch the price item")
	assert.Equal(t, billing.ProrationCreate, align.update.Proration)
	assert.Equal(t, anchor.At, align.update.Anchor.At)

	switched := store.updateCalls[1]
	assert.Equal(t, "price_A", switched.update.PriceID)
	assert.Equal(t, billing.ProrationCreate, switched.update.Proration)

	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 0, stats.Errors)
}

func TestEnginePartialFailureIsolation(t *testing.T) {
	store := &fakeStore{
		subs: []billing.Subscription{
			{ID: "sub_1", CustomerID: "cus_1", Status: billing.StatusActive, PriceID: "price_A"},
			{ID: "sub_2", CustomerID: "cus_2", Status: billing.StatusActive, PriceID: "price_A"},
			{ID: "sub_3", CustomerID: "cus_3", Status: billing.StatusActive, PriceID: "price_A"},
		},
		updateErr: func(subID string) error {
			if subID == "sub_2" {
				return fmt.Errorf("rate limited")
			}
			return nil
		},
	}
	engine := NewEngine(store, "u13-u16", false)

	anchor := billing.AnchorNow()
	stats, outcomes := engine.Run(context.Background(), "acct_1", []Action{
		{CustomerID: "cus_1", Kind: ActionAlign, SubscriptionID: "sub_1", ToPriceID: "price_A", Anchor: anchor},
		{CustomerID: "cus_2", Kind: ActionAlign, SubscriptionID: "sub_2", ToPriceID: "price_A", Anchor: anchor},
		{CustomerID: "cus_3", Kind: ActionAlign, SubscriptionID: "sub_3", ToPriceID: "price_A", Anchor: anchor},
	})

	require.Len(t, store.updateCalls, 3, "actions after a failure must still be attempted")
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 2, stats.Updated)
	require.Len(t, outcomes, 3)
	assert.Empty(t, outcomes[0].Err)
	assert.Contains(t, outcomes[1].Err, "rate limited")
	assert.Empty(t, outcomes[2].Err)
}

func TestEngineAlreadyAlignedSkipsCall(t *testing.T) {
	target := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{subs: []billing.Subscription{
		{ID: "sub_1", CustomerID: "cus_1", Status: billing.StatusActive, PriceID: "price_A", CurrentPeriodEnd: target.Add(10 * time.Hour)},
	}}
	engine := NewEngine(store, "u13-u16", false)

	stats, _ := engine.Run(context.Background(), "acct_1", []Action{
		{
			CustomerID:       "cus_1",
			Kind:             ActionAlign,
			SubscriptionID:   "sub_1",
			ToPriceID:        "price_A",
			CurrentPeriodEnd: target.Add(10 * time.Hour),
			Anchor:           billing.AnchorAt(target),
		},
	})

	assert.Empty(t, store.updateCalls, "already-aligned subscription needs no remote call")
	assert.Equal(t, 1, stats.AlreadyAligned)
	assert.Equal(t, 0, stats.Updated)
}

func TestEngineChargeNowAlwaysFires(t *testing.T) {
	// An immediate anchor is never "already aligned".
	store := &fakeStore{subs: []billing.Subscription{
		{ID: "sub_1", CustomerID: "cus_1", Status: billing.StatusActive, PriceID: "price_A"},
	}}
	engine := NewEngine(store, "u13-u16", false)

	stats, _ := engine.Run(context.Background(), "acct_1", []Action{
		{CustomerID: "cus_1", Kind: ActionAlign, SubscriptionID: "sub_1", ToPriceID: "price_A", Anchor: billing.AnchorNow()},
	})

	assert.Len(t, store.updateCalls, 1)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 0, stats.AlreadyAligned)
}

func TestEngineDryRunDescription(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, "u13-u16", true)

	_, outcomes := engine.Run(context.Background(), "acct_1", []Action{
		{CustomerID: "cus_1", Kind: ActionSwitchAndAlign, SubscriptionID: "sub_1", FromPriceID: "price_B", ToPriceID: "price_A", Anchor: billing.AnchorNow()},
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, "Switch Plan → u13-u16, Align Date (Charge Now)", outcomes[0].Description)
}
