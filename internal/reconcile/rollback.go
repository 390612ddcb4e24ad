package reconcile

import (
	"context"
	"time"

	"github.com/fieldside/clubbill/internal/billing"
	"github.com/rs/zerolog/log"
)

// DefaultRollbackWindow is how far back the companion looks for invoices
// created by a migration run.
const DefaultRollbackWindow = 4 * time.Hour

// RollbackStats summarizes one reversal pass.
type RollbackStats struct {
	Refunded    int
	Rescheduled int
	Skipped     int
	Errors      int
}

// Rollback is the compensating companion to the execution engine: it
// refunds invoices created by a recent live run and restores each
// affected subscription's next charge to a fixed target date.
type Rollback struct {
	store  billing.Store
	dryRun bool
	nowFn  func() time.Time
}

// NewRollback creates a Rollback.
func NewRollback(store billing.Store, dryRun bool) *Rollback {
	return &Rollback{store: store, dryRun: dryRun, nowFn: time.Now}
}

// Run scans every live subscription of the account. A subscription
// qualifies when its latest invoice was created inside the lookback
// window, is paid with a non-zero amount, and has an associated charge.
// Each qualifying subscription gets its charge refunded (idempotent:
// already-refunded counts as success) and its next charge reset to
// restoreAnchor with no proration. Failures are isolated per
// subscription.
func (r *Rollback) Run(ctx context.Context, accountID string, window time.Duration, restoreAnchor time.Time) (RollbackStats, error) {
	stats := RollbackStats{}
	cutoff := r.nowFn().UTC().Add(-window)

	subs, err := r.store.ListActiveSubscriptions(ctx, accountID, "")
	if err != nil {
		return stats, err
	}

	for _, sub := range subs {
		if sub.LatestInvoiceID == "" {
			stats.Skipped++
			continue
		}

		invoice, err := r.store.RetrieveInvoice(ctx, accountID, sub.LatestInvoiceID)
		if err != nil {
			stats.Errors++
			log.Error().
				Err(err).
				Str("subscription_id", sub.ID).
				Str("invoice_id", sub.LatestInvoiceID).
				Msg("Failed to retrieve invoice, continuing")
			continue
		}

		if invoice.Created.Before(cutoff) || !invoice.Paid || invoice.AmountPaid == 0 || invoice.ChargeID == "" {
			stats.Skipped++
			continue
		}

		if r.dryRun {
			log.Info().
				Str("subscription_id", sub.ID).
				Str("customer_id", sub.CustomerID).
				Str("invoice_id", invoice.ID).
				Int64("amount", invoice.AmountPaid).
				Msgf("Would: Refund invoice, Reset next charge → %s", restoreAnchor.UTC().Format("2006-01-02"))
			stats.Refunded++
			stats.Rescheduled++
			continue
		}

		refund, err := r.store.RefundCharge(ctx, accountID, invoice.ChargeID)
		if err != nil {
			stats.Errors++
			log.Error().
				Err(err).
				Str("subscription_id", sub.ID).
				Str("charge_id", invoice.ChargeID).
				Msg("Refund failed, continuing")
			continue
		}
		stats.Refunded++
		log.Info().
			Str("subscription_id", sub.ID).
			Str("customer_id", sub.CustomerID).
			Str("charge_id", invoice.ChargeID).
			Int64("amount", invoice.AmountPaid).
			Bool("already_refunded", refund.Status == billing.RefundAlreadyRefunded).
			Msg("Invoice refunded")

		_, err = r.store.UpdateSubscription(ctx, accountID, sub.ID, billing.SubscriptionUpdate{
			Anchor:    billing.AnchorAt(restoreAnchor),
			Proration: billing.ProrationNone,
		})
		if err != nil {
			stats.Errors++
			log.Error().
				Err(err).
				Str("subscription_id", sub.ID).
				Msg("Failed to reset billing date, continuing")
			continue
		}
		stats.Rescheduled++
		log.Info().
			Str("subscription_id", sub.ID).
			Str("next_charge", restoreAnchor.UTC().Format("2006-01-02")).
			Msg("Next charge restored")
	}

	return stats, nil
}
