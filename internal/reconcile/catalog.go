// Package reconcile computes and applies per-customer billing state
// changes: it resolves the target plan from an account's catalog,
// collapses duplicate customers, plans one action per canonical
// customer, and drives the remote store there with per-action failure
// isolation. A reversal companion undoes a recent live run.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/fieldside/clubbill/internal/billing"
)

// PlanNotFoundError is returned when no catalog price matches the
// filter. It carries every candidate name so the operator can correct
// the filter.
type PlanNotFoundError struct {
	Filter     string
	Candidates []string
}

func (e *PlanNotFoundError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no plan matching %q: account has no active prices", e.Filter)
	}
	return fmt.Sprintf("no plan matching %q: candidates are %s", e.Filter, strings.Join(e.Candidates, ", "))
}

// AccountNotFoundError is returned when no connected account matches
// the filter.
type AccountNotFoundError struct {
	Filter     string
	Candidates []string
}

func (e *AccountNotFoundError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no connected account matching %q", e.Filter)
	}
	return fmt.Sprintf("no connected account matching %q: candidates are %s", e.Filter, strings.Join(e.Candidates, ", "))
}

// ResolvePlan picks the target price from an account's active catalog by
// case-insensitive substring match against price nickname or product
// name. When several prices match, the first in store order wins; the
// listing order is not strict, which is a known ambiguity of the match
// policy.
func ResolvePlan(prices []billing.Price, filter string) (billing.Price, error) {
	needle := strings.ToLower(strings.TrimSpace(filter))
	for _, p := range prices {
		if needle == "" {
			break
		}
		if strings.Contains(strings.ToLower(p.Nickname), needle) ||
			strings.Contains(strings.ToLower(p.ProductName), needle) {
			return p, nil
		}
	}

	candidates := make([]string, 0, len(prices))
	for _, p := range prices {
		candidates = append(candidates, p.Label())
	}
	return billing.Price{}, &PlanNotFoundError{Filter: filter, Candidates: candidates}
}

// ResolveAccount picks a connected account by case-insensitive substring
// match against display name, email, or id. First match wins.
func ResolveAccount(accounts []billing.Account, filter string) (billing.Account, error) {
	needle := strings.ToLower(strings.TrimSpace(filter))
	for _, a := range accounts {
		if needle == "" {
			break
		}
		if strings.Contains(strings.ToLower(a.Name), needle) ||
			strings.Contains(strings.ToLower(a.Email), needle) ||
			strings.Contains(strings.ToLower(a.ID), needle) {
			return a, nil
		}
	}

	candidates := make([]string, 0, len(accounts))
	for _, a := range accounts {
		label := a.Name
		if label == "" {
			label = a.Email
		}
		if label == "" {
			label = a.ID
		}
		candidates = append(candidates, label)
	}
	return billing.Account{}, &AccountNotFoundError{Filter: filter, Candidates: candidates}
}
