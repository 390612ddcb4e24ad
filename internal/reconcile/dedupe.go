package reconcile

import (
	"sort"
	"strings"

	"github.com/fieldside/clubbill/internal/billing"
)

// DedupeResult partitions an account's customers into canonical entries
// and duplicates. Every input customer lands in exactly one of the two
// lists.
type DedupeResult struct {
	Unique     []billing.Customer
	Duplicates []billing.Customer
}

// Dedupe collapses customer records that share a normalized email into a
// single canonical record. The canonical pick is deterministic: a
// customer with a live subscription beats one without, then the most
// recently created wins. Customers without an email are never
// deduplicated.
func Dedupe(customers []billing.Customer) DedupeResult {
	sorted := make([]billing.Customer, len(customers))
	copy(sorted, customers)
	sort.SliceStable(sorted, func(i, j int) bool {
		iLive, jLive := sorted[i].HasLiveSubscription(), sorted[j].HasLiveSubscription()
		if iLive != jLive {
			return iLive
		}
		return sorted[i].Created.After(sorted[j].Created)
	})

	result := DedupeResult{}
	seen := make(map[string]bool, len(sorted))
	for _, c := range sorted {
		email := strings.ToLower(strings.TrimSpace(c.Email))
		if email == "" {
			result.Unique = append(result.Unique, c)
			continue
		}
		if seen[email] {
			result.Duplicates = append(result.Duplicates, c)
			continue
		}
		seen[email] = true
		result.Unique = append(result.Unique, c)
	}
	return result
}
