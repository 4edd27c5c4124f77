package syncer

import (
	"sort"

	"github.com/jcikl/ledgersync/core/bus"
	"github.com/jcikl/ledgersync/core/ledger"
)

var transactionKeys = []string{
	ledger.KeyTransactions,
	ledger.KeyTransactionStats,
	ledger.KeyProjects,
	ledger.KeyProjectStats,
	ledger.KeyBankAccounts,
	ledger.KeyBankAccountStats,
	ledger.KeyCategories,
	ledger.KeyCategoryStats,
}

var projectKeys = []string{
	ledger.KeyProjects,
	ledger.KeyProjectStats,
	ledger.KeyTransactions,
}

var invalidations = map[bus.Kind][]string{
	ledger.KindTransactionCreated: transactionKeys,
	ledger.KindTransactionUpdated: transactionKeys,
	ledger.KindTransactionDeleted: transactionKeys,
	ledger.KindProjectCreated:     projectKeys,
	ledger.KindProjectUpdated:     projectKeys,
	ledger.KindProjectDeleted:     append(append([]string(nil), projectKeys...), ledger.KeyTransactionStats),
	ledger.KindAccountUpdated: {
		ledger.KeyAccounts,
		ledger.KeyLedgerEntries,
	},
	ledger.KindCategoryUpdated: {
		ledger.KeyCategories,
		ledger.KeyCategoryStats,
		ledger.KeyTransactions,
	},
	ledger.KindBankAccountUpdated: {
		ledger.KeyBankAccounts,
		ledger.KeyBankAccountStats,
		ledger.KeyTransactions,
	},
}

// Invalidations returns the fixed cache keys dropped after an event of kind
// was processed. Every ledger kind maps to a non-empty set.
func Invalidations(kind bus.Kind) []string {
	return append([]string(nil), invalidations[kind]...)
}

// keySet collects the cache keys a task invalidates.
type keySet map[string]struct{}

func newKeySet(kind bus.Kind) keySet {
	s := keySet{}
	for _, k := range invalidations[kind] {
		s[k] = struct{}{}
	}
	return s
}

func (s keySet) add(keys ...string) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

func (s keySet) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
