package ledger

// Cache keys read by the UI layer.
const (
	KeyTransactions     = "transactions"
	KeyTransactionStats = "transaction:stats"
	KeyProjects         = "projects"
	KeyProjectStats     = "project:stats"
	KeyBankAccounts     = "bankAccounts"
	KeyBankAccountStats = "bankAccount:stats"
	KeyCategories       = "categories"
	KeyCategoryStats    = "category:stats"
	KeyAccounts         = "accounts"
	KeyLedgerEntries    = "ledgerEntries"
)

// EntityKey is the cache key of a single document, e.g. "bankAccounts:BA1".
func EntityKey(collection, id string) string { return collection + ":" + id }
