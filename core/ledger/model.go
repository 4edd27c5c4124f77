package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collections of the document store.
const (
	CollTransactions  = "transactions"
	CollBankAccounts  = "bankAccounts"
	CollProjects      = "projects"
	CollCategories    = "categories"
	CollAccounts      = "accounts"
	CollLedgerEntries = "ledgerEntries"
)

// Transaction fields the sync engine queries or patches.
const (
	FieldBankAccountID   = "bankAccountId"
	FieldBankAccountName = "bankAccountName"
	FieldProjectID       = "projectId"
	FieldProjectName     = "projectName"
	FieldCategory        = "category"
	FieldCategoryName    = "categoryName"
	FieldBalance         = "balance"
	FieldSpent           = "spent"
	FieldStats           = "stats"
	FieldLines           = "lines"
)

type Transaction struct {
	ID              string          `json:"id"`
	Description     string          `json:"description,omitempty"`
	Date            time.Time       `json:"date"`
	BankAccountID   string          `json:"bankAccountId,omitempty"`
	BankAccountName string          `json:"bankAccountName,omitempty"`
	ProjectID       string          `json:"projectId"`
	ProjectName     string          `json:"projectName"`
	Category        string          `json:"category,omitempty"`
	CategoryName    string          `json:"categoryName,omitempty"`
	Income          decimal.Decimal `json:"income"`
	Expense         decimal.Decimal `json:"expense"`
}

// Net is income minus expense.
func (t Transaction) Net() decimal.Decimal { return t.Income.Sub(t.Expense) }

// Refs returns the fields of t that derived aggregates depend on.
func (t Transaction) Refs() TransactionRefs {
	return TransactionRefs{
		BankAccountID: t.BankAccountID,
		ProjectID:     t.ProjectID,
		ProjectName:   t.ProjectName,
		Category:      t.Category,
	}
}

// TransactionRefs is the snapshot of a transaction's foreign references.
type TransactionRefs struct {
	BankAccountID string `json:"bankAccountId,omitempty"`
	ProjectID     string `json:"projectId,omitempty"`
	ProjectName   string `json:"projectName,omitempty"`
	Category      string `json:"category,omitempty"`
}

type BankAccount struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

type Project struct {
	ID string `json:"id"`
	// Code is the short project code, e.g. "ENG-042". Legacy transactions
	// reference projects by a longer id ending in the code.
	Code  string          `json:"code,omitempty"`
	Name  string          `json:"name"`
	Spent decimal.Decimal `json:"spent"`
}

type CategoryStats struct {
	Count        int             `json:"count"`
	TotalIncome  decimal.Decimal `json:"totalIncome"`
	TotalExpense decimal.Decimal `json:"totalExpense"`
}

// Equal reports whether s and o hold the same numbers.
func (s CategoryStats) Equal(o CategoryStats) bool {
	return s.Count == o.Count && s.TotalIncome.Equal(o.TotalIncome) && s.TotalExpense.Equal(o.TotalExpense)
}

type Category struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Stats CategoryStats `json:"stats"`
}

// Account is an entry of the chart of accounts.
type Account struct {
	ID   string `json:"id"`
	Code string `json:"code,omitempty"`
	Name string `json:"name"`
}

type Line struct {
	AccountID   string          `json:"accountId"`
	AccountName string          `json:"accountName"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// LedgerEntry is a journal entry; its lines denormalize the account name.
type LedgerEntry struct {
	ID    string    `json:"id"`
	Date  time.Time `json:"date"`
	Memo  string    `json:"memo,omitempty"`
	Lines []Line    `json:"lines"`
}

// References reports whether any line of e books on accountID.
func (e LedgerEntry) References(accountID string) bool {
	for _, l := range e.Lines {
		if l.AccountID == accountID {
			return true
		}
	}
	return false
}

// RenameAccount returns a copy of the lines with accountName replaced on
// every line booking on accountID.
func (e LedgerEntry) RenameAccount(accountID, name string) []Line {
	lines := make([]Line, len(e.Lines))
	for i, l := range e.Lines {
		if l.AccountID == accountID {
			l.AccountName = name
		}
		lines[i] = l
	}
	return lines
}
