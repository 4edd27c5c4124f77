package ledger

import "github.com/jcikl/ledgersync/core/bus"

const (
	KindTransactionCreated bus.Kind = "transaction:created"
	KindTransactionUpdated bus.Kind = "transaction:updated"
	KindTransactionDeleted bus.Kind = "transaction:deleted"
	KindProjectCreated     bus.Kind = "project:created"
	KindProjectUpdated     bus.Kind = "project:updated"
	KindProjectDeleted     bus.Kind = "project:deleted"
	KindAccountUpdated     bus.Kind = "account:updated"
	KindCategoryUpdated    bus.Kind = "category:updated"
	KindBankAccountUpdated bus.Kind = "bankAccount:updated"
)

// Kinds lists every ledger event kind.
func Kinds() []bus.Kind {
	return []bus.Kind{
		KindTransactionCreated,
		KindTransactionUpdated,
		KindTransactionDeleted,
		KindProjectCreated,
		KindProjectUpdated,
		KindProjectDeleted,
		KindAccountUpdated,
		KindCategoryUpdated,
		KindBankAccountUpdated,
	}
}

// Event is the closed set of ledger mutations. Only types of this package
// implement it.
type Event interface {
	bus.Event
	ledgerEvent()
}

// NameRef is the prior snapshot of an entity whose only derived-state
// relevant field is its display name.
type NameRef struct {
	Name string `json:"name"`
}

type (
	TransactionCreated struct {
		Transaction Transaction `json:"transaction"`
	}

	// TransactionUpdated carries the new transaction and its references
	// before the update.
	TransactionUpdated struct {
		Transaction Transaction     `json:"transaction"`
		Prior       TransactionRefs `json:"prior"`
	}

	TransactionDeleted struct {
		ID string `json:"id"`
	}

	ProjectCreated struct {
		Project Project `json:"project"`
	}

	ProjectUpdated struct {
		Project Project `json:"project"`
		Prior   NameRef `json:"prior"`
	}

	ProjectDeleted struct {
		ID string `json:"id"`
	}

	AccountUpdated struct {
		Account Account `json:"account"`
		Prior   NameRef `json:"prior"`
	}

	CategoryUpdated struct {
		Category Category `json:"category"`
		Prior    NameRef  `json:"prior"`
	}

	BankAccountUpdated struct {
		BankAccount BankAccount `json:"bankAccount"`
		Prior       NameRef     `json:"prior"`
	}
)

func (TransactionCreated) EventKind() bus.Kind { return KindTransactionCreated }
func (TransactionUpdated) EventKind() bus.Kind { return KindTransactionUpdated }
func (TransactionDeleted) EventKind() bus.Kind { return KindTransactionDeleted }
func (ProjectCreated) EventKind() bus.Kind     { return KindProjectCreated }
func (ProjectUpdated) EventKind() bus.Kind     { return KindProjectUpdated }
func (ProjectDeleted) EventKind() bus.Kind     { return KindProjectDeleted }
func (AccountUpdated) EventKind() bus.Kind     { return KindAccountUpdated }
func (CategoryUpdated) EventKind() bus.Kind    { return KindCategoryUpdated }
func (BankAccountUpdated) EventKind() bus.Kind { return KindBankAccountUpdated }

func (TransactionCreated) ledgerEvent() {}
func (TransactionUpdated) ledgerEvent() {}
func (TransactionDeleted) ledgerEvent() {}
func (ProjectCreated) ledgerEvent()     {}
func (ProjectUpdated) ledgerEvent()     {}
func (ProjectDeleted) ledgerEvent()     {}
func (AccountUpdated) ledgerEvent()     {}
func (CategoryUpdated) ledgerEvent()    {}
func (BankAccountUpdated) ledgerEvent() {}

// NameChanged reports whether an update renamed the entity.
func (e ProjectUpdated) NameChanged() bool     { return e.Prior.Name != e.Project.Name }
func (e AccountUpdated) NameChanged() bool     { return e.Prior.Name != e.Account.Name }
func (e CategoryUpdated) NameChanged() bool    { return e.Prior.Name != e.Category.Name }
func (e BankAccountUpdated) NameChanged() bool { return e.Prior.Name != e.BankAccount.Name }
