package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jcikl/ledgersync/core/ledger"
	"github.com/jcikl/ledgersync/ports/store"
)

func (e *Engine) projectUpdated(ctx context.Context, keys keySet, ev ledger.ProjectUpdated) error {
	var errs []error
	if ev.NameChanged() {
		errs = append(errs, e.renameProject(ctx, keys, ev))
	}
	errs = append(errs, e.recomputeProjects(ctx, keys, nil))
	return errors.Join(errs...)
}

// renameProject writes the new name to every transaction attributed to the
// project under its prior name, whichever rule matched it. Transactions
// matched by name would otherwise lose their attribution with the rename.
func (e *Engine) renameProject(ctx context.Context, keys keySet, ev ledger.ProjectUpdated) error {
	projects, err := store.All[ledger.Project](ctx, e.store, ledger.CollProjects)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	prior := slices.DeleteFunc(projects, func(p ledger.Project) bool { return p.ID == ev.Project.ID })
	before := ev.Project
	before.Name = ev.Prior.Name
	prior = append(prior, before)

	txs, err := store.All[ledger.Transaction](ctx, e.store, ledger.CollTransactions)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}

	r := ledger.NewResolver(prior)
	var ops []store.Op
	for _, tx := range txs {
		if id, _ := r.Resolve(tx); id != ev.Project.ID || tx.ProjectName == ev.Project.Name {
			continue
		}
		ops = append(ops, store.Op{
			Collection: ledger.CollTransactions,
			ID:         tx.ID,
			Patch:      store.Patch{ledger.FieldProjectName: ev.Project.Name},
		})
		keys.add(ledger.EntityKey(ledger.CollTransactions, tx.ID))
	}
	if err := e.batch(ctx, ops); err != nil {
		return fmt.Errorf("rename project %s in transactions: %w", ev.Project.ID, err)
	}
	e.metrics.Propagated(ledger.FieldProjectName, len(ops))
	return nil
}

// projectDeleted clears the reference on transactions instead of deleting them.
func (e *Engine) projectDeleted(ctx context.Context, keys keySet, id string) error {
	keys.add(ledger.EntityKey(ledger.CollProjects, id))
	return errors.Join(
		e.propagate(ctx, keys, ledger.FieldProjectID, ledger.FieldProjectID, id,
			store.Patch{ledger.FieldProjectID: "", ledger.FieldProjectName: ""}),
		e.recomputeProjects(ctx, keys, nil),
	)
}

func (e *Engine) accountUpdated(ctx context.Context, keys keySet, ev ledger.AccountUpdated) error {
	keys.add(ledger.EntityKey(ledger.CollAccounts, ev.Account.ID))
	if !ev.NameChanged() {
		return nil
	}

	entries, err := store.All[ledger.LedgerEntry](ctx, e.store, ledger.CollLedgerEntries)
	if err != nil {
		return fmt.Errorf("list ledger entries: %w", err)
	}

	var ops []store.Op
	for _, entry := range entries {
		if !entry.References(ev.Account.ID) {
			continue
		}
		ops = append(ops, store.Op{
			Collection: ledger.CollLedgerEntries,
			ID:         entry.ID,
			Patch:      store.Patch{ledger.FieldLines: entry.RenameAccount(ev.Account.ID, ev.Account.Name)},
		})
		keys.add(ledger.EntityKey(ledger.CollLedgerEntries, entry.ID))
	}
	if err := e.batch(ctx, ops); err != nil {
		return fmt.Errorf("rename account %s in ledger entries: %w", ev.Account.ID, err)
	}
	e.metrics.Propagated("accountName", len(ops))
	return nil
}

func (e *Engine) categoryUpdated(ctx context.Context, keys keySet, ev ledger.CategoryUpdated) error {
	var errs []error
	if ev.NameChanged() {
		errs = append(errs, e.propagate(ctx, keys, ledger.FieldCategoryName, ledger.FieldCategory, ev.Category.ID,
			store.Patch{ledger.FieldCategoryName: ev.Category.Name}))
	}
	errs = append(errs, e.recomputeStats(ctx, keys, ev.Category.ID))
	return errors.Join(errs...)
}

func (e *Engine) bankAccountUpdated(ctx context.Context, keys keySet, ev ledger.BankAccountUpdated) error {
	var errs []error
	if ev.NameChanged() {
		errs = append(errs, e.propagate(ctx, keys, ledger.FieldBankAccountName, ledger.FieldBankAccountID, ev.BankAccount.ID,
			store.Patch{ledger.FieldBankAccountName: ev.BankAccount.Name}))
	}
	errs = append(errs, e.recomputeBalance(ctx, keys, ev.BankAccount.ID))
	return errors.Join(errs...)
}

// propagate applies patch to every transaction whose field equals id.
func (e *Engine) propagate(ctx context.Context, keys keySet, label, field, id string, patch store.Patch) error {
	docs, err := e.store.Find(ctx, ledger.CollTransactions, field, id)
	if err != nil {
		return fmt.Errorf("find transactions by %s %s: %w", field, id, err)
	}

	ops := make([]store.Op, 0, len(docs))
	for _, doc := range docs {
		ops = append(ops, store.Op{Collection: ledger.CollTransactions, ID: doc.ID, Patch: patch})
		keys.add(ledger.EntityKey(ledger.CollTransactions, doc.ID))
	}
	if err := e.batch(ctx, ops); err != nil {
		return fmt.Errorf("update %s of transactions by %s %s: %w", label, field, id, err)
	}
	e.metrics.Propagated(label, len(ops))
	return nil
}

// batch writes ops in chunks of at most batchSize. Each chunk is atomic as
// far as the store allows; chunks are not atomic together.
func (e *Engine) batch(ctx context.Context, ops []store.Op) error {
	for start := 0; start < len(ops); start += e.batchSize {
		end := min(start+e.batchSize, len(ops))
		if err := e.store.Batch(ctx, ops[start:end]); err != nil {
			return err
		}
	}
	return nil
}
