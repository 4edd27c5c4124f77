package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcikl/ledgersync/core/ledger"
	"github.com/jcikl/ledgersync/ports/store"
)

// recomputeRefs recomputes every aggregate any of refs points at. Passing
// both the new and the prior references of an updated transaction fixes the
// aggregates it left as well as the ones it joined.
func (e *Engine) recomputeRefs(ctx context.Context, keys keySet, refs ...ledger.TransactionRefs) error {
	var (
		banks, categories []string
		projectRefs       []ledger.TransactionRefs
	)
	for _, r := range refs {
		banks = appendUnique(banks, r.BankAccountID)
		categories = appendUnique(categories, r.Category)
		if r.ProjectID != "" || r.ProjectName != "" {
			projectRefs = append(projectRefs, r)
		}
	}

	var errs []error
	for _, id := range banks {
		errs = append(errs, e.recomputeBalance(ctx, keys, id))
	}
	if len(projectRefs) > 0 {
		errs = append(errs, e.recomputeProjects(ctx, keys, projectRefs))
	}
	for _, id := range categories {
		errs = append(errs, e.recomputeStats(ctx, keys, id))
	}
	return errors.Join(errs...)
}

func (e *Engine) recomputeAll(ctx context.Context, keys keySet) error {
	var errs []error

	banks, err := e.store.All(ctx, ledger.CollBankAccounts)
	if err != nil {
		errs = append(errs, fmt.Errorf("list bank accounts: %w", err))
	}
	for _, doc := range banks {
		errs = append(errs, e.recomputeBalance(ctx, keys, doc.ID))
	}

	errs = append(errs, e.recomputeProjects(ctx, keys, nil))

	categories, err := e.store.All(ctx, ledger.CollCategories)
	if err != nil {
		errs = append(errs, fmt.Errorf("list categories: %w", err))
	}
	for _, doc := range categories {
		errs = append(errs, e.recomputeStats(ctx, keys, doc.ID))
	}

	return errors.Join(errs...)
}

func (e *Engine) recomputeBalance(ctx context.Context, keys keySet, id string) error {
	txs, err := store.Find[ledger.Transaction](ctx, e.store, ledger.CollTransactions, ledger.FieldBankAccountID, id)
	if err != nil {
		e.metrics.Recomputed(ledger.FieldBalance, false)
		return fmt.Errorf("balance of bank account %s: %w", id, err)
	}
	return e.write(ctx, keys, ledger.CollBankAccounts, id, ledger.FieldBalance, ledger.Balance(txs))
}

func (e *Engine) recomputeStats(ctx context.Context, keys keySet, id string) error {
	txs, err := store.Find[ledger.Transaction](ctx, e.store, ledger.CollTransactions, ledger.FieldCategory, id)
	if err != nil {
		e.metrics.Recomputed(ledger.FieldStats, false)
		return fmt.Errorf("stats of category %s: %w", id, err)
	}
	return e.write(ctx, keys, ledger.CollCategories, id, ledger.FieldStats, ledger.StatsOf(txs))
}

// recomputeProjects rewrites the spend of the projects refs resolve to, or
// of every project if refs is nil. Attribution by name and code is global,
// so the full transaction set is read either way.
func (e *Engine) recomputeProjects(ctx context.Context, keys keySet, refs []ledger.TransactionRefs) error {
	projects, err := store.All[ledger.Project](ctx, e.store, ledger.CollProjects)
	if err != nil {
		e.metrics.Recomputed(ledger.FieldSpent, false)
		return fmt.Errorf("list projects: %w", err)
	}

	var targets []string
	if refs == nil {
		for _, p := range projects {
			targets = append(targets, p.ID)
		}
	} else {
		r := ledger.NewResolver(projects)
		for _, ref := range refs {
			id, rule := r.ResolveRefs(ref)
			if rule == ledger.MatchNone {
				continue
			}
			targets = appendUnique(targets, id)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	txs, err := store.All[ledger.Transaction](ctx, e.store, ledger.CollTransactions)
	if err != nil {
		e.metrics.Recomputed(ledger.FieldSpent, false)
		return fmt.Errorf("spent of projects %v: %w", targets, err)
	}
	spend := ledger.ProjectSpend(txs, projects)

	var errs []error
	for _, id := range targets {
		errs = append(errs, e.write(ctx, keys, ledger.CollProjects, id, ledger.FieldSpent, spend[id]))
	}
	return errors.Join(errs...)
}

// write stores one recomputed aggregate. A target that no longer exists is
// skipped.
func (e *Engine) write(ctx context.Context, keys keySet, collection, id, field string, value any) error {
	err := e.store.Update(ctx, collection, id, store.Patch{field: value})
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.log.Debug("aggregate target missing", slog.String("collection", collection), slog.String("id", id))
		return nil
	case err != nil:
		e.metrics.Recomputed(field, false)
		return fmt.Errorf("write %s of %s/%s: %w", field, collection, id, err)
	}

	e.metrics.Recomputed(field, true)
	keys.add(ledger.EntityKey(collection, id))
	e.log.Debug("recomputed",
		slog.String("collection", collection),
		slog.String("id", id),
		slog.String("field", field),
	)
	return nil
}

func appendUnique(ids []string, id string) []string {
	if id == "" {
		return ids
	}
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
