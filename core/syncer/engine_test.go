package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jcikl/ledgersync/core/bus"
	"github.com/jcikl/ledgersync/core/cache"
	"github.com/jcikl/ledgersync/core/ledger"
	"github.com/jcikl/ledgersync/core/queue"
	"github.com/jcikl/ledgersync/ports/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	t      *testing.T
	store  *store.MemStore
	cache  *cache.Memory
	bus    *bus.Bus
	engine *Engine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		store: store.NewMemStore(),
		cache: cache.New(cache.Options{PreloadDelay: -1}),
		bus:   bus.New(bus.Options{}),
	}
	if opts.Store == nil {
		opts.Store = f.store
	}
	opts.Cache = f.cache

	e, err := New(opts)
	require.NoError(t, err)
	e.Register(f.bus)
	f.engine = e

	t.Cleanup(func() {
		e.Close()
		f.cache.Close()
	})
	return f
}

func (f *fixture) put(collection, id string, v any) {
	f.t.Helper()
	require.NoError(f.t, store.Put(f.t.Context(), f.store, collection, id, v))
}

func (f *fixture) emit(ev ledger.Event) {
	f.t.Helper()
	f.bus.Emit(f.t.Context(), ev)
	f.wait()
}

func (f *fixture) wait() {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(f.t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(f.t, f.engine.Wait(ctx))
}

func (f *fixture) balance(id string) decimal.Decimal {
	f.t.Helper()
	ba, err := store.Get[ledger.BankAccount](f.t.Context(), f.store, ledger.CollBankAccounts, id)
	require.NoError(f.t, err)
	return ba.Balance
}

func (f *fixture) spent(id string) decimal.Decimal {
	f.t.Helper()
	p, err := store.Get[ledger.Project](f.t.Context(), f.store, ledger.CollProjects, id)
	require.NoError(f.t, err)
	return p.Spent
}

func (f *fixture) stats(id string) ledger.CategoryStats {
	f.t.Helper()
	c, err := store.Get[ledger.Category](f.t.Context(), f.store, ledger.CollCategories, id)
	require.NoError(f.t, err)
	return c.Stats
}

func (f *fixture) transaction(id string) ledger.Transaction {
	f.t.Helper()
	tx, err := store.Get[ledger.Transaction](f.t.Context(), f.store, ledger.CollTransactions, id)
	require.NoError(f.t, err)
	return tx
}

func (f *fixture) create(tx ledger.Transaction) {
	f.t.Helper()
	f.put(ledger.CollTransactions, tx.ID, tx)
	f.emit(ledger.TransactionCreated{Transaction: tx})
}

func (f *fixture) update(tx ledger.Transaction) {
	f.t.Helper()
	prior := f.transaction(tx.ID).Refs()
	f.put(ledger.CollTransactions, tx.ID, tx)
	f.emit(ledger.TransactionUpdated{Transaction: tx, Prior: prior})
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if d(want).Equal(got) {
		return
	}
	require.Fail(t, fmt.Sprintf("want %s, got %s", want, got), msgAndArgs...)
}

func TestEngine_BankAccountBalance(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1", Name: "Main"})

	f.create(ledger.Transaction{ID: "T1", BankAccountID: "BA1", Income: d("100")})
	f.create(ledger.Transaction{ID: "T2", BankAccountID: "BA1", Expense: d("30")})
	f.create(ledger.Transaction{ID: "T3", BankAccountID: "BA1", Income: d("50")})

	requireDecimal(t, "120", f.balance("BA1"))
}

func TestEngine_ProjectSpentFollowsReferenceChanges(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollProjects, "P1", ledger.Project{ID: "P1", Code: "ENG-042", Name: "Website"})

	f.create(ledger.Transaction{ID: "T1", ProjectID: "P1", ProjectName: "Website", Expense: d("40")})
	requireDecimal(t, "40", f.spent("P1"))

	f.update(ledger.Transaction{ID: "T1", Expense: d("40")})
	requireDecimal(t, "0", f.spent("P1"))
}

func TestEngine_UpdateRecomputesOldAndNewReferences(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1"})
	f.put(ledger.CollBankAccounts, "BA2", ledger.BankAccount{ID: "BA2"})
	f.put(ledger.CollProjects, "P1", ledger.Project{ID: "P1", Name: "Alpha"})
	f.put(ledger.CollProjects, "P2", ledger.Project{ID: "P2", Name: "Beta"})
	f.put(ledger.CollCategories, "C1", ledger.Category{ID: "C1"})
	f.put(ledger.CollCategories, "C2", ledger.Category{ID: "C2"})

	f.create(ledger.Transaction{ID: "T1", BankAccountID: "BA1", ProjectID: "P1", Category: "C1", Income: d("100"), Expense: d("25")})
	requireDecimal(t, "75", f.balance("BA1"))
	requireDecimal(t, "25", f.spent("P1"))
	require.Equal(t, 1, f.stats("C1").Count)

	f.update(ledger.Transaction{ID: "T1", BankAccountID: "BA2", ProjectID: "P2", Category: "C2", Income: d("100"), Expense: d("25")})

	requireDecimal(t, "0", f.balance("BA1"))
	requireDecimal(t, "75", f.balance("BA2"))
	requireDecimal(t, "0", f.spent("P1"))
	requireDecimal(t, "25", f.spent("P2"))
	require.True(t, f.stats("C1").Equal(ledger.CategoryStats{}))
	require.Equal(t, 1, f.stats("C2").Count)
	requireDecimal(t, "100", f.stats("C2").TotalIncome)
}

func TestEngine_TransactionDeleted(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1"})
	f.put(ledger.CollProjects, "P1", ledger.Project{ID: "P1", Name: "Alpha"})
	f.put(ledger.CollCategories, "C1", ledger.Category{ID: "C1"})

	f.create(ledger.Transaction{ID: "T1", BankAccountID: "BA1", ProjectID: "P1", Category: "C1", Expense: d("10")})
	f.create(ledger.Transaction{ID: "T2", BankAccountID: "BA1", ProjectID: "P1", Category: "C1", Expense: d("5")})

	require.NoError(t, f.store.Delete(t.Context(), ledger.CollTransactions, "T1"))
	f.emit(ledger.TransactionDeleted{ID: "T1"})

	requireDecimal(t, "-5", f.balance("BA1"))
	requireDecimal(t, "5", f.spent("P1"))
	require.Equal(t, 1, f.stats("C1").Count)
}

func TestEngine_ProjectRename(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollProjects, "P1", ledger.Project{ID: "P1", Name: "Old"})
	f.create(ledger.Transaction{ID: "T1", ProjectID: "P1", ProjectName: "Old", Expense: d("3")})
	f.create(ledger.Transaction{ID: "T2", ProjectID: "P1", ProjectName: "Old", Expense: d("4")})
	f.create(ledger.Transaction{ID: "T3", ProjectID: "P9", ProjectName: "Other"})

	p := ledger.Project{ID: "P1", Name: "New"}
	f.put(ledger.CollProjects, "P1", p)
	f.emit(ledger.ProjectUpdated{Project: p, Prior: ledger.NameRef{Name: "Old"}})

	require.Equal(t, "New", f.transaction("T1").ProjectName)
	require.Equal(t, "New", f.transaction("T2").ProjectName)
	require.Equal(t, "Other", f.transaction("T3").ProjectName)
	requireDecimal(t, "7", f.spent("P1"))
}

func TestEngine_ProjectRenameKeepsNameAndCodeMatches(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollProjects, "P1", ledger.Project{ID: "P1", Code: "ENG-042", Name: "Alpha"})
	f.put(ledger.CollProjects, "P2", ledger.Project{ID: "P2", Name: "Gamma"})
	f.create(ledger.Transaction{ID: "T1", ProjectName: "Alpha launch", Expense: d("10")})
	f.create(ledger.Transaction{ID: "T2", ProjectID: "legacy-ENG-042", Expense: d("5")})
	f.create(ledger.Transaction{ID: "T3", ProjectID: "P1", ProjectName: "Alpha", Expense: d("1")})
	f.create(ledger.Transaction{ID: "T4", ProjectName: "Gamma supplies", Expense: d("2")})
	requireDecimal(t, "16", f.spent("P1"))

	p := ledger.Project{ID: "P1", Code: "ENG-042", Name: "Beta"}
	f.put(ledger.CollProjects, "P1", p)
	f.emit(ledger.ProjectUpdated{Project: p, Prior: ledger.NameRef{Name: "Alpha"}})

	requireDecimal(t, "16", f.spent("P1"), "a rename does not move spend")
	requireDecimal(t, "2", f.spent("P2"))
	require.Equal(t, "Beta", f.transaction("T1").ProjectName)
	require.Equal(t, "Beta", f.transaction("T2").ProjectName)
	require.Equal(t, "Beta", f.transaction("T3").ProjectName)
	require.Equal(t, "Gamma supplies", f.transaction("T4").ProjectName)
}

func TestEngine_ProjectCreatedClaimsTransactions(t *testing.T) {
	f := newFixture(t, Options{})
	f.create(ledger.Transaction{ID: "T1", ProjectID: "legacy-ENG-042", Expense: d("12")})

	p := ledger.Project{ID: "P1", Code: "ENG-042", Name: "Website"}
	f.put(ledger.CollProjects, "P1", p)
	f.emit(ledger.ProjectCreated{Project: p})

	requireDecimal(t, "12", f.spent("P1"))
}

func TestEngine_ProjectDeletedTombstones(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollProjects, "P1", ledger.Project{ID: "P1", Name: "Gone"})
	f.create(ledger.Transaction{ID: "T1", ProjectID: "P1", ProjectName: "Gone", Expense: d("3")})
	f.create(ledger.Transaction{ID: "T2", ProjectID: "P2", ProjectName: "Kept"})

	require.NoError(t, f.store.Delete(t.Context(), ledger.CollProjects, "P1"))
	f.emit(ledger.ProjectDeleted{ID: "P1"})

	t1 := f.transaction("T1")
	require.Empty(t, t1.ProjectID)
	require.Empty(t, t1.ProjectName)
	requireDecimal(t, "3", t1.Expense)

	require.Equal(t, "P2", f.transaction("T2").ProjectID)
}

func TestEngine_CategoryAndBankAccountRename(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1", Name: "Old Bank"})
	f.put(ledger.CollCategories, "C1", ledger.Category{ID: "C1", Name: "Old Cat"})
	f.create(ledger.Transaction{ID: "T1", BankAccountID: "BA1", BankAccountName: "Old Bank", Category: "C1", CategoryName: "Old Cat", Income: d("9")})

	ba := ledger.BankAccount{ID: "BA1", Name: "New Bank"}
	f.put(ledger.CollBankAccounts, "BA1", ba)
	f.emit(ledger.BankAccountUpdated{BankAccount: ba, Prior: ledger.NameRef{Name: "Old Bank"}})

	c := ledger.Category{ID: "C1", Name: "New Cat"}
	f.put(ledger.CollCategories, "C1", c)
	f.emit(ledger.CategoryUpdated{Category: c, Prior: ledger.NameRef{Name: "Old Cat"}})

	tx := f.transaction("T1")
	require.Equal(t, "New Bank", tx.BankAccountName)
	require.Equal(t, "New Cat", tx.CategoryName)
	requireDecimal(t, "9", f.balance("BA1"), "balance is recomputed after the document was replaced")
	require.Equal(t, 1, f.stats("C1").Count)
}

func TestEngine_AccountRenameRewritesLedgerLines(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollLedgerEntries, "E1", ledger.LedgerEntry{ID: "E1", Lines: []ledger.Line{
		{AccountID: "A1", AccountName: "Cash", Debit: d("10")},
		{AccountID: "A2", AccountName: "Revenue", Credit: d("10")},
	}})
	f.put(ledger.CollLedgerEntries, "E2", ledger.LedgerEntry{ID: "E2", Lines: []ledger.Line{
		{AccountID: "A3", AccountName: "Rent"},
	}})

	f.emit(ledger.AccountUpdated{Account: ledger.Account{ID: "A1", Name: "Petty Cash"}, Prior: ledger.NameRef{Name: "Cash"}})

	e1, err := store.Get[ledger.LedgerEntry](t.Context(), f.store, ledger.CollLedgerEntries, "E1")
	require.NoError(t, err)
	require.Equal(t, "Petty Cash", e1.Lines[0].AccountName)
	require.Equal(t, "Revenue", e1.Lines[1].AccountName)
	requireDecimal(t, "10", e1.Lines[0].Debit)

	e2, err := store.Get[ledger.LedgerEntry](t.Context(), f.store, ledger.CollLedgerEntries, "E2")
	require.NoError(t, err)
	require.Equal(t, "Rent", e2.Lines[0].AccountName)
}

func TestEngine_UnchangedNameSkipsPropagation(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollCategories, "C1", ledger.Category{ID: "C1", Name: "Same"})
	f.create(ledger.Transaction{ID: "T1", Category: "C1", CategoryName: "stale"})

	var batches atomic.Int32
	f.store.SetFault(func(op, _, _ string) error {
		if op == store.OpBatch {
			batches.Add(1)
		}
		return nil
	})
	f.emit(ledger.CategoryUpdated{Category: ledger.Category{ID: "C1", Name: "Same"}, Prior: ledger.NameRef{Name: "Same"}})

	require.Zero(t, batches.Load())
	require.Equal(t, "stale", f.transaction("T1").CategoryName)
	require.Equal(t, 1, f.stats("C1").Count)
}

func TestEngine_FailureIsIsolated(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1", Balance: d("1")})
	f.put(ledger.CollBankAccounts, "BA2", ledger.BankAccount{ID: "BA2"})
	f.put(ledger.CollCategories, "C1", ledger.Category{ID: "C1"})

	errTimeout := errors.New("deadline exceeded")
	f.store.SetFault(func(op, collection, id string) error {
		if op == store.OpUpdate && collection == ledger.CollBankAccounts && id == "BA1" {
			return errTimeout
		}
		return nil
	})

	f.create(ledger.Transaction{ID: "T1", BankAccountID: "BA1", Category: "C1", Income: d("5")})
	requireDecimal(t, "1", f.balance("BA1"), "failed aggregate keeps its last value")
	require.Equal(t, 1, f.stats("C1").Count, "unrelated aggregate of the same event is written")

	f.create(ledger.Transaction{ID: "T2", BankAccountID: "BA2", Income: d("7")})
	requireDecimal(t, "7", f.balance("BA2"), "queue keeps going after a failed task")

	f.store.SetFault(nil)
	f.create(ledger.Transaction{ID: "T3", BankAccountID: "BA1", Income: d("1")})
	requireDecimal(t, "6", f.balance("BA1"), "next triggering event repairs the aggregate")
}

func TestEngine_ProcessIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1"})
	f.put(ledger.CollProjects, "P1", ledger.Project{ID: "P1", Name: "Alpha"})

	tx := ledger.Transaction{ID: "T1", BankAccountID: "BA1", ProjectID: "P1", Income: d("3"), Expense: d("1")}
	f.put(ledger.CollTransactions, tx.ID, tx)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.Process(t.Context(), ledger.TransactionCreated{Transaction: tx}))
		requireDecimal(t, "2", f.balance("BA1"))
		requireDecimal(t, "1", f.spent("P1"))
	}
}

func TestEngine_InvalidatesCache(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1"})

	f.cache.Put(ledger.KeyTransactions, "stale")
	f.cache.Put(ledger.KeyBankAccountStats, "stale")
	f.cache.Put(ledger.EntityKey(ledger.CollBankAccounts, "BA1"), "stale")
	f.cache.Put(ledger.KeyAccounts, "fresh")

	f.create(ledger.Transaction{ID: "T1", BankAccountID: "BA1", Income: d("1")})

	for _, key := range []string{ledger.KeyTransactions, ledger.KeyBankAccountStats, ledger.EntityKey(ledger.CollBankAccounts, "BA1")} {
		_, ok := f.cache.Get(key)
		require.False(t, ok, key)
	}
	_, ok := f.cache.Get(ledger.KeyAccounts)
	require.True(t, ok, "keys of other kinds stay")
}

func TestEngine_InvalidatesCacheOnFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.SetFault(func(string, string, string) error { return errors.New("down") })
	f.cache.Put(ledger.KeyCategories, "stale")

	f.emit(ledger.CategoryUpdated{Category: ledger.Category{ID: "C1", Name: "x"}, Prior: ledger.NameRef{Name: "y"}})

	_, ok := f.cache.Get(ledger.KeyCategories)
	require.False(t, ok)
}

func TestInvalidations_Total(t *testing.T) {
	for _, kind := range ledger.Kinds() {
		require.NotEmpty(t, Invalidations(kind), kind)
	}
	require.Contains(t, Invalidations(ledger.KindTransactionCreated), ledger.KeyTransactions)
	require.Contains(t, Invalidations(ledger.KindTransactionCreated), ledger.KeyTransactionStats)
	require.Contains(t, Invalidations(ledger.KindTransactionCreated), ledger.KeyProjectStats)
	require.Contains(t, Invalidations(ledger.KindTransactionCreated), ledger.KeyBankAccountStats)

	keys := Invalidations(ledger.KindAccountUpdated)
	keys[0] = "mutated"
	require.NotEqual(t, "mutated", Invalidations(ledger.KindAccountUpdated)[0])
}

// blockingStore holds every Find until released.
type blockingStore struct {
	*store.MemStore
	release chan struct{}
}

func (s *blockingStore) Find(ctx context.Context, collection, field, value string) ([]store.Document, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemStore.Find(ctx, collection, field, value)
}

func TestEngine_HandlersOnlyEnqueue(t *testing.T) {
	bs := &blockingStore{MemStore: store.NewMemStore(), release: make(chan struct{})}
	f := newFixture(t, Options{Store: bs})
	require.NoError(t, store.Put(t.Context(), bs, ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1"}))

	tx := ledger.Transaction{ID: "T1", BankAccountID: "BA1", Income: d("4")}
	require.NoError(t, store.Put(t.Context(), bs, ledger.CollTransactions, "T1", tx))

	done := make(chan struct{})
	go func() {
		f.bus.Emit(t.Context(), ledger.TransactionCreated{Transaction: tx})
		f.bus.Emit(t.Context(), ledger.TransactionCreated{Transaction: tx})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on the store")
	}

	close(bs.release)
	f.wait()

	ba, err := store.Get[ledger.BankAccount](t.Context(), bs, ledger.CollBankAccounts, "BA1")
	require.NoError(t, err)
	requireDecimal(t, "4", ba.Balance)
}

func TestEngine_RecomputeAll(t *testing.T) {
	f := newFixture(t, Options{})
	f.put(ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1", Balance: d("999")})
	f.put(ledger.CollProjects, "P1", ledger.Project{ID: "P1", Name: "Alpha", Spent: d("999")})
	f.put(ledger.CollCategories, "C1", ledger.Category{ID: "C1"})
	f.put(ledger.CollTransactions, "T1", ledger.Transaction{ID: "T1", BankAccountID: "BA1", ProjectName: "alpha q1", Category: "C1", Expense: d("2")})

	f.cache.Put(ledger.KeyAccounts, "stale")
	require.NoError(t, f.engine.RecomputeAll(t.Context()))

	requireDecimal(t, "-2", f.balance("BA1"))
	requireDecimal(t, "2", f.spent("P1"))
	require.Equal(t, 1, f.stats("C1").Count)

	_, ok := f.cache.Get(ledger.KeyAccounts)
	require.False(t, ok)
}

func TestEngine_ReconcileLoop(t *testing.T) {
	f := newFixture(t, Options{ReconcileInterval: 10 * time.Millisecond})
	f.put(ledger.CollBankAccounts, "BA1", ledger.BankAccount{ID: "BA1", Balance: d("999")})
	f.put(ledger.CollTransactions, "T1", ledger.Transaction{ID: "T1", BankAccountID: "BA1", Income: d("1")})

	f.engine.Start(t.Context())

	require.Eventually(t, func() bool {
		ba, err := store.Get[ledger.BankAccount](t.Context(), f.store, ledger.CollBankAccounts, "BA1")
		return err == nil && ba.Balance.Equal(d("1"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_CloseUnsubscribes(t *testing.T) {
	f := newFixture(t, Options{})
	f.engine.Close()

	f.bus.Emit(t.Context(), ledger.TransactionDeleted{ID: "T1"})
	require.Zero(t, f.engine.Pending())
	require.ErrorIs(t, f.engine.Enqueue(ledger.TransactionDeleted{ID: "T1"}), queue.ErrClosed)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoStore)
}
