// Package app wires a bus, a cache and a sync engine into one unit.
//
// Nothing in ledgersync is a process-wide singleton: every App owns its
// components, so tests and multi-tenant hosts can run several side by side.
//
// # Basic Usage
//
//	a, err := app.Run(app.Config{
//	    Store: sqliteStore,
//	    Sync:  app.SyncConfig{ReconcileInterval: time.Hour},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// after writing a transaction to the store
//	a.Emit(ledger.TransactionCreated{Transaction: tx})
//
//	// the UI layer reads through the cache
//	projects, err := cache.Fetch(ctx, a.Cache(), ledger.KeyProjects, loadProjects)
//
//	// graceful shutdown, draining queued recomputations
//	a.Shutdown(ctx)
package app
