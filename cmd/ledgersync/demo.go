package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jcikl/ledgersync/core/app"
	"github.com/jcikl/ledgersync/core/cache"
	"github.com/jcikl/ledgersync/core/ledger"
	"github.com/jcikl/ledgersync/ports/store"
)

// DemoReport is the derived state printed by the demo command.
type DemoReport struct {
	BankAccounts  []ledger.BankAccount `json:"bankAccounts"`
	Projects      []ledger.Project     `json:"projects"`
	Categories    []ledger.Category    `json:"categories"`
	Transactions  []ledger.Transaction `json:"transactions"`
	LedgerEntries []ledger.LedgerEntry `json:"ledgerEntries"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Seed a small ledger, emit events and print the derived state",
		Long: `Seeds bank accounts, projects, categories and transactions into the
configured store (in-memory by default), emits the matching ledger events,
renames a project and an account, moves a transaction between projects and
prints the resulting aggregates.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := rootOpts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			st, closeStore, err := openStore(ctx, cfg.Store, log)
			if err != nil {
				return err
			}
			defer closeStore()

			a, err := app.Run(app.Config{
				Context: ctx,
				Log:     log,
				Store:   st,
				Cache:   cacheConfig(cfg.Cache),
				Sync:    syncConfig(cfg.Sync),
			})
			if err != nil {
				return err
			}

			report, err := runDemo(a)
			if shutdownErr := shutdownApp(a); err == nil {
				err = shutdownErr
			}
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), rootOpts.Format, report)
		},
	}
}

type demo struct {
	app *app.App
	ctx context.Context
	err error
}

func (d *demo) put(collection, id string, v any) {
	if d.err != nil {
		return
	}
	if err := store.Put(d.ctx, d.app.Store(), collection, id, v); err != nil {
		d.err = fmt.Errorf("seed %s/%s: %w", collection, id, err)
	}
}

// write stores v and announces it with ev.
func (d *demo) write(collection, id string, v any, ev ledger.Event) {
	d.put(collection, id, v)
	if d.err == nil {
		d.app.Emit(ev)
	}
}

func runDemo(a *app.App) (DemoReport, error) {
	d := &demo{app: a, ctx: a.Context()}
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	bank := ledger.BankAccount{ID: uuid.NewString(), Name: "Operating Account", Balance: decimal.Zero}
	website := ledger.Project{ID: uuid.NewString(), Code: "ENG-042", Name: "Website Relaunch", Spent: decimal.Zero}
	office := ledger.Project{ID: uuid.NewString(), Name: "Office Move", Spent: decimal.Zero}
	software := ledger.Category{ID: uuid.NewString(), Name: "Software"}
	cash := ledger.Account{ID: uuid.NewString(), Code: "1000", Name: "Cash"}
	revenue := ledger.Account{ID: uuid.NewString(), Code: "4000", Name: "Revenue"}

	d.put(ledger.CollBankAccounts, bank.ID, bank)
	d.put(ledger.CollProjects, website.ID, website)
	d.put(ledger.CollProjects, office.ID, office)
	d.put(ledger.CollCategories, software.ID, software)
	d.put(ledger.CollAccounts, cash.ID, cash)
	d.put(ledger.CollAccounts, revenue.ID, revenue)
	d.put(ledger.CollLedgerEntries, "entry-1", ledger.LedgerEntry{
		ID:   "entry-1",
		Date: day,
		Memo: "client payment",
		Lines: []ledger.Line{
			{AccountID: cash.ID, AccountName: cash.Name, Debit: decimal.NewFromInt(1000), Credit: decimal.Zero},
			{AccountID: revenue.ID, AccountName: revenue.Name, Debit: decimal.Zero, Credit: decimal.NewFromInt(1000)},
		},
	})

	payment := ledger.Transaction{
		ID: uuid.NewString(), Description: "Client payment", Date: day,
		BankAccountID: bank.ID, BankAccountName: bank.Name,
		Income: decimal.NewFromInt(1000), Expense: decimal.Zero,
	}
	license := ledger.Transaction{
		ID: uuid.NewString(), Description: "CMS license", Date: day.AddDate(0, 0, 1),
		BankAccountID: bank.ID, BankAccountName: bank.Name,
		ProjectID: website.ID, ProjectName: website.Name,
		Category: software.ID, CategoryName: software.Name,
		Income: decimal.Zero, Expense: decimal.NewFromInt(250),
	}
	boxes := ledger.Transaction{
		ID: uuid.NewString(), Description: "Moving boxes", Date: day.AddDate(0, 0, 2),
		BankAccountID: bank.ID, BankAccountName: bank.Name,
		ProjectName: "office move supplies",
		Income:      decimal.Zero, Expense: decimal.NewFromInt(80),
	}
	for _, t := range []ledger.Transaction{payment, license, boxes} {
		d.write(ledger.CollTransactions, t.ID, t, ledger.TransactionCreated{Transaction: t})
	}
	if d.err != nil {
		return DemoReport{}, d.err
	}

	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	// the UI reads through the cache; the updates below must invalidate what it holds
	if err := a.Engine().Wait(ctx); err != nil {
		return DemoReport{}, err
	}
	if _, err := collectReport(ctx, a.Cache(), a.Store()); err != nil {
		return DemoReport{}, err
	}

	// the moving boxes were bought for the website photo shoot after all
	prior := boxes.Refs()
	boxes.ProjectID, boxes.ProjectName = website.ID, website.Name
	d.write(ledger.CollTransactions, boxes.ID, boxes, ledger.TransactionUpdated{Transaction: boxes, Prior: prior})

	renamed := website
	renamed.Name = "Website 2.0"
	d.write(ledger.CollProjects, renamed.ID, renamed, ledger.ProjectUpdated{Project: renamed, Prior: ledger.NameRef{Name: website.Name}})

	pettyCash := cash
	pettyCash.Name = "Petty Cash"
	d.write(ledger.CollAccounts, cash.ID, pettyCash, ledger.AccountUpdated{Account: pettyCash, Prior: ledger.NameRef{Name: cash.Name}})

	if d.err != nil {
		return DemoReport{}, d.err
	}

	if err := a.Engine().Wait(ctx); err != nil {
		return DemoReport{}, err
	}
	return collectReport(ctx, a.Cache(), a.Store())
}

// collectReport reads every collection through the cache, fetching from
// the store on a miss.
func collectReport(ctx context.Context, c *cache.Memory, st store.Store) (r DemoReport, err error) {
	if r.BankAccounts, err = readAll[ledger.BankAccount](ctx, c, st, ledger.KeyBankAccounts, ledger.CollBankAccounts); err != nil {
		return r, err
	}
	if r.Projects, err = readAll[ledger.Project](ctx, c, st, ledger.KeyProjects, ledger.CollProjects); err != nil {
		return r, err
	}
	if r.Categories, err = readAll[ledger.Category](ctx, c, st, ledger.KeyCategories, ledger.CollCategories); err != nil {
		return r, err
	}
	if r.Transactions, err = readAll[ledger.Transaction](ctx, c, st, ledger.KeyTransactions, ledger.CollTransactions); err != nil {
		return r, err
	}
	if r.LedgerEntries, err = readAll[ledger.LedgerEntry](ctx, c, st, ledger.KeyLedgerEntries, ledger.CollLedgerEntries); err != nil {
		return r, err
	}
	return r, nil
}

func readAll[T any](ctx context.Context, c *cache.Memory, st store.Store, key, collection string) ([]T, error) {
	return cache.Fetch(ctx, c, key, func(ctx context.Context) ([]T, error) {
		return store.All[T](ctx, st, collection)
	})
}

func printReport(w io.Writer, format string, r DemoReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BANK ACCOUNT\tBALANCE")
	for _, b := range r.BankAccounts {
		fmt.Fprintf(tw, "%s\t%s\n", b.Name, b.Balance.StringFixed(2))
	}
	fmt.Fprintln(tw, "\nPROJECT\tSPENT")
	for _, p := range r.Projects {
		fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Spent.StringFixed(2))
	}
	fmt.Fprintln(tw, "\nCATEGORY\tCOUNT\tINCOME\tEXPENSE")
	for _, c := range r.Categories {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.Name, c.Stats.Count, c.Stats.TotalIncome.StringFixed(2), c.Stats.TotalExpense.StringFixed(2))
	}
	fmt.Fprintln(tw, "\nTRANSACTION\tPROJECT\tCATEGORY")
	for _, t := range r.Transactions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Description, t.ProjectName, t.CategoryName)
	}
	fmt.Fprintln(tw, "\nENTRY\tACCOUNT")
	for _, e := range r.LedgerEntries {
		for _, l := range e.Lines {
			fmt.Fprintf(tw, "%s\t%s\n", e.Memo, l.AccountName)
		}
	}
	return tw.Flush()
}
