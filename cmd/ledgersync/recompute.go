package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcikl/ledgersync/core/syncer"
)

// NewRecomputeCommand creates the recompute command.
func NewRecomputeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Recompute every derived aggregate once",
		Long: `Recomputes all bank account balances, project spend and category
statistics from the transactions in the configured store, then exits.`,
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

			engine, err := syncer.New(syncer.Options{
				Store:     st,
				Context:   ctx,
				Log:       log,
				BatchSize: cfg.Sync.BatchSize,
			})
			if err != nil {
				return err
			}
			defer engine.Close()

			startedAt := time.Now()
			if err := engine.RecomputeAll(ctx); err != nil {
				return fmt.Errorf("recompute: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "recomputed all aggregates in %s\n", time.Since(startedAt).Round(time.Millisecond))
			return err
		},
	}
}
