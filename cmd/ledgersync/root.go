package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jcikl/ledgersync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the ledgersync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ledgersync",
		Short: "Derived-state synchronization for the ledger",
		Long: `ledgersync recomputes bank account balances, project spend and category
statistics from transactions, propagates renamed entities into denormalized
fields and invalidates cached reads.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewRecomputeCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))

	return cmd
}

// load reads the configuration and builds the logger writing to w.
func (o *RootOptions) load(w io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return cfg, nil, err
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	log, err := cfg.Log.NewLogger(w)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}
