package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jcikl/ledgersync/adapters/nats"
	prom "github.com/jcikl/ledgersync/adapters/prometheus"
	"github.com/jcikl/ledgersync/core/app"
	"github.com/jcikl/ledgersync/internal/config"
)

const shutdownTimeout = 10 * time.Second

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine until interrupted",
		Long: `Starts the sync engine against the configured store. Ledger events are
received from NATS when the relay is enabled. Prometheus metrics are served
on the configured address.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runDaemon(ctx, rootOpts, cmd.ErrOrStderr())
		},
	}
}

func runDaemon(ctx context.Context, rootOpts *RootOptions, logOut io.Writer) error {
	cfg, log, err := rootOpts.load(logOut)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := prom.NewAllMetrics(reg)

	// the app outlives the signal so that shutdown can drain the sync queue
	a, err := app.Run(app.Config{
		Context: context.WithoutCancel(ctx),
		Log:     log,
		Store:   st,
		Cache:   cacheConfig(cfg.Cache),
		Sync:    syncConfig(cfg.Sync),
		Metrics: app.Metrics{
			Bus:    m.Bus,
			Cache:  m.Cache,
			Queue:  m.Queue,
			Syncer: m.Syncer,
		},
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Relay.Enabled {
		relay, err := nats.NewRelay(nats.RelayConfig{
			Connect:       natsConnector(cfg.Relay.NATSURL, log),
			Log:           log,
			SubjectPrefix: cfg.Relay.SubjectPrefix,
		})
		if err != nil {
			return errors.Join(err, shutdownApp(a))
		}
		defer func() { _ = relay.Close() }()
		if err := relay.Forward(a.Context(), a.Bus()); err != nil {
			return errors.Join(err, shutdownApp(a))
		}
	}

	log.Info("ledgersync running", slog.String("backend", cfg.Store.Backend))
	<-ctx.Done()
	log.Info("shutting down")

	return shutdownApp(a)
}

func shutdownApp(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	return srv
}

func cacheConfig(c config.CacheConfig) app.CacheConfig {
	return app.CacheConfig{
		Capacity:        c.Capacity,
		DefaultTTL:      c.DefaultTTL,
		CleanupInterval: c.CleanupInterval,
		PreloadDelay:    c.PreloadDelay,
	}
}

func syncConfig(c config.SyncConfig) app.SyncConfig {
	return app.SyncConfig{
		TaskTimeout:       c.TaskTimeout,
		ReconcileInterval: c.ReconcileInterval,
		BatchSize:         c.BatchSize,
	}
}
