package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	"github.com/jcikl/ledgersync/adapters/nats"
	"github.com/jcikl/ledgersync/adapters/postgres"
	"github.com/jcikl/ledgersync/adapters/sqlite"
	"github.com/jcikl/ledgersync/internal/config"
	"github.com/jcikl/ledgersync/ports/store"
)

// openStore opens the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (store.Store, func(), error) {
	log = log.With(slog.String("backend", cfg.Backend))

	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("using the in-memory store, nothing is persisted")
		return store.NewMemStore(), func() {}, nil

	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store ready", slog.String("path", cfg.SQLitePath))
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error("error closing database", slog.Any("error", err))
			}
		}, nil

	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		s := postgres.New(pool)
		if err := s.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres: ensure table: %w", err)
		}
		log.Info("store ready")
		return s, pool.Close, nil

	case config.BackendNATS:
		s, err := nats.NewDocumentStore(ctx, nats.DocumentStoreConfig{
			Connect: natsConnector(cfg.NATSURL, log),
			Log:     log,
			Bucket:  cfg.NATSBucket,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("store ready", slog.String("bucket", cfg.NATSBucket))
		return s, s.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

var (
	natsMu    sync.Mutex
	natsConns = map[string]nats.Connector{}
)

// natsConnector returns the connector for url. The store and the relay
// share one connection when they talk to the same server.
func natsConnector(url string, log *slog.Logger) nats.Connector {
	natsMu.Lock()
	defer natsMu.Unlock()
	if c, ok := natsConns[url]; ok {
		return c
	}

	opts := []natsgo.Option{
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrlRedacted()))
		}),
	}
	c := nats.ConnectDefault(opts...)
	if url != "" {
		c = nats.ConnectURL(url, opts...)
	}
	c = nats.Shared(c)
	natsConns[url] = c
	return c
}
