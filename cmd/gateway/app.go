package main

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/streamgw/internal/auth"
	"github.com/vyrodovalexey/streamgw/internal/authz"
	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/configsync"
	"github.com/vyrodovalexey/streamgw/internal/gateway"
	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/proxy"
	"github.com/vyrodovalexey/streamgw/internal/routing"
	"github.com/vyrodovalexey/streamgw/internal/store"
)

// application holds the wired gateway components.
type application struct {
	cfg    *config.Config
	store  *store.Store
	table  *routing.Table
	syncer *configsync.Syncer
	server *gateway.Server
}

// buildApplication wires the gateway: one shared store connection pool
// feeding the routing table, the credential lookups, and the change
// feed. The routing table is fully loaded here, before the HTTP server
// exists, so the gateway never serves from an empty table.
func buildApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	st, err := store.New(store.Config{
		URL:          cfg.RedisURL,
		PoolSize:     cfg.RedisPoolSize,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisReadTimeout,
		WriteTimeout: cfg.RedisWriteTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	table := routing.NewTable()
	syncer := configsync.New(st, table, cfg.FeedChannel, logger)

	if err := syncer.Load(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initial route load: %w", err)
	}

	server := gateway.New(cfg, table,
		auth.New(st, logger),
		authz.New(table, logger),
		proxy.New(logger),
		syncer,
		logger,
	)

	return &application{
		cfg:    cfg,
		store:  st,
		table:  table,
		syncer: syncer,
		server: server,
	}, nil
}
