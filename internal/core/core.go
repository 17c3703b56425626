// Package core wires the components together. There is exactly one Core per
// process and every piece of persistence or network access goes through it —
// no ambient globals.
package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/tillworks/possync/internal/cache"
	"github.com/tillworks/possync/internal/config"
	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/rpc"
	"github.com/tillworks/possync/internal/session"
	"github.com/tillworks/possync/internal/store"
	possync "github.com/tillworks/possync/internal/sync"
)

// Migrations is the schema history of the local store. Append-only: new
// versions add partitions, existing entries never change.
func Migrations() []store.Migration {
	return []store.Migration{
		{Version: 1, AddPartitions: cache.Partitions()},
		{Version: 2, AddPartitions: []string{queue.Partition}},
	}
}

// Core owns every component of the offline POS engine.
type Core struct {
	Config   config.Config
	Store    *store.Store
	Backend  rpc.Invoker
	Cache    *cache.Cache
	Queue    *queue.Queue
	Sync     *possync.Coordinator
	Sessions *session.Manager
}

// New opens the local store (retrying once if a destructive reset fired) and
// constructs the component graph.
func New(ctx context.Context, cfg config.Config) (*Core, error) {
	s, err := store.Open(ctx, store.DefaultConfig(cfg.StorePath), Migrations())
	if errors.Is(err, store.ErrStoreReset) {
		log.Printf("[core] local store was reset, reopening; reference data needs a reload")
		s, err = store.Open(ctx, store.DefaultConfig(cfg.StorePath), Migrations())
	}
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	backend := rpc.NewClient(cfg.Endpoint, cfg.Database, &http.Client{Timeout: cfg.HTTPTimeout()})
	q := queue.New(s)

	return &Core{
		Config:   cfg,
		Store:    s,
		Backend:  backend,
		Cache:    cache.NewWithTTL(s, backend, cfg.CacheTTL()),
		Queue:    q,
		Sync:     possync.New(q, backend),
		Sessions: session.NewManager(backend),
	}, nil
}

// Close releases the local store.
func (c *Core) Close() error {
	return c.Store.Close()
}
