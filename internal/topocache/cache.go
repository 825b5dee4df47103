// Package topocache implements spec.md §4.3: ConfigHolder/Config, renamed
// TopologyCache/fetch to avoid clashing with the process-level
// internal/config package. It fetches the cluster map from a pair of
// config-shard backends racing on a timeout, refreshes on a timer, and
// persists/adopts a snapshot cache file for scenario S6 (config servers
// down at startup).
package topocache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/topology"
	"github.com/shardroute/dbproxy/pkg/coderr"
	"github.com/shardroute/dbproxy/pkg/log"
)

var ErrNoShardConfig = coderr.NewCodeError(coderr.NoShardConfig, "topology unknown: never fetched and no cached snapshot")

// Fetcher abstracts querying one config-shard backend for the four tables
// spec.md §4.3 names (shards, databases, collections, chunks). Production
// code wires this to the real backend wire protocol; tests substitute a
// fake in-memory topology generator.
type Fetcher interface {
	// Addr identifies the config server this Fetcher talks to, used to
	// exclude it when racing a second server.
	Addr() string
	Roundtrip() time.Duration
	Fetch(ctx context.Context) (shards []topology.ShardIdentity, dbs []topology.Database, cols []topology.Collection, chunks []topology.Chunk, err error)
}

// Config is the TopologyCache's own tunables, a subset of
// internal/config.Config passed down explicitly.
type Config struct {
	ConfTimeout    time.Duration
	ConfRetransmit time.Duration
	ConfInterval   time.Duration
}

// Cache owns the current topology.Map snapshot behind a mutex (spec.md
// §4.3's ConfigHolder). Get returns the snapshot or NoShardConfig if none
// has ever been produced.
type Cache struct {
	cfg      Config
	fetchers []Fetcher
	store    *SnapshotStore
	clock    runtime.Clock
	logger   *zap.Logger

	mu   sync.RWMutex
	snap *topology.Map

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Cache over the given config-server fetchers. If store is
// non-nil and holds a valid cached snapshot, it is adopted immediately so
// the proxy is usable before the first live fetch succeeds (spec.md §4.3,
// scenario S6).
func New(cfg Config, fetchers []Fetcher, store *SnapshotStore, clock runtime.Clock) *Cache {
	if clock == nil {
		clock = runtime.SystemClock{}
	}
	c := &Cache{
		cfg:      cfg,
		fetchers: fetchers,
		store:    store,
		clock:    clock,
		logger:   log.GetLogger(),
		stop:     make(chan struct{}),
	}
	if store != nil {
		if m, ok := store.Load(); ok {
			c.mu.Lock()
			c.snap = m
			c.mu.Unlock()
		}
	}
	return c
}

// Get returns the current snapshot, or ErrNoShardConfig.
func (c *Cache) Get() (*topology.Map, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, ErrNoShardConfig
	}
	return c.snap, nil
}

// Update fetches a fresh snapshot and atomically replaces the current one
// if materially different (by creation time — any successful fetch is
// treated as materially new, since the config-shard tables themselves are
// the source of truth for whether anything changed).
func (c *Cache) Update(ctx context.Context) error {
	m, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.snap = m
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(m); err != nil {
			c.logger.Warn("failed to persist topology snapshot", zap.Error(err))
		}
	}
	return nil
}

// fetch implements the race of spec.md §4.3: pick the fastest fetcher by
// roundtrip; wait up to confRetransmit; if not done, race a second fetcher
// (excluding the first) up to confTimeout; consume the first success.
func (c *Cache) fetch(ctx context.Context) (*topology.Map, error) {
	if len(c.fetchers) == 0 {
		return nil, ErrNoShardConfig.WithCausef("no config servers configured")
	}

	ordered := fastestFirst(c.fetchers)
	primary := ordered[0]

	t1 := runtime.Spawn(ctx, func(ctx context.Context) (*topology.Map, error) {
		return c.fetchOne(ctx, primary)
	})

	if r, ok := runtime.Wait(t1, minDuration(c.cfg.ConfRetransmit, c.cfg.ConfTimeout)); ok {
		return r.Value, r.Err
	}

	var t2 *runtime.Task[*topology.Map]
	if len(ordered) > 1 {
		secondary := ordered[1]
		t2 = runtime.Spawn(ctx, func(ctx context.Context) (*topology.Map, error) {
			return c.fetchOne(ctx, secondary)
		})
	}

	remaining := c.cfg.ConfTimeout - c.cfg.ConfRetransmit
	if remaining < 0 {
		remaining = 0
	}
	r, err := runtime.RaceTwo(t1, t2, remaining)
	if err != nil {
		return nil, err
	}
	return r.Value, r.Err
}

func (c *Cache) fetchOne(ctx context.Context, f Fetcher) (*topology.Map, error) {
	shards, dbs, cols, chunks, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return topology.Build(shards, dbs, cols, chunks, c.clock.Now())
}

// RunRefresh loops every ConfInterval, catching and logging errors, until
// Stop is called.
func (c *Cache) RunRefresh(ctx context.Context) {
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-c.clock.After(c.cfg.ConfInterval):
		}
		if err := c.Update(ctx); err != nil {
			c.logger.Warn("topology refresh failed", zap.Error(err))
		}
	}
}

func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func fastestFirst(fetchers []Fetcher) []Fetcher {
	out := make([]Fetcher, len(fetchers))
	copy(out, fetchers)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Roundtrip() < out[j-1].Roundtrip(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
