// Package routing implements the client-/shard-side routing cache (§3 C7,
// §4.5): collection -> ordered map of chunk range -> shard, served from
// the config server, with idempotent, join-able refresh.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package routing

import (
	"context"
	"sync"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"
	"github.com/shardkeep/clustercoord/cmn/xstats"
	"golang.org/x/sync/singleflight"
)

// Table is one collection's routing entry: namespace, epoch, and an
// ordered (by Min) chunk set satisfying I-C1. The shard-key pattern is not
// stored.
type Table struct {
	Namespace string
	Epoch     meta.Epoch
	Chunks    meta.ChunkSet // sorted by Min, validated to satisfy I-C1
}

func (t *Table) ShardFor(k meta.ShardKey) (string, bool) {
	// binary search would be preferable for large collections; linear
	// scan keeps this package free of a second ordered-map dependency
	// while the chunk count in any one collection stays in the low
	// thousands in practice.
	for _, c := range t.Chunks {
		if c.Range.Contains(k) {
			return c.Shard, true
		}
	}
	return "", false
}

func (t *Table) CollectionVersion() meta.ChunkVersion { return t.Chunks.CollectionVersion() }

// ConfigClient is the subset of the config-server RPC surface the cache
// needs to refresh one collection (§6 catalog commands are mutating; this
// is the read side).
type ConfigClient interface {
	FetchChunks(ctx context.Context, ns string) (epoch meta.Epoch, chunks meta.ChunkSet, err error)
}

// Cache holds the last-known-good Table per namespace and coalesces
// concurrent refreshes via singleflight, per §4.5.
type Cache struct {
	mu     sync.RWMutex
	tables map[string]*Table
	cfg    ConfigClient
	group  singleflight.Group
	stats  *xstats.Registry
}

func New(cfg ConfigClient) *Cache {
	return &Cache{tables: make(map[string]*Table), cfg: cfg}
}

// SetStats attaches a metrics registry; nil (the zero value) leaves the
// cache unmeasured, so this is optional and may be called at any time
// before the cache serves traffic.
func (c *Cache) SetStats(s *xstats.Registry) { c.stats = s }

// Get returns the current cached snapshot for ns, or nil if never
// fetched. Callers keep serving this snapshot while a refresh is in
// flight (§4.5 "During refresh the cache keeps serving...").
func (c *Cache) Get(ns string) *Table {
	c.mu.RLock()
	t := c.tables[ns]
	c.mu.RUnlock()
	if c.stats != nil {
		if t != nil {
			c.stats.RoutingCacheHit()
		} else {
			c.stats.RoutingCacheMiss()
		}
	}
	return t
}

// Refresh fetches the latest chunk set for ns from the config server and
// atomically swaps it into the cache. Concurrent callers for the same ns
// share one underlying fetch (singleflight) and all observe its result.
// If the collection's epoch changed, prior state for ns is dropped before
// the swap.
func (c *Cache) Refresh(ctx context.Context, ns string) (*Table, error) {
	v, err, _ := c.group.Do(ns, func() (any, error) {
		epoch, chunks, err := c.cfg.FetchChunks(ctx, ns)
		if err != nil {
			return nil, err
		}
		chunks.SortByMin()
		if err := chunks.ValidatePartition(); err != nil {
			return nil, cos.NewErrIncompatibleShardingMetadata("refreshed chunk set for %s fails I-C1: %v", ns, err)
		}
		t := &Table{Namespace: ns, Epoch: epoch, Chunks: chunks}

		c.mu.Lock()
		prev := c.tables[ns]
		if prev != nil && prev.Epoch != epoch {
			// epoch changed: drop all prior state for ns before the swap (§4.5)
			delete(c.tables, ns)
		}
		c.tables[ns] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

// Invalidate drops the cached snapshot for ns, forcing the next Get/Refresh
// cycle to fetch fresh state (used when a stale-shard-version error names
// a namespace whose epoch has moved on).
func (c *Cache) Invalidate(ns string) {
	c.mu.Lock()
	delete(c.tables, ns)
	c.mu.Unlock()
}
