/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package routing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shardkeep/clustercoord/cluster/meta"
)

type fakeConfigClient struct {
	epoch  meta.Epoch
	chunks meta.ChunkSet
	calls  int32
}

func (f *fakeConfigClient) FetchChunks(context.Context, string) (meta.Epoch, meta.ChunkSet, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.epoch, f.chunks, nil
}

func key(s string) meta.ShardKey { return meta.NewShardKey([]byte(s)) }

func TestRefreshPopulatesAndServes(t *testing.T) {
	e := meta.NewEpoch()
	fc := &fakeConfigClient{epoch: e, chunks: meta.ChunkSet{
		{Namespace: "db.coll", Range: meta.NewChunkRange(meta.MinKey, key("m")), Shard: "A", Version: meta.NewChunkVersion(e, 1, 0)},
		{Namespace: "db.coll", Range: meta.NewChunkRange(key("m"), meta.MaxKey), Shard: "B", Version: meta.NewChunkVersion(e, 1, 1)},
	}}
	c := New(fc)
	if c.Get("db.coll") != nil {
		t.Fatalf("expected nothing cached before first refresh")
	}
	tbl, err := c.Refresh(context.Background(), "db.coll")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if shard, ok := tbl.ShardFor(key("a")); !ok || shard != "A" {
		t.Fatalf("expected shard A for key a, got %s ok=%v", shard, ok)
	}
	if shard, ok := tbl.ShardFor(key("z")); !ok || shard != "B" {
		t.Fatalf("expected shard B for key z, got %s ok=%v", shard, ok)
	}
}

func TestConcurrentRefreshCoalesces(t *testing.T) {
	e := meta.NewEpoch()
	fc := &fakeConfigClient{epoch: e, chunks: meta.ChunkSet{
		{Namespace: "db.coll", Range: meta.FullRange(), Shard: "A", Version: meta.NewChunkVersion(e, 1, 0)},
	}}
	c := New(fc)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Refresh(context.Background(), "db.coll")
			if err != nil {
				t.Errorf("refresh: %v", err)
			}
		}()
	}
	wg.Wait()
	if fc.calls == 0 {
		t.Fatalf("expected at least one underlying fetch")
	}
	if fc.calls == 20 {
		t.Fatalf("expected singleflight to coalesce concurrent refreshes, got %d calls for 20 concurrent callers", fc.calls)
	}
}

func TestEpochChangeDropsPriorState(t *testing.T) {
	e1, e2 := meta.NewEpoch(), meta.NewEpoch()
	fc := &fakeConfigClient{epoch: e1, chunks: meta.ChunkSet{
		{Namespace: "db.coll", Range: meta.FullRange(), Shard: "A", Version: meta.NewChunkVersion(e1, 1, 0)},
	}}
	c := New(fc)
	if _, err := c.Refresh(context.Background(), "db.coll"); err != nil {
		t.Fatal(err)
	}

	fc.epoch = e2
	fc.chunks = meta.ChunkSet{
		{Namespace: "db.coll", Range: meta.FullRange(), Shard: "B", Version: meta.NewChunkVersion(e2, 1, 0)},
	}
	tbl, err := c.Refresh(context.Background(), "db.coll")
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Epoch != e2 {
		t.Fatalf("expected new epoch to take effect")
	}
	if shard, _ := tbl.ShardFor(key("x")); shard != "B" {
		t.Fatalf("expected prior epoch's state fully replaced, got shard %s", shard)
	}
}

func TestInvalidPartitionRejected(t *testing.T) {
	e := meta.NewEpoch()
	fc := &fakeConfigClient{epoch: e, chunks: meta.ChunkSet{
		{Namespace: "db.coll", Range: meta.NewChunkRange(meta.MinKey, key("m")), Shard: "A", Version: meta.NewChunkVersion(e, 1, 0)},
		// gap: missing [m, MaxKey)
	}}
	c := New(fc)
	if _, err := c.Refresh(context.Background(), "db.coll"); err == nil {
		t.Fatalf("expected refresh to reject a chunk set that fails I-C1")
	}
}
