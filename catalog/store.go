// Package catalog implements the chunk catalog manager (§3/§4.2 C8): the
// config-server authority for the ordered partitioning of every sharded
// collection, committing split/merge/migrate transitions atomically and
// monotonically under a per-collection lock.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package catalog

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"
	"github.com/tidwall/buntdb"
)

// store backs config.chunks with an embedded ordered key-value store
// (buntdb): an in-memory B-tree index over (ns, min) gives O(log n)
// precondition checks and ordered iteration for merge/split commits
// without standing up an external database.
type store struct {
	db *buntdb.DB
}

func newStore() (*store, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

func (s *store) Close() error { return s.db.Close() }

// chunkDoc is the on-disk wire shape of a persisted chunk record (§6):
// ns, min, max, shard, lastmod (epoch+major+minor), jumbo?, history[].
// Encoded with the generated MarshalMsg/UnmarshalMsg pair in
// store_gen.go rather than encoding/json: chunk records are read and
// rewritten on every split/merge/migrate commit, and lastmod packing in
// particular is on that hot path.
type chunkDoc struct {
	Namespace string              `json:"ns"`
	MinRaw    []byte              `json:"min"`
	MinSent   int8                `json:"minSent"`
	MaxRaw    []byte              `json:"max"`
	MaxSent   int8                `json:"maxSent"`
	Shard     string              `json:"shard"`
	Epoch     string              `json:"epoch"`
	Major     uint32              `json:"major"`
	Minor     uint32              `json:"minor"`
	Jumbo     bool                `json:"jumbo,omitempty"`
	History   []historyDoc        `json:"history,omitempty"`
}

type historyDoc struct {
	ValidAfter time.Time `json:"validAfter"`
	Shard      string    `json:"shard"`
}

func keyOf(ns string, min meta.ShardKey) string {
	return "c/" + ns + "/" + hex.EncodeToString(min.SortKey())
}

func nsPrefix(ns string) string { return "c/" + ns + "/" }

func toDoc(c *meta.Chunk) chunkDoc {
	d := chunkDoc{
		Namespace: c.Namespace,
		Shard:     c.Shard,
		Epoch:     c.Version.Epoch.String(),
		Major:     c.Version.Major,
		Minor:     c.Version.Minor,
		Jumbo:     c.Jumbo,
	}
	d.MinRaw, d.MinSent = shardKeyParts(c.Range.Min)
	d.MaxRaw, d.MaxSent = shardKeyParts(c.Range.Max)
	for _, h := range c.History {
		d.History = append(d.History, historyDoc{ValidAfter: h.ValidAfter, Shard: h.Shard})
	}
	return d
}

func shardKeyParts(k meta.ShardKey) ([]byte, int8) {
	switch {
	case k.Equal(meta.MinKey):
		return nil, -1
	case k.Equal(meta.MaxKey):
		return nil, 1
	default:
		return k.Raw, 0
	}
}

func shardKeyFromParts(raw []byte, sent int8) meta.ShardKey {
	switch sent {
	case -1:
		return meta.MinKey
	case 1:
		return meta.MaxKey
	default:
		return meta.NewShardKey(raw)
	}
}

func fromDoc(d chunkDoc) (*meta.Chunk, error) {
	var epoch meta.Epoch
	raw, err := hex.DecodeString(d.Epoch)
	if err != nil || len(raw) != len(epoch) {
		return nil, fmt.Errorf("corrupt epoch in chunk doc for %s: %q", d.Namespace, d.Epoch)
	}
	copy(epoch[:], raw)
	c := &meta.Chunk{
		Namespace: d.Namespace,
		Range:     meta.ChunkRange{Min: shardKeyFromParts(d.MinRaw, d.MinSent), Max: shardKeyFromParts(d.MaxRaw, d.MaxSent)},
		Shard:     d.Shard,
		Version:   meta.NewChunkVersion(epoch, d.Major, d.Minor),
		Jumbo:     d.Jumbo,
	}
	for _, h := range d.History {
		c.History = append(c.History, meta.HistoryEntry{ValidAfter: h.ValidAfter, Shard: h.Shard})
	}
	return c, nil
}

// Get returns the chunk currently persisted at (ns, min), if any.
func (s *store) Get(ns string, min meta.ShardKey) (*meta.Chunk, bool, error) {
	var chunk *meta.Chunk
	found := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(keyOf(ns, min))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var d chunkDoc
		if _, err := d.UnmarshalMsg([]byte(val)); err != nil {
			return cos.WrapErr(err, "decoding chunk doc for %s/%s", ns, min)
		}
		chunk, err = fromDoc(d)
		found = err == nil
		return err
	})
	return chunk, found, err
}

// All returns every chunk of ns, ordered by Min (buntdb stores keys in
// lexicographic order, and keyOf encodes Min as its SortKey).
func (s *store) All(ns string) (meta.ChunkSet, error) {
	var out meta.ChunkSet
	prefix := nsPrefix(ns)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, val string) bool {
			var d chunkDoc
			if _, err := d.UnmarshalMsg([]byte(val)); err != nil {
				return true
			}
			c, err := fromDoc(d)
			if err == nil {
				out = append(out, c)
			}
			return true
		})
	})
	return out, err
}

// precondition describes the expected current state of a chunk row
// before a mutating operation may proceed (§4.2 "Emit a compare-and-set
// batch ... with a precondition").
type precondition struct {
	ns    string
	min   meta.ShardKey
	max   meta.ShardKey
	epoch meta.Epoch
	shard string
}

func (p precondition) matches(c *meta.Chunk) bool {
	return c != nil &&
		c.Namespace == p.ns &&
		c.Range.Min.Equal(p.min) &&
		c.Range.Max.Equal(p.max) &&
		c.Version.Epoch == p.epoch &&
		c.Shard == p.shard
}

// batchOp is either a put or a delete, applied after every precondition in
// the batch is verified to hold (§4.2, §7 "the cluster's metadata is
// either fully pre-commit or fully post-commit — never partial").
type batchOp struct {
	del    bool
	put    *meta.Chunk
	delKey struct {
		ns  string
		min meta.ShardKey
	}
}

// applyBatch verifies every precondition, then applies every op, inside
// one buntdb transaction — an atomic compare-and-set batch.
func (s *store) applyBatch(preconds []precondition, ops []batchOp) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, p := range preconds {
			val, err := tx.Get(keyOf(p.ns, p.min))
			if err == buntdb.ErrNotFound {
				return fmt.Errorf("precondition failed: %s/%s no longer exists", p.ns, p.min)
			}
			if err != nil {
				return cos.WrapErr(err, "reading chunk doc for %s/%s", p.ns, p.min)
			}
			var d chunkDoc
			if _, err := d.UnmarshalMsg([]byte(val)); err != nil {
				return cos.WrapErr(err, "decoding chunk doc for %s/%s", p.ns, p.min)
			}
			cur, err := fromDoc(d)
			if err != nil {
				return cos.WrapErr(err, "reconstructing chunk for %s/%s", p.ns, p.min)
			}
			if !p.matches(cur) {
				return fmt.Errorf("precondition failed: %s/%s has changed", p.ns, p.min)
			}
		}
		for _, op := range ops {
			if op.del {
				_, err := tx.Delete(keyOf(op.delKey.ns, op.delKey.min))
				if err != nil && err != buntdb.ErrNotFound {
					return err
				}
				continue
			}
			d := toDoc(op.put)
			b, err := d.MarshalMsg(nil)
			if err != nil {
				return cos.WrapErr(err, "encoding chunk doc for %s/%s", op.put.Namespace, op.put.Range.Min)
			}
			if _, _, err := tx.Set(keyOf(op.put.Namespace, op.put.Range.Min), string(b), nil); err != nil {
				return err
			}
		}
		return nil
	})
}
