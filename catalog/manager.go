/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"
	"github.com/shardkeep/clustercoord/cmn/nlog"
	"github.com/shardkeep/clustercoord/cmn/xstats"
	"github.com/shardkeep/clustercoord/config"
	"github.com/shardkeep/clustercoord/hk"
)

// ChangeLogEntry records one committed transition for audit/diagnostics.
// Adapted from the teacher's xaction bookkeeping: every mutating commit
// here publishes one entry instead of registering a long-running xaction,
// since catalog commits complete synchronously.
type ChangeLogEntry struct {
	Op        string // "split" | "multi-split" | "merge" | "migrate" | "history-upgrade" | "history-downgrade"
	Namespace string
	Before    meta.ChunkVersion
	After     meta.ChunkVersion
	When      time.Time
}

// Manager is the chunk catalog manager (C8): the config-server authority
// for chunk-range ownership of every sharded namespace.
type Manager struct {
	store *store
	lock  *chunkOpLock
	stats *xstats.Registry

	// historyRetention bounds how far back a chunk's ownership history is
	// kept on a migration commit (§4.2 "older than validAfter − 10
	// seconds"), sourced from the process-wide config owner.
	historyRetention time.Duration

	changeLogMu sync.Mutex
	changeLog   []ChangeLogEntry
}

// NewManager opens the catalog store and takes the history-retention
// window from the current config snapshot (config.GCO.Get().HistoryRetention).
func NewManager() (*Manager, error) {
	s, err := newStore()
	if err != nil {
		return nil, err
	}
	cfg := config.GCO.Get()
	return &Manager{store: s, lock: newChunkOpLock(), historyRetention: cfg.HistoryRetention}, nil
}

// SetStats attaches a metrics registry; nil (the zero value) leaves
// commits unmeasured.
func (m *Manager) SetStats(s *xstats.Registry) { m.stats = s }

func (m *Manager) Close() error { return m.store.Close() }

func (m *Manager) publish(e ChangeLogEntry) {
	m.changeLogMu.Lock()
	defer m.changeLogMu.Unlock()
	m.changeLog = append(m.changeLog, e)
	nlog.Infof("catalog: %s commit on %s: %s -> %s", e.Op, e.Namespace, e.Before, e.After)
}

// ChangeLog returns a snapshot of every change-log entry published so far.
func (m *Manager) ChangeLog() []ChangeLogEntry {
	m.changeLogMu.Lock()
	defer m.changeLogMu.Unlock()
	out := make([]ChangeLogEntry, len(m.changeLog))
	copy(out, m.changeLog)
	return out
}

// collectionVersion reads the current collection version from the
// persisted chunk set (§4.2 "read the current collection version with a
// local-read-concern query sorted by lastmod descending, limit 1").
func (m *Manager) collectionVersion(ns string) (meta.ChunkVersion, meta.ChunkSet, error) {
	all, err := m.store.All(ns)
	if err != nil {
		return meta.ChunkVersion{}, nil, err
	}
	if len(all) == 0 {
		return meta.Unsharded(), all, nil
	}
	all.SortByMin()
	return all.CollectionVersion(), all, nil
}

// SplitResult is returned by CommitSplit; ShouldMigrate is populated when
// the split produced an edge chunk bordering MinKey or MaxKey (§6
// splitChunk's shouldMigrate hint). The number of documents in that chunk
// is not considered: the catalog holds no document counts.
type SplitResult struct {
	Before, After meta.ChunkVersion
	NewChunks     meta.ChunkSet
	ShouldMigrate *meta.ChunkRange
}

// CommitSplit implements the §4.2 split-commit algorithm.
func (m *Manager) CommitSplit(ctx context.Context, ns string, requestEpoch meta.Epoch, rng meta.ChunkRange, splitPoints []meta.ShardKey, shard string) (result *SplitResult, err error) {
	if m.stats != nil {
		start := time.Now()
		defer func() { m.stats.ObserveCommit("split", time.Since(start).Seconds(), err) }()
	}
	release, err := m.lock.Acquire(ctx, ns)
	if err != nil {
		return nil, err
	}
	defer release()

	v, all, err := m.collectionVersion(ns)
	if err != nil {
		return nil, err
	}
	if v.IsUnsharded() || v.Epoch != requestEpoch {
		return nil, cos.NewErrStaleEpoch(requestEpoch.String(), v.Epoch.String())
	}

	existing, found, err := m.store.Get(ns, rng.Min)
	if err != nil {
		return nil, err
	}
	if !found || !existing.Range.Equal(rng) || existing.Shard != shard {
		return nil, cos.NewErrIncompatibleShardingMetadata("chunk %s/%s no longer matches the requested range/owner", ns, rng)
	}

	if err := validateSplitPoints(rng, splitPoints); err != nil {
		return nil, err
	}

	shardVersion := all.ShardVersion(shard)
	newMajor := v.Major
	if shardVersion.IsSet() && shardVersion.Equal(v) {
		newMajor = v.Major + 1
	}

	boundaries := append(append([]meta.ShardKey{rng.Min}, splitPoints...), rng.Max)
	newChunks := make(meta.ChunkSet, 0, len(boundaries)-1)
	minor := v.Minor
	for i := 0; i < len(boundaries)-1; i++ {
		minor++
		newChunks = append(newChunks, &meta.Chunk{
			Namespace: ns,
			Range:     meta.NewChunkRange(boundaries[i], boundaries[i+1]),
			Shard:     shard,
			Version:   meta.NewChunkVersion(v.Epoch, newMajor, minor),
		})
	}

	pre := []precondition{{ns: ns, min: rng.Min, max: rng.Max, epoch: requestEpoch, shard: shard}}
	var ops []batchOp
	ops = append(ops, batchOp{del: true, delKey: struct {
		ns  string
		min meta.ShardKey
	}{ns: ns, min: rng.Min}})
	for _, c := range newChunks {
		ops = append(ops, batchOp{put: c})
	}
	if err := m.store.applyBatch(pre, ops); err != nil {
		return nil, cos.NewErrIncompatibleShardingMetadata("%v", err)
	}

	after := meta.NewChunkVersion(v.Epoch, newMajor, minor)
	op := "split"
	if len(newChunks) > 2 {
		op = "multi-split"
	}
	m.publish(ChangeLogEntry{Op: op, Namespace: ns, Before: v, After: after, When: time.Now()})

	res := &SplitResult{Before: v, After: after, NewChunks: newChunks}
	if top := topChunkCandidate(newChunks); top != nil {
		res.ShouldMigrate = top
	}
	return res, nil
}

func validateSplitPoints(rng meta.ChunkRange, pts []meta.ShardKey) error {
	if len(pts) == 0 {
		return cos.NewErrInvalidOptions("split requires at least one split point")
	}
	prev := rng.Min
	for i, p := range pts {
		if p.Equal(rng.Min) {
			return cos.NewErrInvalidOptions("split point %d equals range min", i)
		}
		if !rng.Contains(p) {
			return cos.NewErrInvalidOptions("split point %d is not contained in %s", i, rng)
		}
		if i > 0 && !prev.Less(p) {
			return cos.NewErrInvalidOptions("split points must be strictly increasing")
		}
		prev = p
	}
	return nil
}

// topChunkCandidate reports the edge chunk of a split result worth an
// immediate top-chunk migration hint — here, whichever boundary chunk
// borders MinKey/MaxKey, mirroring the teacher-adjacent heuristic that an
// edge chunk produced by an ascending/descending insert pattern is likely
// to be the next hot chunk. Left to the caller (donor) to actually act on.
func topChunkCandidate(chunks meta.ChunkSet) *meta.ChunkRange {
	if len(chunks) == 0 {
		return nil
	}
	first, last := chunks[0], chunks[len(chunks)-1]
	if first.Range.Min.Equal(meta.MinKey) {
		r := first.Range
		return &r
	}
	if last.Range.Max.Equal(meta.MaxKey) {
		r := last.Range
		return &r
	}
	return nil
}

// MergeResult is returned by CommitMerge.
type MergeResult struct {
	Before, After meta.ChunkVersion
	Merged        *meta.Chunk
}

// CommitMerge implements the §4.2 merge-commit algorithm.
func (m *Manager) CommitMerge(ctx context.Context, ns string, requestEpoch meta.Epoch, boundaries []meta.ShardKey, shard string, validAfter *time.Time) (result *MergeResult, err error) {
	if m.stats != nil {
		start := time.Now()
		defer func() { m.stats.ObserveCommit("merge", time.Since(start).Seconds(), err) }()
	}
	release, err := m.lock.Acquire(ctx, ns)
	if err != nil {
		return nil, err
	}
	defer release()

	v, _, err := m.collectionVersion(ns)
	if err != nil {
		return nil, err
	}
	if v.IsUnsharded() || v.Epoch != requestEpoch {
		return nil, cos.NewErrStaleEpoch(requestEpoch.String(), v.Epoch.String())
	}

	if len(boundaries) < 3 {
		return nil, cos.NewErrInvalidOptions("merge requires at least two chunks (3 boundaries), got %d", len(boundaries)-1)
	}
	for i := 1; i < len(boundaries); i++ {
		if !boundaries[i-1].Less(boundaries[i]) {
			return nil, cos.NewErrInvalidOptions("merge boundaries must be strictly increasing")
		}
	}

	n := len(boundaries) - 1
	pre := make([]precondition, 0, n)
	for i := 0; i < n; i++ {
		pre = append(pre, precondition{ns: ns, min: boundaries[i], max: boundaries[i+1], epoch: requestEpoch, shard: shard})
	}

	first, found, err := m.store.Get(ns, boundaries[0])
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cos.NewErrIncompatibleShardingMetadata("chunk %s/%s no longer exists", ns, boundaries[0])
	}

	merged := &meta.Chunk{
		Namespace: ns,
		Range:     meta.NewChunkRange(boundaries[0], boundaries[n]),
		Shard:     shard,
		Version:   meta.NewChunkVersion(v.Epoch, v.Major, v.Minor+1),
		History:   first.History,
	}
	if validAfter != nil {
		if len(merged.History) > 0 && !merged.History[0].ValidAfter.Before(*validAfter) {
			return nil, cos.NewErrIncompatibleShardingMetadata("validAfter %s is not strictly newer than existing history", validAfter)
		}
		merged.PushHistory(*validAfter, shard)
	}

	var ops []batchOp
	ops = append(ops, batchOp{put: merged})
	for i := 1; i < n; i++ {
		ops = append(ops, batchOp{del: true, delKey: struct {
			ns  string
			min meta.ShardKey
		}{ns: ns, min: boundaries[i]}})
	}

	if err := m.store.applyBatch(pre, ops); err != nil {
		return nil, cos.NewErrIncompatibleShardingMetadata("%v", err)
	}

	m.publish(ChangeLogEntry{Op: "merge", Namespace: ns, Before: v, After: merged.Version, When: time.Now()})
	return &MergeResult{Before: v, After: merged.Version, Merged: merged}, nil
}

// MigrationResult is returned by CommitMigration.
type MigrationResult struct {
	Before, After meta.ChunkVersion
	Migrated      *meta.Chunk
	Control       *meta.Chunk
}

// CommitMigration implements the §4.2 migration-commit algorithm.
func (m *Manager) CommitMigration(ctx context.Context, ns string, rng meta.ChunkRange, requestEpoch meta.Epoch, fromShard, toShard string, validAfter time.Time) (result *MigrationResult, err error) {
	if m.stats != nil {
		start := time.Now()
		defer func() { m.stats.ObserveCommit("migrate", time.Since(start).Seconds(), err) }()
	}
	release, err := m.lock.Acquire(ctx, ns)
	if err != nil {
		return nil, err
	}
	defer release()

	v, all, err := m.collectionVersion(ns)
	if err != nil {
		return nil, err
	}
	if v.IsUnsharded() || v.Epoch != requestEpoch {
		return nil, cos.NewErrStaleEpoch(requestEpoch.String(), v.Epoch.String())
	}

	migrated, found, err := m.store.Get(ns, rng.Min)
	if err != nil {
		return nil, err
	}
	if !found || !migrated.Range.Equal(rng) || migrated.Shard != fromShard {
		return nil, cos.NewErrIncompatibleShardingMetadata("migrated chunk %s/%s no longer matches from-shard %s", ns, rng, fromShard)
	}

	newMajor := v.Major + 1
	newMigratedVersion := meta.NewChunkVersion(v.Epoch, newMajor, 0)

	if len(migrated.History) > 0 && !migrated.History[0].ValidAfter.Before(validAfter) {
		return nil, cos.NewErrIncompatibleShardingMetadata("validAfter %s is not strictly newer than existing history", validAfter)
	}

	migratedCopy := *migrated
	migratedCopy.Shard = toShard
	migratedCopy.Version = newMigratedVersion
	migratedCopy.History = append([]meta.HistoryEntry{}, migrated.History...)
	migratedCopy.PushHistory(validAfter, toShard)
	migratedCopy.TrimHistoryOlderThan(validAfter.Add(-m.historyRetention))

	pre := []precondition{{ns: ns, min: rng.Min, max: rng.Max, epoch: requestEpoch, shard: fromShard}}
	ops := []batchOp{{put: &migratedCopy}}

	var control *meta.Chunk
	for _, c := range all {
		if c.Shard == fromShard && !c.Range.Equal(rng) {
			cp := *c
			cp.Version = meta.NewChunkVersion(v.Epoch, newMajor, 1)
			control = &cp
			pre = append(pre, precondition{ns: ns, min: c.Range.Min, max: c.Range.Max, epoch: requestEpoch, shard: fromShard})
			ops = append(ops, batchOp{put: control})
			break
		}
	}

	if err := m.store.applyBatch(pre, ops); err != nil {
		return nil, cos.NewErrIncompatibleShardingMetadata("%v", err)
	}

	m.publish(ChangeLogEntry{Op: "migrate", Namespace: ns, Before: v, After: newMigratedVersion, When: time.Now()})
	return &MigrationResult{Before: v, After: newMigratedVersion, Migrated: &migratedCopy, Control: control}, nil
}

// UpgradeHistory attaches a single-entry history to every chunk of ns that
// lacks one, bumping the collection version once per touched chunk (§4.2).
// Idempotent: chunks that already carry history are left untouched.
func (m *Manager) UpgradeHistory(ctx context.Context, ns string) (int, error) {
	return m.sweepHistory(ctx, ns, func(c *meta.Chunk) bool {
		if len(c.History) > 0 {
			return false
		}
		c.PushHistory(time.Now(), c.Shard)
		return true
	})
}

// DowngradeHistory clears history on every chunk of ns that has one.
func (m *Manager) DowngradeHistory(ctx context.Context, ns string) (int, error) {
	return m.sweepHistory(ctx, ns, func(c *meta.Chunk) bool {
		if len(c.History) == 0 {
			return false
		}
		c.History = nil
		return true
	})
}

func (m *Manager) sweepHistory(ctx context.Context, ns string, mutate func(*meta.Chunk) bool) (int, error) {
	release, err := m.lock.Acquire(ctx, ns)
	if err != nil {
		return 0, err
	}
	defer release()

	all, err := m.store.All(ns)
	if err != nil {
		return 0, err
	}
	cv := all.CollectionVersion()
	touched := 0
	for _, c := range all {
		before := c.Version
		orig := *c
		if !mutate(c) {
			continue
		}
		// each touched chunk takes the next collection version
		cv = cv.WithMinor(cv.Minor + 1)
		c.Version = cv
		pre := []precondition{{ns: ns, min: orig.Range.Min, max: orig.Range.Max, epoch: orig.Version.Epoch, shard: orig.Shard}}
		if err := m.store.applyBatch(pre, []batchOp{{put: c}}); err != nil {
			return touched, cos.NewErrIncompatibleShardingMetadata("%v", err)
		}
		touched++
		op := "history-upgrade"
		if len(c.History) == 0 {
			op = "history-downgrade"
		}
		m.publish(ChangeLogEntry{Op: op, Namespace: ns, Before: before, After: c.Version, When: time.Now()})
	}
	return touched, nil
}

// ClusterIdentity is the catalog's self-description, analogous to the
// teacher's cluster-map snapshot: the set of namespaces it currently
// tracks and their collection versions.
type ClusterIdentity struct {
	Namespaces map[string]meta.ChunkVersion
}

func (m *Manager) ClusterIdentity(namespaces []string) (*ClusterIdentity, error) {
	id := &ClusterIdentity{Namespaces: make(map[string]meta.ChunkVersion, len(namespaces))}
	for _, ns := range namespaces {
		v, _, err := m.collectionVersion(ns)
		if err != nil {
			return nil, err
		}
		id.Namespaces[ns] = v
	}
	return id, nil
}

// Status is a point-in-time diagnostic snapshot of one namespace's
// partition, used by operator tooling and tests.
type Status struct {
	Namespace string
	Version   meta.ChunkVersion
	Chunks    meta.ChunkSet
	Partition error // non-nil if I-C1 currently fails to hold
}

func (m *Manager) Status(ns string) (*Status, error) {
	all, err := m.store.All(ns)
	if err != nil {
		return nil, err
	}
	all.SortByMin()
	st := &Status{Namespace: ns, Version: all.CollectionVersion(), Chunks: all}
	st.Partition = all.ValidatePartition()
	return st, nil
}

// WatchPartitionInvariant registers a periodic housekeeping sweep that
// re-validates I-C1 for ns, logging a warning if it ever fails to hold
// (it never should, given atomic commits — this is a diagnostic
// belt-and-suspenders check, not a corrective action).
func (m *Manager) WatchPartitionInvariant(ns string, interval time.Duration) {
	hk.DefaultHK.Register("catalog-partition-"+ns, func() time.Duration {
		st, err := m.Status(ns)
		if err != nil {
			nlog.Errorf("catalog: partition sweep for %s: %v", ns, err)
			return interval
		}
		if st.Partition != nil {
			nlog.Errorf("catalog: I-C1 violated for %s: %v", ns, st.Partition)
		}
		return interval
	}, interval)
}

// Seed installs an initial, already-partitioned chunk set for ns — used
// by tests and by the one-time enableSharding bootstrap path (§6
// _configsvrEnableSharding), bypassing the commit algorithms since there
// is no prior version to precondition against.
func (m *Manager) Seed(ns string, chunks meta.ChunkSet) error {
	chunks.SortByMin()
	if err := chunks.ValidatePartition(); err != nil {
		return fmt.Errorf("cannot seed an invalid partition: %w", err)
	}
	ops := make([]batchOp, 0, len(chunks))
	for _, c := range chunks {
		ops = append(ops, batchOp{put: c})
	}
	return m.store.applyBatch(nil, ops)
}
