/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package catalog_test

import (
	"context"
	"time"

	"github.com/shardkeep/clustercoord/catalog"
	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func sk(s string) meta.ShardKey { return meta.NewShardKey([]byte(s)) }

func newSeededManager(ns string, epoch meta.Epoch, shard string) *catalog.Manager {
	m, err := catalog.NewManager()
	Expect(err).NotTo(HaveOccurred())
	chunk := &meta.Chunk{
		Namespace: ns,
		Range:     meta.FullRange(),
		Shard:     shard,
		Version:   meta.NewChunkVersion(epoch, 1, 0),
	}
	Expect(m.Seed(ns, meta.ChunkSet{chunk})).To(Succeed())
	return m
}

var _ = Describe("split commit", func() {
	const ns = "db.coll"
	var (
		m     *catalog.Manager
		epoch meta.Epoch
		ctx   context.Context
	)

	BeforeEach(func() {
		epoch = meta.NewEpoch()
		m = newSeededManager(ns, epoch, "shardA")
		ctx = context.Background()
	})

	It("rejects a split against a stale epoch", func() {
		_, err := m.CommitSplit(ctx, ns, meta.NewEpoch(), meta.FullRange(), []meta.ShardKey{sk("m")}, "shardA")
		Expect(err).To(HaveOccurred())
		Expect(cos.ErrKind(err)).To(Equal(cos.KindStaleView))
	})

	It("splits one chunk into k+1 pieces, preserving partition and bumping the major version", func() {
		res, err := m.CommitSplit(ctx, ns, epoch, meta.FullRange(), []meta.ShardKey{sk("d"), sk("m"), sk("t")}, "shardA")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.NewChunks).To(HaveLen(4))
		Expect(res.After.Major).To(Equal(res.Before.Major + 1))

		st, err := m.Status(ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Partition).NotTo(HaveOccurred())
		Expect(st.Chunks).To(HaveLen(4))
	})

	It("rejects a split point equal to the range minimum", func() {
		_, err := m.CommitSplit(ctx, ns, epoch, meta.FullRange(), []meta.ShardKey{meta.MinKey}, "shardA")
		Expect(err).To(HaveOccurred())
	})

	It("rejects an empty split-point list", func() {
		_, err := m.CommitSplit(ctx, ns, epoch, meta.FullRange(), nil, "shardA")
		Expect(err).To(HaveOccurred())
	})

	It("fails the precondition on replay after the range has already changed", func() {
		_, err := m.CommitSplit(ctx, ns, epoch, meta.FullRange(), []meta.ShardKey{sk("m")}, "shardA")
		Expect(err).NotTo(HaveOccurred())

		_, err = m.CommitSplit(ctx, ns, epoch, meta.FullRange(), []meta.ShardKey{sk("m")}, "shardA")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("merge commit", func() {
	const ns = "db.coll"
	var (
		m     *catalog.Manager
		epoch meta.Epoch
		ctx   context.Context
	)

	BeforeEach(func() {
		epoch = meta.NewEpoch()
		var err error
		m, err = catalog.NewManager()
		Expect(err).NotTo(HaveOccurred())
		chunks := meta.ChunkSet{
			{Namespace: ns, Range: meta.NewChunkRange(meta.MinKey, sk("d")), Shard: "shardA", Version: meta.NewChunkVersion(epoch, 1, 0)},
			{Namespace: ns, Range: meta.NewChunkRange(sk("d"), sk("m")), Shard: "shardA", Version: meta.NewChunkVersion(epoch, 1, 1)},
			{Namespace: ns, Range: meta.NewChunkRange(sk("m"), meta.MaxKey), Shard: "shardA", Version: meta.NewChunkVersion(epoch, 1, 2)},
		}
		Expect(m.Seed(ns, chunks)).To(Succeed())
		ctx = context.Background()
	})

	It("merges two contiguous chunks into one, preserving partition", func() {
		res, err := m.CommitMerge(ctx, ns, epoch, []meta.ShardKey{meta.MinKey, sk("d"), sk("m")}, "shardA", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Merged.Range).To(Equal(meta.NewChunkRange(meta.MinKey, sk("m"))))

		st, err := m.Status(ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Partition).NotTo(HaveOccurred())
		Expect(st.Chunks).To(HaveLen(2))
	})

	It("rejects a merge of fewer than two chunks", func() {
		_, err := m.CommitMerge(ctx, ns, epoch, []meta.ShardKey{meta.MinKey, sk("d")}, "shardA", nil)
		Expect(err).To(HaveOccurred())
	})

	It("records validAfter history when provided", func() {
		now := time.Now()
		res, err := m.CommitMerge(ctx, ns, epoch, []meta.ShardKey{meta.MinKey, sk("d"), sk("m")}, "shardA", &now)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Merged.History).To(HaveLen(1))
		Expect(res.Merged.History[0].ValidAfter).To(BeTemporally("~", now))
	})
})

var _ = Describe("migration commit", func() {
	const ns = "db.coll"
	var (
		m     *catalog.Manager
		epoch meta.Epoch
		rng   meta.ChunkRange
		ctx   context.Context
	)

	BeforeEach(func() {
		epoch = meta.NewEpoch()
		rng = meta.NewChunkRange(sk("d"), sk("m"))
		var err error
		m, err = catalog.NewManager()
		Expect(err).NotTo(HaveOccurred())
		chunks := meta.ChunkSet{
			{Namespace: ns, Range: meta.NewChunkRange(meta.MinKey, sk("d")), Shard: "shardA", Version: meta.NewChunkVersion(epoch, 1, 0)},
			{Namespace: ns, Range: rng, Shard: "shardA", Version: meta.NewChunkVersion(epoch, 1, 1)},
			{Namespace: ns, Range: meta.NewChunkRange(sk("m"), meta.MaxKey), Shard: "shardB", Version: meta.NewChunkVersion(epoch, 1, 2)},
		}
		Expect(m.Seed(ns, chunks)).To(Succeed())
		ctx = context.Background()
	})

	It("co-bumps the migrated chunk and a control chunk on the donor after commit", func() {
		res, err := m.CommitMigration(ctx, ns, rng, epoch, "shardA", "shardB", time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Migrated.Shard).To(Equal("shardB"))
		Expect(res.Migrated.Version.Major).To(Equal(uint32(2)))
		Expect(res.Migrated.Version.Minor).To(Equal(uint32(0)))
		Expect(res.Control).NotTo(BeNil())
		Expect(res.Control.Shard).To(Equal("shardA"))
		Expect(res.Control.Version.Major).To(Equal(uint32(2)))
		Expect(res.Control.Version.Minor).To(Equal(uint32(1)))

		st, err := m.Status(ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Partition).NotTo(HaveOccurred())
	})

	It("rejects a migration commit against a stale epoch", func() {
		_, err := m.CommitMigration(ctx, ns, rng, meta.NewEpoch(), "shardA", "shardB", time.Now())
		Expect(err).To(HaveOccurred())
		Expect(cos.ErrKind(err)).To(Equal(cos.KindStaleView))
	})

	It("rejects a migration whose chunk no longer matches the donor", func() {
		_, err := m.CommitMigration(ctx, ns, rng, epoch, "shardB", "shardA", time.Now())
		Expect(err).To(HaveOccurred())
	})

	It("succeeds once then fails identically on naive replay (exactly-once commit)", func() {
		when := time.Now()
		_, err := m.CommitMigration(ctx, ns, rng, epoch, "shardA", "shardB", when)
		Expect(err).NotTo(HaveOccurred())

		_, err = m.CommitMigration(ctx, ns, rng, epoch, "shardA", "shardB", when)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("history upgrade/downgrade sweeps", func() {
	const ns = "db.coll"

	It("round-trips: upgrade attaches history, downgrade clears it, versions strictly advance", func() {
		epoch := meta.NewEpoch()
		m, err := catalog.NewManager()
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Seed(ns, meta.ChunkSet{
			{Namespace: ns, Range: meta.FullRange(), Shard: "shardA", Version: meta.NewChunkVersion(epoch, 1, 0)},
		})).To(Succeed())

		ctx := context.Background()
		n, err := m.UpgradeHistory(ctx, ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		st, err := m.Status(ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Chunks[0].History).To(HaveLen(1))
		v1 := st.Chunks[0].Version

		n, err = m.UpgradeHistory(ctx, ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0), "a second upgrade sweep is a no-op")

		n, err = m.DowngradeHistory(ctx, ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		st, err = m.Status(ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Chunks[0].History).To(BeEmpty())
		Expect(v1.Less(st.Chunks[0].Version)).To(BeTrue())
	})
})
