/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package donor_test

import (
	"context"
	"errors"
	"time"

	"github.com/shardkeep/clustercoord/catalog"
	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"
	"github.com/shardkeep/clustercoord/migration/donor"
	"github.com/shardkeep/clustercoord/routing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fakeRecipient struct {
	caughtUp   bool
	commitErr  error
	startCalls int
}

func (f *fakeRecipient) Start(context.Context, string, meta.ChunkRange, string) error {
	f.startCalls++
	return nil
}
func (f *fakeRecipient) Status(context.Context, string) (donor.RecipientStatus, error) {
	return donor.RecipientStatus{CaughtUp: f.caughtUp}, nil
}
func (f *fakeRecipient) Commit(context.Context, string) error { return f.commitErr }
func (f *fakeRecipient) Abort(context.Context, string) error  { return nil }

type fakeCatalog struct {
	err      error
	onCommit func()
}

func (f *fakeCatalog) CommitMigration(context.Context, string, meta.ChunkRange, meta.Epoch, string, string, time.Time) (*catalog.MigrationResult, error) {
	if f.onCommit != nil {
		f.onCommit()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &catalog.MigrationResult{}, nil
}

type fakeRefresher struct {
	tbl *routing.Table
}

func (f *fakeRefresher) Refresh(context.Context, string) (*routing.Table, error) { return f.tbl, nil }

var _ = Describe("donor machine", func() {
	const ns = "db.coll"
	rng := meta.NewChunkRange(meta.MinKey, meta.MaxKey)
	epoch := meta.NewEpoch()

	It("runs kCreated through kDone on a clean path", func() {
		rec := &fakeRecipient{caughtUp: true}
		m := donor.New(donor.Config{
			Namespace: ns, Range: rng, Epoch: epoch,
			FromShard: "A", ToShard: "B",
			Recipient: rec, Catalog: &fakeCatalog{}, Refresher: &fakeRefresher{},
		})
		err := m.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(m.State()).To(Equal(donor.StateDone))
		Expect(rec.startCalls).To(Equal(1))
	})

	It("fails outright on a non-retriable config-commit error", func() {
		rec := &fakeRecipient{caughtUp: true}
		cat := &fakeCatalog{err: errors.New("boom")}
		m := donor.New(donor.Config{
			Namespace: ns, Range: rng, Epoch: epoch,
			FromShard: "A", ToShard: "B",
			Recipient: rec, Catalog: cat, Refresher: &fakeRefresher{},
		})
		err := m.Run(context.Background())
		Expect(err).To(HaveOccurred())
	})

	It("recovers when a transient config-commit error's refresh shows ownership landed", func() {
		rec := &fakeRecipient{caughtUp: true}
		cat := &fakeCatalog{err: cos.NewErrNetworkTimeout("configsvr")}
		tbl := &routing.Table{Namespace: ns, Epoch: epoch, Chunks: meta.ChunkSet{
			{Namespace: ns, Range: rng, Shard: "B", Version: meta.NewChunkVersion(epoch, 2, 0)},
		}}
		m := donor.New(donor.Config{
			Namespace: ns, Range: rng, Epoch: epoch,
			FromShard: "A", ToShard: "B",
			Recipient: rec, Catalog: cat, Refresher: &fakeRefresher{tbl: tbl},
		})
		err := m.Run(context.Background())
		Expect(err).NotTo(HaveOccurred(), "refresh confirming the ownership change landed should mask the transient commit error")
	})

	It("records in-flight mutations without blocking on clone", func() {
		rec := &fakeRecipient{caughtUp: false}
		m := donor.New(donor.Config{
			Namespace: ns, Range: rng, Epoch: epoch,
			FromShard: "A", ToShard: "B",
			Recipient: rec, Catalog: &fakeCatalog{}, Refresher: &fakeRefresher{},
		})
		m.RecordMutation(donor.MutationReload, []byte("id-1"))
		m.RecordMutation(donor.MutationReload, []byte("id-1"))
		m.RecordMutation(donor.MutationDelete, []byte("id-2"))
		st := m.Status()
		Expect(st.Pending).To(Equal(uint(2)), "duplicate reload id should be deduplicated")
	})

	It("enters and clears the critical section, unblocking a waiter", func() {
		rec := &fakeRecipient{caughtUp: true}
		done := make(chan error, 1)
		var m *donor.Machine
		cat := &fakeCatalog{onCommit: func() {
			// the config commit runs inside the critical section
			Expect(m.InCriticalSection()).To(BeTrue())
			go func() { done <- m.WaitForCriticalSectionClear(context.Background()) }()
			Consistently(done, "50ms").ShouldNot(Receive())
		}}
		m = donor.New(donor.Config{
			Namespace: ns, Range: rng, Epoch: epoch,
			FromShard: "A", ToShard: "B",
			Recipient: rec, Catalog: cat, Refresher: &fakeRefresher{},
		})

		Expect(m.Run(context.Background())).To(Succeed())
		Eventually(done).Should(Receive(BeNil()))
		Expect(m.InCriticalSection()).To(BeFalse())
	})
})
