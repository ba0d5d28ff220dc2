/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package recipient_test

import (
	"context"
	"sync"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/migration/recipient"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fakeDonor struct {
	mu        sync.Mutex
	docBatch  [][]byte
	cloneDone bool
	mods      [][]byte
	modsDone  bool

	// block, if non-nil, is read once per MigrateClone call, letting a test
	// hold the clone phase open indefinitely without a busy-spin.
	block chan struct{}
}

func (f *fakeDonor) MigrateClone(ctx context.Context, _ string, _ []byte) ([][]byte, []byte, bool, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, nil, false, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docBatch, nil, f.cloneDone, nil
}

func (f *fakeDonor) TransferMods(context.Context, string) ([][]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mods, f.modsDone, nil
}

type recordingApplier struct {
	mu   sync.Mutex
	docs int
	mods int
}

func (a *recordingApplier) ApplyDoc(context.Context, string, []byte) error {
	a.mu.Lock()
	a.docs++
	a.mu.Unlock()
	return nil
}

func (a *recordingApplier) ApplyMod(context.Context, string, []byte) error {
	a.mu.Lock()
	a.mods++
	a.mu.Unlock()
	return nil
}

var _ = Describe("recipient machine", func() {
	It("pulls the initial clone batch then drains mods to caught-up", func() {
		d := &fakeDonor{docBatch: [][]byte{[]byte("a"), []byte("b")}, cloneDone: true, modsDone: true}
		a := &recordingApplier{}
		m := recipient.New(d, a)

		token, err := m.RecvChunkStart(context.Background(), "sess-1", "db.coll", meta.FullRange(), "shardA")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())

		Eventually(func() bool {
			caughtUp, _, _, _, err := m.RecvChunkStatus("sess-1")
			Expect(err).NotTo(HaveOccurred())
			return caughtUp
		}).Should(BeTrue())

		a.mu.Lock()
		defer a.mu.Unlock()
		Expect(a.docs).To(Equal(2))
	})

	It("commits only after reaching caught-up, applying the final mod tail", func() {
		d := &fakeDonor{docBatch: nil, cloneDone: true, modsDone: true}
		a := &recordingApplier{}
		m := recipient.New(d, a)
		_, err := m.RecvChunkStart(context.Background(), "sess-2", "db.coll", meta.FullRange(), "shardA")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() bool {
			caughtUp, _, _, _, _ := m.RecvChunkStatus("sess-2")
			return caughtUp
		}).Should(BeTrue())

		Expect(m.RecvChunkCommit(context.Background(), "sess-2")).To(Succeed())
		caughtUp, appliedTail, _, _, err := m.RecvChunkStatus("sess-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(caughtUp).To(BeTrue())
		Expect(appliedTail).To(BeTrue())
	})

	It("rejects a commit attempted before catch-up", func() {
		d := &fakeDonor{block: make(chan struct{})} // never released: clone never completes
		a := &recordingApplier{}
		m := recipient.New(d, a)
		_, err := m.RecvChunkStart(context.Background(), "sess-3", "db.coll", meta.FullRange(), "shardA")
		Expect(err).NotTo(HaveOccurred())

		err = m.RecvChunkCommit(context.Background(), "sess-3")
		Expect(err).To(HaveOccurred())
	})

	It("aborts a session so later status lookups fail", func() {
		d := &fakeDonor{docBatch: nil, cloneDone: true, modsDone: true}
		a := &recordingApplier{}
		m := recipient.New(d, a)
		_, err := m.RecvChunkStart(context.Background(), "sess-4", "db.coll", meta.FullRange(), "shardA")
		Expect(err).NotTo(HaveOccurred())

		m.RecvChunkAbort("sess-4")
		_, _, _, _, err = m.RecvChunkStatus("sess-4")
		Expect(err).To(HaveOccurred())
	})
})
