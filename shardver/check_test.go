/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package shardver

import (
	"context"
	"testing"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"
)

const ns = "db.coll"

func TestSkippedForDirectClient(t *testing.T) {
	c := New()
	err := c.Check(context.Background(), Request{Namespace: ns, Expected: meta.NewChunkVersion(meta.NewEpoch(), 1, 0), DirectClient: true})
	if err != nil {
		t.Fatalf("direct-client request should skip the check: %v", err)
	}
}

func TestSkippedForIgnored(t *testing.T) {
	c := New()
	err := c.Check(context.Background(), Request{Namespace: ns, Expected: meta.Ignored(), IsPrimary: true})
	if err != nil {
		t.Fatalf("IGNORED expected version should skip the check: %v", err)
	}
}

func TestEqualVersionsOK(t *testing.T) {
	e := meta.NewEpoch()
	v := meta.NewChunkVersion(e, 1, 0)
	c := New()
	c.SetFiltered(ns, v)
	if err := c.Check(context.Background(), Request{Namespace: ns, Expected: v, IsPrimary: true}); err != nil {
		t.Fatalf("equal versions should pass: %v", err)
	}
}

func TestDifferentEpochIsStaleEpoch(t *testing.T) {
	e1, e2 := meta.NewEpoch(), meta.NewEpoch()
	c := New()
	c.SetFiltered(ns, meta.NewChunkVersion(e1, 1, 0))
	err := c.Check(context.Background(), Request{Namespace: ns, Expected: meta.NewChunkVersion(e2, 1, 0), IsPrimary: true})
	if err == nil || cos.ErrKind(err) != cos.KindStaleView {
		t.Fatalf("expected StaleEpoch, got %v", err)
	}
}

func TestActualSetExpectedUnsetIsStaleConfig(t *testing.T) {
	c := New()
	c.SetFiltered(ns, meta.NewChunkVersion(meta.NewEpoch(), 1, 0))
	err := c.Check(context.Background(), Request{Namespace: ns, Expected: meta.Unsharded(), IsPrimary: true})
	if err == nil {
		t.Fatalf("expected StaleConfig, got nil")
	}
}

func TestDifferingMajorIsStaleConfig(t *testing.T) {
	e := meta.NewEpoch()
	c := New()
	c.SetFiltered(ns, meta.NewChunkVersion(e, 2, 0))
	err := c.Check(context.Background(), Request{Namespace: ns, Expected: meta.NewChunkVersion(e, 1, 0), IsPrimary: true})
	if err == nil {
		t.Fatalf("expected StaleConfig for differing major, got nil")
	}
}

type fakeCritSec struct {
	active  bool
	cleared chan struct{}
}

func (f *fakeCritSec) InCriticalSection() bool { return f.active }
func (f *fakeCritSec) WaitForCriticalSectionClear(ctx context.Context) error {
	select {
	case <-f.cleared:
		f.active = false
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestFailsFastDuringCriticalSectionByDefault(t *testing.T) {
	e := meta.NewEpoch()
	v := meta.NewChunkVersion(e, 1, 0)
	c := New()
	c.SetFiltered(ns, v)
	c.RegisterCriticalSection(ns, &fakeCritSec{active: true})

	err := c.Check(context.Background(), Request{Namespace: ns, Expected: v, IsPrimary: true})
	if err == nil || cos.ErrKind(err) != cos.KindTransient {
		t.Fatalf("expected LockBusy (transient), got %v", err)
	}
}

func TestWaitsForCriticalSectionWhenAsked(t *testing.T) {
	e := meta.NewEpoch()
	v := meta.NewChunkVersion(e, 1, 0)
	c := New()
	c.SetFiltered(ns, v)
	cs := &fakeCritSec{active: true, cleared: make(chan struct{})}
	c.RegisterCriticalSection(ns, cs)

	go func() {
		time.Sleep(5 * time.Millisecond)
		close(cs.cleared)
	}()

	if err := c.Check(context.Background(), Request{Namespace: ns, Expected: v, IsPrimary: true, Wait: true}); err != nil {
		t.Fatalf("expected the check to succeed once the critical section clears: %v", err)
	}
}

func TestSetShardVersionRequestsAuthoritativeOnFirstInit(t *testing.T) {
	c := New()
	res := c.SetShardVersion(SetShardVersionArgs{Namespace: ns, Version: meta.NewChunkVersion(meta.NewEpoch(), 1, 0), Init: true})
	if !res.NeedAuthoritative {
		t.Fatalf("expected NeedAuthoritative on first init without the authoritative flag")
	}
}

func TestSetShardVersionAcceptsAuthoritativeInit(t *testing.T) {
	c := New()
	res := c.SetShardVersion(SetShardVersionArgs{Namespace: ns, Version: meta.NewChunkVersion(meta.NewEpoch(), 1, 0), Init: true, Authoritative: true})
	if !res.OK {
		t.Fatalf("expected an authoritative init to succeed")
	}
}
