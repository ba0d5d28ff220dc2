/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package catalog

import (
	"context"
	"sync"

	"github.com/shardkeep/clustercoord/cmn/cos"
	"github.com/shardkeep/clustercoord/cmn/debug"
)

// chunkOpLock serializes commit operations on one collection (§4.2
// "_kChunkOpLock"). The spec allows a coarser per-process exclusive lock;
// we refine to per-collection, which is strictly less contention without
// losing correctness (ownership transitions on different collections
// never interact).
type chunkOpLock struct {
	mu    sync.Mutex
	byNS  map[string]chan struct{} // acts as a 1-buffered mutex per ns
	byNSm sync.Mutex
}

func newChunkOpLock() *chunkOpLock {
	return &chunkOpLock{byNS: make(map[string]chan struct{})}
}

func (l *chunkOpLock) chanFor(ns string) chan struct{} {
	debug.Assert(ns != "", "chunk-op lock requires a non-empty namespace")
	l.byNSm.Lock()
	defer l.byNSm.Unlock()
	ch, ok := l.byNS[ns]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		l.byNS[ns] = ch
	}
	debug.Assert(cap(ch) == 1, "chunk-op lock channel must be 1-buffered")
	return ch
}

// Acquire blocks (bounded by ctx) until the per-collection lock is held,
// returning a release function. On ctx cancellation it returns
// ErrExceededTimeLimit / Interrupted without leaving the lock held.
func (l *chunkOpLock) Acquire(ctx context.Context, ns string) (func(), error) {
	ch := l.chanFor(ns)
	select {
	case <-ch:
		return func() {
			// a double release would block forever on a 1-buffered
			// channel instead of corrupting state, but catch it here
			// while it's still a single-line invariant to state.
			debug.Assert(len(ch) == 0, "chunk-op lock released twice for "+ns)
			ch <- struct{}{}
		}, nil
	case <-ctx.Done():
		return nil, cos.NewErrExceededTimeLimit("chunk-op lock for " + ns)
	}
}
