// Package shardver implements the per-request shard-version check (§4.4):
// every command targeting a sharded collection carries an
// expectedShardVersion, checked against this shard's currently filtered
// metadata before the command is allowed to proceed.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package shardver

import (
	"context"
	"sync"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"
	"github.com/shardkeep/clustercoord/config"
)

// CriticalSectionSource reports whether a migration is currently holding
// the donor's critical section for a namespace, and lets a caller wait for
// it to clear. *donor.Machine satisfies this.
type CriticalSectionSource interface {
	InCriticalSection() bool
	WaitForCriticalSectionClear(ctx context.Context) error
}

// Request describes one incoming command's versioning context.
type Request struct {
	Namespace    string
	Expected     meta.ChunkVersion
	DirectClient bool
	IsPrimary    bool
	// Wait, if true, tells Check to block on an active critical section
	// (attach-and-retry) instead of failing fast. Used by callers that can
	// afford to wait rather than immediately surfacing LockBusy.
	Wait bool
}

// Checker holds this shard's currently-filtered version per namespace and
// any active migration's critical-section source.
type Checker struct {
	mu      sync.RWMutex
	actual  map[string]meta.ChunkVersion
	critSec map[string]CriticalSectionSource

	// critSecWait bounds how long Check will wait on an active migration's
	// critical-section signal before giving up (§5 "may block on the
	// critsec signal for up to a bounded timeout (default 10 s)"), sourced
	// from the process-wide config owner rather than hardcoded so it can
	// be tuned per-deployment like every other §9 timeout.
	critSecWait time.Duration
}

// New builds a Checker using the critical-section wait budget from the
// current config snapshot (config.GCO.Get().Timeout.ShardVersionCritSecWait).
func New() *Checker {
	cfg := config.GCO.Get()
	return &Checker{
		actual:      make(map[string]meta.ChunkVersion),
		critSec:     make(map[string]CriticalSectionSource),
		critSecWait: cfg.Timeout.ShardVersionCritSecWait,
	}
}

// SetFiltered installs this shard's current filtered version for ns —
// called whenever a commit or refresh changes what this shard believes it
// owns.
func (c *Checker) SetFiltered(ns string, v meta.ChunkVersion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actual[ns] = v
}

func (c *Checker) filtered(ns string) meta.ChunkVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.actual[ns]
	if !ok {
		return meta.Unsharded()
	}
	return v
}

// RegisterCriticalSection associates an active migration's critical-section
// source with ns, so Check can fail-fast (or wait) while it's engaged.
func (c *Checker) RegisterCriticalSection(ns string, src CriticalSectionSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.critSec[ns] = src
}

func (c *Checker) UnregisterCriticalSection(ns string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.critSec, ns)
}

func (c *Checker) criticalSection(ns string) CriticalSectionSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.critSec[ns]
}

// Check implements the §4.4 algorithm, steps 1-5.
func (c *Checker) Check(ctx context.Context, req Request) error {
	if req.DirectClient || !req.IsPrimary { // step 1
		return nil
	}
	if req.Expected.IsIgnored() { // step 2
		return nil
	}

	actual := c.filtered(req.Namespace) // step 3

	if src := c.criticalSection(req.Namespace); src != nil && src.InCriticalSection() { // step 4
		if !req.Wait {
			return cos.NewErrLockBusy(req.Namespace)
		}
		waitCtx, cancel := context.WithTimeout(ctx, c.critSecWait)
		defer cancel()
		if err := src.WaitForCriticalSectionClear(waitCtx); err != nil {
			return cos.NewErrStaleConfig("migration commit in progress, timed out waiting for critical section")
		}
		actual = c.filtered(req.Namespace)
	}

	return compare(actual, req.Expected) // step 5
}

func compare(actual, expected meta.ChunkVersion) error {
	switch {
	case actual.Equal(expected):
		return nil
	case actual.IsSet() && expected.IsSet() && actual.Epoch != expected.Epoch:
		return cos.NewErrStaleEpoch(expected.Epoch.String(), actual.Epoch.String())
	case actual.IsSet() && !expected.IsSet():
		return cos.NewErrStaleConfig("this shard has versioned chunks, request is unversioned")
	case !actual.IsSet() && expected.IsSet():
		return cos.NewErrStaleConfig("this shard no longer has chunks")
	case actual.IsSet() && expected.IsSet() && actual.Major != expected.Major:
		return cos.NewErrStaleConfig("differing major versions")
	default:
		return cos.NewErrStaleConfig("shard version mismatch")
	}
}
