// Package config holds the cluster-wide tunable configuration, loaded
// once at process start and exposed through an atomic owner (the
// teacher's cmn.GCO pattern) so hot paths read a snapshot without
// locking.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"sync/atomic"
	"time"
)

// Timeout groups the blocking-call budgets named across §5 and §9.
type Timeout struct {
	// CplaneOperation is the budget for a single config-plane RPC (catalog
	// commit, routing refresh). Nothing in this module reads it.
	CplaneOperation time.Duration
	// MaxKeepalive is the budget for one replica-set probe. Nothing in this
	// module reads it.
	MaxKeepalive time.Duration
	// ShardVersionCritSecWait bounds how long a shard-version check may
	// block on the critical-section signal before returning stale-config
	// (§4.4, §5 — default 10s).
	ShardVersionCritSecWait time.Duration
	// ChunkOpLock is the acquisition budget for the per-collection
	// chunk-op lock (§4.2). Nothing in this module reads it: the lock waits
	// until the caller's ctx is done and then returns ExceededTimeLimit.
	ChunkOpLock time.Duration
}

// Log controls the logging verbosity gate (module/level pair, mirroring
// the teacher's FastV-style throttle) that call sites can consult before
// emitting a high-frequency debug line.
type Log struct {
	Level   int
	Modules int
}

// Cluster is the process-wide tunable configuration (§9 "tunables").
type Cluster struct {
	Timeout Timeout
	Log     Log

	// ScanHeartbeat is the interval for a heuristic background replica-set
	// rescan (§4.5 refresh trigger (c)). Nothing in this module reads it.
	ScanHeartbeat time.Duration

	// DefaultMaxStaleness is the max-staleness for a read preference that
	// specifies none. Nothing in this module reads it.
	DefaultMaxStaleness time.Duration

	// HistoryRetention is how far back chunk ownership history is kept
	// during a migration commit (§4.2 "History upgrade/downgrade",
	// §9 open question — default 10s, treated as a tunable).
	HistoryRetention time.Duration

	TestingEnv bool
}

func Defaults() *Cluster {
	return &Cluster{
		Timeout: Timeout{
			CplaneOperation:         time.Second + time.Millisecond,
			MaxKeepalive:            2*time.Second + time.Millisecond,
			ShardVersionCritSecWait: 10 * time.Second,
			ChunkOpLock:             30 * time.Second,
		},
		ScanHeartbeat:       10 * time.Second,
		DefaultMaxStaleness: 90 * time.Second,
		HistoryRetention:    10 * time.Second,
	}
}

// Owner is the atomic holder for the current Cluster config (mirrors the
// teacher's cmn.GCO — "Global Config Owner").
type Owner struct {
	v atomic.Value
}

var GCO = &Owner{}

func init() { GCO.Put(Defaults()) }

func (o *Owner) Get() *Cluster { return o.v.Load().(*Cluster) }

func (o *Owner) Put(c *Cluster) { o.v.Store(c) }
