// Package registry implements the shard registry (§3 C6): a cached
// name -> connection-string mapping, using the replica-set monitor (C5)
// to resolve a shard name to a concrete host for a given read
// preference.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package registry

import (
	"context"
	"sync"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cluster/rsm"
	"github.com/shardkeep/clustercoord/cmn/cos"
)

// ConnString names a shard's backing replica set: its set name and seed
// hosts, e.g. "shard01/host1:27018,host2:27018".
type ConnString struct {
	SetName string
	Seeds   meta.HostSet
}

type shardEntry struct {
	name    string
	conn    ConnString
	monitor *rsm.Monitor
}

// Registry caches shard name -> monitor, targeting reads/writes through
// each shard's own replica-set monitor.
type Registry struct {
	mu     sync.RWMutex
	shards map[string]*shardEntry
}

func New() *Registry {
	return &Registry{shards: make(map[string]*shardEntry)}
}

// AddShard registers (or replaces) a shard's connection string and
// spins up a fresh monitor for it.
func (r *Registry) AddShard(name string, conn ConnString) *rsm.Monitor {
	m := rsm.NewMonitor(conn.SetName, conn.Seeds)
	r.mu.Lock()
	r.shards[name] = &shardEntry{name: name, conn: conn, monitor: m}
	r.mu.Unlock()
	return m
}

func (r *Registry) RemoveShard(name string) {
	r.mu.Lock()
	delete(r.shards, name)
	r.mu.Unlock()
}

func (r *Registry) Monitor(name string) (*rsm.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.shards[name]
	if !ok {
		return nil, false
	}
	return e.monitor, true
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.shards))
	for n := range r.shards {
		out = append(out, n)
	}
	return out
}

// Target resolves shardName to a concrete host satisfying rp, blocking
// (bounded by ctx) until the shard's monitor finds a match.
func (r *Registry) Target(ctx context.Context, shardName string, rp meta.ReadPreference) (meta.Host, error) {
	m, ok := r.Monitor(shardName)
	if !ok {
		return meta.Host{}, cos.NewErrNamespaceNotFound(shardName)
	}
	return m.WaitForHost(ctx, rp)
}
