// Package rsm implements the client-side replica-set monitor (§4.1): it
// polls a set of candidate hosts, reconciles disagreeing membership
// views, tracks the most authoritative primary by election identity, and
// answers read-preference queries while a scan is in progress.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package rsm

import (
	"context"
	"sync"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"
	"github.com/shardkeep/clustercoord/cmn/nlog"
	"github.com/shardkeep/clustercoord/cmn/xstats"
)

// Node is one replica-set member as currently known to the monitor.
type Node struct {
	Host          meta.Host
	IsUp          bool
	IsPrimary     bool
	Hidden        bool
	Passive       bool
	Tags          map[string]string
	LastWriteDate time.Time
	OpTime        meta.OpTime
	Latency       time.Duration
	hasLastWrite  bool
}

func (n *Node) HasLastWrite() bool { return n.hasLastWrite }

// IsMasterReply mirrors the wire message consumed by receivedIsMaster
// (§6): setName, setVersion, electionId, ismaster, secondary, hidden,
// passive, hosts[], passives[], primary, me, tags{}, lastWrite, ok.
type IsMasterReply struct {
	SetName       string
	SetVersion    int64
	ElectionID    ElectionID
	IsMaster      bool
	Secondary     bool
	Hidden        bool
	Passive       bool
	Hosts         []meta.Host
	Passives      []meta.Host
	Primary       meta.Host
	Me            meta.Host
	Tags          map[string]string
	LastWriteDate time.Time
	OpTime        meta.OpTime
	OK            bool
}

// Monitor holds the replica-set state described in §3: setName, nodes,
// seedNodes, lastSeenPrimary, maxElectionId, configVersion, and an
// optional scan in progress. A single mutex protects all of it (§5).
type Monitor struct {
	mu sync.Mutex

	setName         string
	nodes           map[meta.Host]*Node
	seedNodes       meta.HostSet
	lastSeenPrimary meta.Host
	haveLastSeen    bool
	auth            authority // (configVersion, maxElectionId)

	scan *Scan

	cond  *sync.Cond // signaled whenever node state changes, for selectHost waiters
	stats *xstats.Registry
}

// SetStats attaches a metrics registry; nil (the zero value) leaves scan
// probes unmeasured.
func (m *Monitor) SetStats(s *xstats.Registry) { m.stats = s }

func NewMonitor(setName string, seeds meta.HostSet) *Monitor {
	m := &Monitor{
		setName:   setName,
		nodes:     make(map[meta.Host]*Node),
		seedNodes: seeds.Clone(),
	}
	m.cond = sync.NewCond(&m.mu)
	for _, h := range seeds {
		m.nodes[h] = &Node{Host: h}
	}
	return m
}

func (m *Monitor) SetName() string { return m.setName }

// StartScan begins a new epoch-bounded scan (§4.1) seeded from current
// knowledge. It is a no-op if a scan is already in progress.
func (m *Monitor) StartScan() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scan != nil {
		return
	}
	m.scan = newScan(m.orderedHostsToScanLocked())
}

// orderedHostsToScanLocked orders candidates: last-seen primary first,
// then up hosts, then the rest (§4.1).
func (m *Monitor) orderedHostsToScanLocked() []meta.Host {
	var primary, up, rest []meta.Host
	for h, n := range m.nodes {
		switch {
		case m.haveLastSeen && h.Equal(m.lastSeenPrimary):
			primary = append(primary, h)
		case n.IsUp:
			up = append(up, h)
		default:
			rest = append(rest, h)
		}
	}
	out := make([]meta.Host, 0, len(primary)+len(up)+len(rest))
	out = append(out, primary...)
	out = append(out, up...)
	out = append(out, rest...)
	return out
}

// NextStep drives the scan protocol (§4.1). The driver calls this in a
// loop; Done means the cached state is authoritative until the next
// scheduled refresh.
func (m *Monitor) NextStep() StepResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scan == nil {
		return StepResult{Kind: StepDone}
	}
	if h, ok := m.scan.popNext(); ok {
		return StepResult{Kind: StepContactHost, Host: h}
	}
	if len(m.scan.waitingFor) > 0 {
		return StepResult{Kind: StepWait}
	}
	m.scan = nil
	return StepResult{Kind: StepDone}
}

// ReceivedIsMaster processes one reply (§4.1 "Reply handling"). host is
// the host that was contacted (it may differ from reply.Me under a
// misconfigured proxy, but callers should pass the dialed address).
func (m *Monitor) ReceivedIsMaster(host meta.Host, rtt time.Duration, reply IsMasterReply) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scan != nil {
		m.scan.markTried(host)
	}

	if reply.SetName != "" && reply.SetName != m.setName {
		// different set: discard, do not add (§4.1.1)
		delete(m.nodes, host)
		m.cond.Broadcast()
		return
	}

	switch {
	case reply.IsMaster:
		m.handlePrimaryReplyLocked(host, rtt, reply)
	case reply.Secondary:
		m.handleSecondaryReplyLocked(host, rtt, reply)
	default:
		m.markDownLocked(host)
	}
	m.cond.Broadcast()
}

func (m *Monitor) handlePrimaryReplyLocked(host meta.Host, rtt time.Duration, reply IsMasterReply) {
	replyAuth := authority{configVersion: reply.SetVersion, electionID: reply.ElectionID}
	if replyAuth.less(m.auth) {
		// stale primary: mark not primary, do not adopt membership (§4.1.2.b)
		n := m.ensureNodeLocked(host)
		n.IsUp = true
		n.IsPrimary = false
		n.Latency = rtt
		nlog.Warningf("rsm %s: rejecting stale primary reply from %s (config=%d election=%s < current config=%d)",
			m.setName, host, reply.SetVersion, reply.ElectionID, m.auth.configVersion)
		return
	}

	// adopt: sole primary, replace membership with primary's view (§4.1.2.c)
	m.auth = replyAuth
	m.lastSeenPrimary = host
	m.haveLastSeen = true

	fresh := make(map[meta.Host]*Node, len(reply.Hosts)+len(reply.Passives))
	addMember := func(h meta.Host, passive bool) {
		prev := m.nodes[h]
		n := &Node{Host: h, Passive: passive}
		if prev != nil {
			n.Tags, n.LastWriteDate, n.OpTime, n.hasLastWrite, n.Latency = prev.Tags, prev.LastWriteDate, prev.OpTime, prev.hasLastWrite, prev.Latency
			n.IsUp = prev.IsUp
			n.Hidden = prev.Hidden
		}
		fresh[h] = n
	}
	for _, h := range reply.Hosts {
		addMember(h, false)
	}
	for _, h := range reply.Passives {
		addMember(h, true)
	}
	if _, ok := fresh[host]; !ok {
		addMember(host, false)
	}

	m.nodes = fresh
	me := m.nodes[host]
	me.IsUp = true
	me.IsPrimary = true
	me.Latency = rtt

	// I-S1: a primary learned of mid-scan must be probed before the scan
	// can finish.
	if m.scan != nil {
		for h := range m.nodes {
			if !m.scan.triedHosts[h] && !m.scan.waitingFor[h] {
				m.scan.pushFront(h)
			}
		}
	}
}

func (m *Monitor) handleSecondaryReplyLocked(host meta.Host, rtt time.Duration, reply IsMasterReply) {
	n := m.ensureNodeLocked(host)
	n.IsUp = true
	n.IsPrimary = false
	n.Latency = rtt
	n.Tags = reply.Tags
	n.Hidden = reply.Hidden
	n.Passive = reply.Passive
	if !reply.LastWriteDate.IsZero() {
		n.LastWriteDate = reply.LastWriteDate
		n.hasLastWrite = true
	}
	n.OpTime = reply.OpTime
	// electionId on secondary replies is ignored (§4.1.4)

	if !m.haveLastSeen {
		// no authoritative primary ever seen: use secondary-reported hosts
		// to expand the scan so it can find one (§4.1.3)
		for _, h := range reply.Hosts {
			if _, known := m.nodes[h]; !known {
				m.nodes[h] = &Node{Host: h}
			}
			if m.scan != nil && !m.scan.triedHosts[h] && !m.scan.waitingFor[h] {
				m.scan.pushBack(h)
			}
		}
	}
}

func (m *Monitor) markDownLocked(host meta.Host) {
	n := m.ensureNodeLocked(host)
	n.IsUp = false
	n.IsPrimary = false
}

func (m *Monitor) ensureNodeLocked(host meta.Host) *Node {
	n, ok := m.nodes[host]
	if !ok {
		n = &Node{Host: host}
		m.nodes[host] = n
	}
	return n
}

// FailedHost marks h down immediately, out of band from any scan (§4.1
// "Out-of-band failure"). A future scan re-probes it.
func (m *Monitor) FailedHost(h meta.Host, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.ensureNodeLocked(h)
	n.IsUp = false
	n.IsPrimary = false
	if h.Equal(m.lastSeenPrimary) {
		m.haveLastSeen = false
	}
	nlog.Warningf("rsm %s: out-of-band failure on %s: %v", m.setName, h, reason)
	m.cond.Broadcast()
}

// ScanFailed records that a dispatched probe to h failed (timeout or
// connection refused): moves h to triedHosts marked down, scan continues
// (§4.1 "Failure model").
func (m *Monitor) ScanFailed(h meta.Host, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scan != nil {
		m.scan.markTried(h)
	}
	m.markDownLocked(h)
	nlog.Warningf("rsm %s: scan probe to %s failed: %v", m.setName, h, reason)
	m.cond.Broadcast()
}

// SelectHost answers a read-preference query without blocking on a
// network round trip. It returns ok=false if no candidate currently
// satisfies the preference.
func (m *Monitor) SelectHost(rp meta.ReadPreference) (meta.Host, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectHostLocked(rp)
}

// WaitForHost blocks — bounded by ctx — until a matching host appears,
// re-evaluating each time node state changes (§5 "selectHost may block on
// a condition variable"). The end of a scan does not end the wait; only a
// match or ctx returns.
func (m *Monitor) WaitForHost(ctx context.Context, rp meta.ReadPreference) (meta.Host, error) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		close(done)
		m.cond.Broadcast()
		m.mu.Unlock()
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if h, ok := m.selectHostLocked(rp); ok {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return meta.Host{}, cos.NewErrExceededTimeLimit("selectHost")
		default:
		}
		m.cond.Wait()
		select {
		case <-done:
			return meta.Host{}, cos.NewErrExceededTimeLimit("selectHost")
		default:
		}
	}
}

// Snapshot returns a defensive copy of the up-to-date node set, for
// callers (e.g. the shard registry) that need more than one host at a
// time.
func (m *Monitor) Snapshot() []Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	return out
}
