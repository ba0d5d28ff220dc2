/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package rsm

import (
	"errors"
	"testing"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
)

func h(addr string) meta.Host { return meta.NewHost(addr, 27017) }

func eid(b byte) ElectionID {
	var e ElectionID
	e[11] = b
	return e
}

// PrimaryDiscoveredViaSecondaryHint is §8 scenario 1: seeds {a,b,c} all
// report secondary with primary hint "d"; d then confirms.
func TestPrimaryDiscoveredViaSecondaryHint(t *testing.T) {
	a, b, c, d := h("a"), h("b"), h("c"), h("d")
	m := NewMonitor("rs0", meta.HostSet{a, b, c})

	hint := IsMasterReply{SetName: "rs0", Secondary: true, Hosts: []meta.Host{a, b, c, d}}
	m.ReceivedIsMaster(a, time.Millisecond, hint)
	m.ReceivedIsMaster(b, time.Millisecond, hint)
	m.ReceivedIsMaster(c, time.Millisecond, hint)

	m.ReceivedIsMaster(d, time.Millisecond, IsMasterReply{
		SetName: "rs0", IsMaster: true, SetVersion: 1, ElectionID: eid(1),
		Hosts: []meta.Host{a, b, c, d},
	})

	snap := m.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(snap))
	}
	up := 0
	var primary *meta.Host
	for i := range snap {
		if snap[i].IsUp {
			up++
		}
		if snap[i].IsPrimary {
			hh := snap[i].Host
			primary = &hh
		}
	}
	if up != 4 {
		t.Fatalf("expected 4 up nodes, got %d", up)
	}
	if primary == nil || !primary.Equal(d) {
		t.Fatalf("expected d as primary, got %v", primary)
	}
}

// StalePrimaryRejected is §8 scenario 2.
func TestStalePrimaryRejected(t *testing.T) {
	a, b, c := h("a"), h("b"), h("c")
	m := NewMonitor("rs0", meta.HostSet{a, b, c})

	m.ReceivedIsMaster(a, time.Millisecond, IsMasterReply{
		SetName: "rs0", IsMaster: true, SetVersion: 2, ElectionID: eid(2),
		Hosts: []meta.Host{a, b, c},
	})
	m.ReceivedIsMaster(b, time.Millisecond, IsMasterReply{
		SetName: "rs0", IsMaster: true, SetVersion: 1, ElectionID: eid(1),
		Hosts: []meta.Host{a, b, c},
	})

	snap := m.Snapshot()
	for i := range snap {
		if snap[i].Host.Equal(a) && !snap[i].IsPrimary {
			t.Fatalf("a should remain primary")
		}
		if snap[i].Host.Equal(b) && snap[i].IsPrimary {
			t.Fatalf("b (stale primary) must not be adopted as primary")
		}
	}
	if m.auth.configVersion != 2 || m.auth.electionID != eid(2) {
		t.Fatalf("maxElectionId/configVersion should remain at a's values")
	}
}

func TestDifferentSetNameDiscarded(t *testing.T) {
	a := h("a")
	m := NewMonitor("rs0", meta.HostSet{a})
	m.ReceivedIsMaster(a, time.Millisecond, IsMasterReply{SetName: "other-set", IsMaster: true})
	snap := m.Snapshot()
	if len(snap) != 0 {
		t.Fatalf("host reporting wrong set name must be discarded, not added")
	}
}

func TestMasterIsSourceOfTruth(t *testing.T) {
	a, b, c, x := h("a"), h("b"), h("c"), h("x")
	m := NewMonitor("rs0", meta.HostSet{a, b, c, x})
	// x is a stale member not present in the primary's view
	m.ReceivedIsMaster(a, time.Millisecond, IsMasterReply{
		SetName: "rs0", IsMaster: true, SetVersion: 1, ElectionID: eid(1),
		Hosts: []meta.Host{a, b, c},
	})
	snap := m.Snapshot()
	for i := range snap {
		if snap[i].Host.Equal(x) {
			t.Fatalf("primary's membership view must replace prior members wholesale")
		}
	}
	if len(snap) != 3 {
		t.Fatalf("expected exactly 3 members after primary reply, got %d", len(snap))
	}
}

func TestMultipleMastersDisagreeLatestWins(t *testing.T) {
	a, b, c, d := h("a"), h("b"), h("c"), h("d")
	m := NewMonitor("rs0", meta.HostSet{a, b, c, d})
	m.ReceivedIsMaster(a, time.Millisecond, IsMasterReply{
		SetName: "rs0", IsMaster: true, SetVersion: 1, ElectionID: eid(1),
		Hosts: []meta.Host{a, b, c},
	})
	m.ReceivedIsMaster(b, time.Millisecond, IsMasterReply{
		SetName: "rs0", IsMaster: true, SetVersion: 2, ElectionID: eid(2),
		Hosts: []meta.Host{a, b, c, d},
	})
	snap := m.Snapshot()
	found := false
	for i := range snap {
		if snap[i].Host.Equal(b) {
			found = true
			if !snap[i].IsPrimary {
				t.Fatalf("b (higher authority) should now be primary")
			}
		}
		if snap[i].Host.Equal(a) && snap[i].IsPrimary {
			t.Fatalf("a must be demoted once b's higher authority reply lands")
		}
	}
	if !found || len(snap) != 4 {
		t.Fatalf("expected b's membership view (4 nodes) to win")
	}
}

func TestSlavesUsableEvenIfNoMaster(t *testing.T) {
	a, b := h("a"), h("b")
	m := NewMonitor("rs0", meta.HostSet{a})
	m.ReceivedIsMaster(a, time.Millisecond, IsMasterReply{
		SetName: "rs0", Secondary: true, Hosts: []meta.Host{a, b},
	})
	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("secondary-reported hosts should expand membership when no primary is known, got %d", len(snap))
	}
}

func TestIgnoreElectionIdFromSecondaries(t *testing.T) {
	a := h("a")
	m := NewMonitor("rs0", meta.HostSet{a})
	m.ReceivedIsMaster(a, time.Millisecond, IsMasterReply{
		SetName: "rs0", Secondary: true, ElectionID: eid(99), Hosts: []meta.Host{a},
	})
	if m.auth.electionID != (ElectionID{}) {
		t.Fatalf("electionId from a secondary reply must be ignored")
	}
}

func TestOutOfBandFailedHost(t *testing.T) {
	a := h("a")
	m := NewMonitor("rs0", meta.HostSet{a})
	m.ReceivedIsMaster(a, time.Millisecond, IsMasterReply{
		SetName: "rs0", IsMaster: true, SetVersion: 1, ElectionID: eid(1), Hosts: []meta.Host{a},
	})
	m.FailedHost(a, errors.New("connection reset"))
	snap := m.Snapshot()
	if snap[0].IsUp || snap[0].IsPrimary {
		t.Fatalf("failedHost must immediately mark the host down and not primary")
	}
}

func TestMaxStalenessMSNoLastWrite(t *testing.T) {
	a, b := h("a"), h("b")
	nodes := []*Node{
		{Host: a, IsUp: true, IsPrimary: true, LastWriteDate: time.Now(), hasLastWrite: true},
		{Host: b, IsUp: true}, // no last-write recorded
	}
	rp := meta.ReadPreference{Mode: meta.SecondaryOnly, MaxStaleness: 90 * time.Second}
	out := filterMaxStaleness([]*Node{nodes[1]}, rp, nodes[0])
	if len(out) != 0 {
		t.Fatalf("secondary with no last-write must be rejected when MaxStaleness > 0")
	}
}

func TestMaxStalenessMSZeroNoLastWrite(t *testing.T) {
	a, b := h("a"), h("b")
	primary := &Node{Host: a, IsUp: true, IsPrimary: true}
	secondary := &Node{Host: b, IsUp: true}
	rp := meta.ReadPreference{Mode: meta.SecondaryOnly, MaxStaleness: 0}
	out := filterMaxStaleness([]*Node{secondary}, rp, primary)
	if len(out) != 1 {
		t.Fatalf("MaxStaleness == 0 disables the filter entirely, including the no-last-write rejection")
	}
}

func TestMinOpTimeIgnoredOutsideSecondaryOnly(t *testing.T) {
	primary := &Node{Host: h("a"), IsUp: true, IsPrimary: true, OpTime: meta.OpTime{T: 1}}
	nodes := []*Node{primary}
	rp := meta.ReadPreference{Mode: meta.PrimaryPreferred, MinOpTime: meta.OpTime{T: 100}}
	out := filterMinOpTime(nodes, rp, rp.Mode)
	if len(out) != 1 {
		t.Fatalf("min-op-time filter should be dropped (not SecondaryOnly) leaving the only candidate")
	}
}

func TestMinOpTimeNotMatchedStrictInSecondaryOnly(t *testing.T) {
	sec := &Node{Host: h("b"), IsUp: true, OpTime: meta.OpTime{T: 1}}
	nodes := []*Node{sec}
	rp := meta.ReadPreference{Mode: meta.SecondaryOnly, MinOpTime: meta.OpTime{T: 100}}
	out := filterMinOpTime(nodes, rp, rp.Mode)
	if len(out) != 0 {
		t.Fatalf("min-op-time filter stays strict in SecondaryOnly mode")
	}
}

func TestSelectHostPrimaryOnly(t *testing.T) {
	a, b := h("a"), h("b")
	m := NewMonitor("rs0", meta.HostSet{a, b})
	m.ReceivedIsMaster(a, time.Millisecond, IsMasterReply{
		SetName: "rs0", IsMaster: true, SetVersion: 1, ElectionID: eid(1), Hosts: []meta.Host{a, b},
	})
	m.ReceivedIsMaster(b, 5*time.Millisecond, IsMasterReply{SetName: "rs0", Secondary: true})

	got, ok := m.SelectHost(meta.ReadPreference{Mode: meta.PrimaryOnly})
	if !ok || !got.Equal(a) {
		t.Fatalf("PrimaryOnly should select a, got %v ok=%v", got, ok)
	}

	got, ok = m.SelectHost(meta.ReadPreference{Mode: meta.SecondaryOnly})
	if !ok || !got.Equal(b) {
		t.Fatalf("SecondaryOnly should select b, got %v ok=%v", got, ok)
	}
}

func TestEmptyWhenNoUpHost(t *testing.T) {
	m := NewMonitor("rs0", meta.HostSet{h("a")})
	_, ok := m.SelectHost(meta.ReadPreference{Mode: meta.Nearest})
	if ok {
		t.Fatalf("expected Empty selection when no host is up")
	}
}
