/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package rsm

import (
	"math/rand"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
)

// selectHostLocked implements §4.1 "Selection": candidate set by mode,
// then tag-set / max-staleness / min-op-time filters in order, then
// nearest-by-latency with random tie-break. Caller holds m.mu.
func (m *Monitor) selectHostLocked(rp meta.ReadPreference) (meta.Host, bool) {
	candidates := m.candidateSetLocked(rp.Mode)
	if len(candidates) == 0 {
		return meta.Host{}, false
	}

	candidates = filterTags(candidates, rp)
	candidates = filterMaxStaleness(candidates, rp, m.primaryLocked())
	candidates = filterMinOpTime(candidates, rp, rp.Mode)

	if len(candidates) == 0 {
		return meta.Host{}, false
	}
	return nearest(candidates), true
}

func (m *Monitor) primaryLocked() *Node {
	for _, n := range m.nodes {
		if n.IsPrimary && n.IsUp {
			return n
		}
	}
	return nil
}

func (m *Monitor) candidateSetLocked(mode meta.ReadMode) []*Node {
	var primary *Node
	var secondaries []*Node
	var all []*Node
	for _, n := range m.nodes {
		if !n.IsUp {
			continue
		}
		all = append(all, n)
		if n.IsPrimary {
			primary = n
		} else if !n.Hidden {
			secondaries = append(secondaries, n)
		}
	}

	switch mode {
	case meta.PrimaryOnly:
		if primary != nil {
			return []*Node{primary}
		}
		return nil
	case meta.PrimaryPreferred:
		if primary != nil {
			return []*Node{primary}
		}
		return secondaries
	case meta.SecondaryOnly:
		return secondaries
	case meta.SecondaryPreferred:
		if len(secondaries) > 0 {
			return secondaries
		}
		if primary != nil {
			return []*Node{primary}
		}
		return nil
	case meta.Nearest:
		return all
	default:
		return nil
	}
}

func filterTags(nodes []*Node, rp meta.ReadPreference) []*Node {
	if len(rp.TagSets) == 0 {
		return nodes
	}
	out := nodes[:0:0]
	for _, n := range nodes {
		if rp.MatchesTags(n.Tags) {
			out = append(out, n)
		}
	}
	return out
}

// filterMaxStaleness implements §4.1 filter 2. Zero MaxStaleness disables
// the filter entirely (and permits nodes with no recorded last-write).
func filterMaxStaleness(nodes []*Node, rp meta.ReadPreference, primary *Node) []*Node {
	if rp.MaxStaleness <= 0 {
		return nodes
	}
	var floor time.Time
	if primary != nil && primary.HasLastWrite() {
		floor = primary.LastWriteDate.Add(-rp.MaxStaleness)
	} else {
		floor = time.Now().Add(-rp.MaxStaleness)
	}
	out := nodes[:0:0]
	for _, n := range nodes {
		if n.IsPrimary {
			out = append(out, n) // primary is never staleness-filtered
			continue
		}
		if !n.HasLastWrite() {
			continue // rejected unless MaxStaleness == 0, handled above
		}
		if !n.LastWriteDate.Before(floor) {
			out = append(out, n)
		}
	}
	return out
}

// filterMinOpTime implements §4.1 filter 3: strict in SecondaryOnly mode;
// elsewhere the filter is dropped if it would leave zero candidates
// (tested by MinOpTimeIgnored vs MinOpTimeNotMatched).
func filterMinOpTime(nodes []*Node, rp meta.ReadPreference, mode meta.ReadMode) []*Node {
	if rp.MinOpTime.IsZero() {
		return nodes
	}
	out := nodes[:0:0]
	for _, n := range nodes {
		if !n.OpTime.Less(rp.MinOpTime) {
			out = append(out, n)
		}
	}
	if len(out) > 0 || mode == meta.SecondaryOnly {
		return out // strict in SecondaryOnly, stays empty
	}
	return nodes // dropped elsewhere
}

// nearest returns the candidate with lowest latency, breaking ties by
// random choice over the window of nodes within latencyWindow of the
// minimum (§4.1 "From the surviving set").
const latencyWindow = 15 * time.Millisecond

func nearest(nodes []*Node) meta.Host {
	min := nodes[0].Latency
	for _, n := range nodes[1:] {
		if n.Latency < min {
			min = n.Latency
		}
	}
	var within []*Node
	for _, n := range nodes {
		if n.Latency <= min+latencyWindow {
			within = append(within, n)
		}
	}
	return within[rand.Intn(len(within))].Host
}
