/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package rsm

import "github.com/shardkeep/clustercoord/cluster/meta"

// Scan is an epoch-bounded attempt to contact every known host and
// reconcile replies (§4.1). hostsToScan is kept as an ordered slice so
// that I-S1 insertions (primary learned mid-scan) can jump the queue.
type Scan struct {
	hostsToScan []meta.Host
	waitingFor  map[meta.Host]bool
	triedHosts  map[meta.Host]bool
}

func newScan(ordered []meta.Host) *Scan {
	return &Scan{
		hostsToScan: append([]meta.Host(nil), ordered...),
		waitingFor:  make(map[meta.Host]bool),
		triedHosts:  make(map[meta.Host]bool),
	}
}

func (s *Scan) popNext() (meta.Host, bool) {
	if len(s.hostsToScan) == 0 {
		return meta.Host{}, false
	}
	h := s.hostsToScan[0]
	s.hostsToScan = s.hostsToScan[1:]
	s.waitingFor[h] = true
	return h, true
}

// markTried records a reply (success or failure) arriving for host,
// moving it from waitingFor into triedHosts. Replies for a host already
// tried are ignored (§5 ordering guarantee).
func (s *Scan) markTried(h meta.Host) {
	if s.triedHosts[h] {
		return
	}
	delete(s.waitingFor, h)
	s.triedHosts[h] = true
}

// pushFront inserts h at the head of hostsToScan if it isn't already
// queued, in flight, or tried — enforces I-S1.
func (s *Scan) pushFront(h meta.Host) {
	if s.contains(h) {
		return
	}
	s.hostsToScan = append([]meta.Host{h}, s.hostsToScan...)
}

func (s *Scan) pushBack(h meta.Host) {
	if s.contains(h) {
		return
	}
	s.hostsToScan = append(s.hostsToScan, h)
}

func (s *Scan) contains(h meta.Host) bool {
	if s.waitingFor[h] || s.triedHosts[h] {
		return true
	}
	for _, x := range s.hostsToScan {
		if x.Equal(h) {
			return true
		}
	}
	return false
}

type StepKind int

const (
	StepContactHost StepKind = iota
	StepWait
	StepDone
)

// StepResult is the result of NextStep: ContactHost(h), Wait, or Done
// (§4.1 "Scan protocol").
type StepResult struct {
	Kind StepKind
	Host meta.Host
}
