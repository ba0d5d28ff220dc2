/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package meta

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	ratomic "sync/atomic"
	"time"
)

// Epoch is the opaque 12-byte identifier assigned when a collection is
// (re)sharded. Two chunk versions are only ever compared when they share
// an epoch; comparing across epochs is a caller bug (I-C4).
type Epoch [12]byte

var epochCounter uint32

// NewEpoch mints a fresh epoch: a 4-byte timestamp, a 5-byte random
// component, and a 3-byte monotonic counter — enough entropy that two
// concurrent reshards of different collections never collide.
func NewEpoch() Epoch {
	var e Epoch
	ts := uint32(time.Now().Unix())
	e[0], e[1], e[2], e[3] = byte(ts>>24), byte(ts>>16), byte(ts>>8), byte(ts)
	_, _ = rand.Read(e[4:9])
	c := ratomic.AddUint32(&epochCounter, 1)
	e[9], e[10], e[11] = byte(c>>16), byte(c>>8), byte(c)
	return e
}

func (e Epoch) IsZero() bool { return e == Epoch{} }
func (e Epoch) String() string { return hex.EncodeToString(e[:]) }

// ParseEpoch decodes the hex form produced by String, as used on the wire
// (§6) and by CLI tooling that takes an epoch argument.
func ParseEpoch(s string) (Epoch, error) {
	var e Epoch
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(e) {
		return Epoch{}, fmt.Errorf("malformed epoch %q", s)
	}
	copy(e[:], raw)
	return e, nil
}

// ChunkVersion is the triple (epoch, major, minor) with total order scoped
// by epoch (§3 C2). Two distinguished sentinels exist: Unsharded compares
// equal only to itself, and Ignored disables version checks wherever it is
// used as the expected version.
type ChunkVersion struct {
	Epoch       Epoch
	Major       uint32
	Minor       uint32
	unsharded   bool
	ignored     bool
}

func NewChunkVersion(epoch Epoch, major, minor uint32) ChunkVersion {
	return ChunkVersion{Epoch: epoch, Major: major, Minor: minor}
}

var (
	unshardedVersion = ChunkVersion{unsharded: true}
	ignoredVersion   = ChunkVersion{ignored: true}
)

func Unsharded() ChunkVersion { return unshardedVersion }
func Ignored() ChunkVersion   { return ignoredVersion }

func (v ChunkVersion) IsUnsharded() bool { return v.unsharded }
func (v ChunkVersion) IsIgnored() bool   { return v.ignored }
func (v ChunkVersion) IsSet() bool       { return !v.unsharded && !v.ignored }

// SameEpoch reports whether v and o share a collection epoch and are
// therefore comparable by (major, minor).
func (v ChunkVersion) SameEpoch(o ChunkVersion) bool {
	if v.unsharded || v.ignored || o.unsharded || o.ignored {
		return false
	}
	return v.Epoch == o.Epoch
}

// Equal implements the sentinel-aware equality of §3: Unsharded equals
// only Unsharded; Ignored is never equal to anything, including itself,
// since it exists purely to disable comparison.
func (v ChunkVersion) Equal(o ChunkVersion) bool {
	if v.ignored || o.ignored {
		return false
	}
	if v.unsharded || o.unsharded {
		return v.unsharded && o.unsharded
	}
	return v.Epoch == o.Epoch && v.Major == o.Major && v.Minor == o.Minor
}

// Less compares two versions sharing an epoch by (major, minor). Calling
// Less on versions from different epochs, or on a sentinel, is a caller
// error and panics — scoped comparison is a precondition, not a runtime
// concern this type should silently paper over.
func (v ChunkVersion) Less(o ChunkVersion) bool {
	if !v.SameEpoch(o) {
		panic(fmt.Sprintf("chunk versions not comparable: %s vs %s", v, o))
	}
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

func (v ChunkVersion) WithMajor(major uint32) ChunkVersion {
	n := v
	n.Major = major
	return n
}

func (v ChunkVersion) WithMinor(minor uint32) ChunkVersion {
	n := v
	n.Minor = minor
	return n
}

func (v ChunkVersion) String() string {
	switch {
	case v.unsharded:
		return "UNSHARDED"
	case v.ignored:
		return "IGNORED"
	default:
		return fmt.Sprintf("%s|%d|%d", v.Epoch, v.Major, v.Minor)
	}
}

// Max returns the greater of a and b, scoped to the same epoch.
func Max(a, b ChunkVersion) ChunkVersion {
	if a.Less(b) {
		return b
	}
	return a
}
