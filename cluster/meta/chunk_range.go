/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package meta

import "bytes"

// ShardKey is a shard-key tuple, represented as its canonical sortable
// encoding (e.g. a BSON document's byte form once decoded by the wire
// layer). Comparison is purely lexicographic over Raw, which is how every
// shard-key encoding in use here (and in the wire layer's BSON documents)
// is defined to sort.
type ShardKey struct {
	Raw []byte
	// min and max are sentinel keys that sort below/above any user value,
	// independent of Raw's contents.
	sentinel int8 // 0 = normal, -1 = MinKey, +1 = MaxKey
}

var (
	MinKey = ShardKey{sentinel: -1}
	MaxKey = ShardKey{sentinel: +1}
)

func NewShardKey(raw []byte) ShardKey { return ShardKey{Raw: raw} }

func (k ShardKey) isSentinel() bool { return k.sentinel != 0 }

// Compare returns -1, 0, or +1 per normal comparison semantics, honoring
// the MinKey/MaxKey sentinels (§3 C3): MinKey sorts below everything but
// itself, MaxKey sorts above everything but itself.
func (k ShardKey) Compare(o ShardKey) int {
	if k.sentinel != o.sentinel {
		switch {
		case k.sentinel < o.sentinel:
			return -1
		default:
			return 1
		}
	}
	if k.isSentinel() {
		return 0 // both MinKey or both MaxKey
	}
	return bytes.Compare(k.Raw, o.Raw)
}

func (k ShardKey) Less(o ShardKey) bool  { return k.Compare(o) < 0 }
func (k ShardKey) Equal(o ShardKey) bool { return k.Compare(o) == 0 }

// SortKey returns a byte encoding of k that sorts identically to Compare,
// suitable for use as an ordered-store index key (catalog's buntdb-backed
// chunk store keys on this).
func (k ShardKey) SortKey() []byte {
	switch k.sentinel {
	case -1:
		return []byte{0x00}
	case 1:
		return []byte{0x02}
	default:
		return append([]byte{0x01}, k.Raw...)
	}
}

func (k ShardKey) String() string {
	switch k.sentinel {
	case -1:
		return "MinKey"
	case 1:
		return "MaxKey"
	default:
		return string(k.Raw)
	}
}

// ChunkRange is the half-open key interval [Min, Max) — inclusive of Min,
// exclusive of Max (§3 C3).
type ChunkRange struct {
	Min, Max ShardKey
}

func NewChunkRange(min, max ShardKey) ChunkRange {
	if !min.Less(max) {
		panic("chunk range requires min < max")
	}
	return ChunkRange{Min: min, Max: max}
}

// Contains reports min ≤ k < max.
func (r ChunkRange) Contains(k ShardKey) bool {
	return !k.Less(r.Min) && k.Less(r.Max)
}

// Overlaps reports whether r and o share any key.
func (r ChunkRange) Overlaps(o ChunkRange) bool {
	return r.Min.Less(o.Max) && o.Min.Less(r.Max)
}

func (r ChunkRange) Equal(o ChunkRange) bool {
	return r.Min.Equal(o.Min) && r.Max.Equal(o.Max)
}

func (r ChunkRange) String() string { return "[" + r.Min.String() + ", " + r.Max.String() + ")" }

// FullRange spans the entire shard-key space [MinKey, MaxKey).
func FullRange() ChunkRange { return ChunkRange{Min: MinKey, Max: MaxKey} }
