/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package meta

import "testing"

func key(s string) ShardKey { return NewShardKey([]byte(s)) }

func TestChunkRangeContains(t *testing.T) {
	r := NewChunkRange(key("a"), key("m"))
	if !r.Contains(key("a")) {
		t.Fatalf("range should be inclusive of min")
	}
	if r.Contains(key("m")) {
		t.Fatalf("range should be exclusive of max")
	}
	if !r.Contains(key("g")) {
		t.Fatalf("range should contain interior key")
	}
}

func TestFullRangeSentinels(t *testing.T) {
	r := FullRange()
	if !r.Min.Equal(MinKey) || !r.Max.Equal(MaxKey) {
		t.Fatalf("full range must span MinKey..MaxKey")
	}
	if !r.Contains(key("anything")) {
		t.Fatalf("full range must contain any key")
	}
}

func TestValidatePartitionHappyPath(t *testing.T) {
	e := NewEpoch()
	s := ChunkSet{
		{Namespace: "t", Range: NewChunkRange(MinKey, key("m")), Shard: "A", Version: NewChunkVersion(e, 1, 0)},
		{Namespace: "t", Range: NewChunkRange(key("m"), MaxKey), Shard: "B", Version: NewChunkVersion(e, 1, 1)},
	}
	s.SortByMin()
	if err := s.ValidatePartition(); err != nil {
		t.Fatalf("expected valid partition, got %v", err)
	}
}

func TestValidatePartitionGap(t *testing.T) {
	e := NewEpoch()
	s := ChunkSet{
		{Namespace: "t", Range: NewChunkRange(MinKey, key("m")), Version: NewChunkVersion(e, 1, 0)},
		{Namespace: "t", Range: NewChunkRange(key("n"), MaxKey), Version: NewChunkVersion(e, 1, 1)},
	}
	s.SortByMin()
	if err := s.ValidatePartition(); err == nil {
		t.Fatalf("expected gap to be rejected")
	}
}

func TestCollectionAndShardVersion(t *testing.T) {
	e := NewEpoch()
	s := ChunkSet{
		{Namespace: "t", Range: NewChunkRange(MinKey, key("m")), Shard: "A", Version: NewChunkVersion(e, 5, 3)},
		{Namespace: "t", Range: NewChunkRange(key("m"), MaxKey), Shard: "B", Version: NewChunkVersion(e, 5, 4)},
	}
	if cv := s.CollectionVersion(); !cv.Equal(NewChunkVersion(e, 5, 4)) {
		t.Fatalf("collection version = %s, want (5,4)", cv)
	}
	if sv := s.ShardVersion("A"); !sv.Equal(NewChunkVersion(e, 5, 3)) {
		t.Fatalf("shard A version = %s, want (5,3)", sv)
	}
	if sv := s.ShardVersion("C"); !sv.IsUnsharded() {
		t.Fatalf("shard with no chunks should report Unsharded, got %s", sv)
	}
}
