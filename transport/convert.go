/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import "github.com/shardkeep/clustercoord/cluster/meta"

// chunkToWire is the inverse of chunkFromWire, used by the config-server
// side of the admin RPC surface to serialize a committed *meta.Chunk back
// to a caller.
func chunkToWire(c *meta.Chunk) ChunkRecord {
	rec := ChunkRecord{
		ID:      c.ID(),
		NS:      c.Namespace,
		Min:     rawOrNil(c.Range.Min),
		Max:     rawOrNil(c.Range.Max),
		Shard:   c.Shard,
		Lastmod: uint64(c.Version.Major)<<32 | uint64(c.Version.Minor),
		Epoch:   c.Version.Epoch.String(),
		Jumbo:   c.Jumbo,
	}
	for _, h := range c.History {
		rec.History = append(rec.History, HistoryDoc{ValidAfter: h.ValidAfter, Shard: h.Shard})
	}
	return rec
}
