/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/shardkeep/clustercoord/cluster/meta"
)

// FetchChunksReply is the wire shape of a config-server "list chunks for
// namespace" response — not one of §6's mutating commands, but the read
// side the routing cache's ConfigClient needs, served by the same
// config-server admin surface.
type FetchChunksReply struct {
	Epoch  string        `json:"epoch"`
	Chunks []ChunkRecord `json:"chunks"`
}

// RoutingClient implements routing.ConfigClient over HTTP against a
// config-server base URL.
type RoutingClient struct {
	client  *Client
	baseURL string
}

func NewRoutingClient(c *Client, configServerBaseURL string) *RoutingClient {
	return &RoutingClient{client: c, baseURL: configServerBaseURL}
}

func (r *RoutingClient) FetchChunks(ctx context.Context, ns string) (meta.Epoch, meta.ChunkSet, error) {
	var reply FetchChunksReply
	url := fmt.Sprintf("%s/chunks?ns=%s", r.baseURL, ns)
	if err := r.client.Call(ctx, url, struct{ NS string `json:"ns"` }{NS: ns}, &reply); err != nil {
		return meta.Epoch{}, nil, err
	}

	var epoch meta.Epoch
	raw, err := hex.DecodeString(reply.Epoch)
	if err != nil || len(raw) != len(epoch) {
		return meta.Epoch{}, nil, fmt.Errorf("fetch chunks for %s: malformed epoch %q", ns, reply.Epoch)
	}
	copy(epoch[:], raw)

	chunks := make(meta.ChunkSet, 0, len(reply.Chunks))
	for _, rec := range reply.Chunks {
		c, err := chunkFromWire(rec, epoch)
		if err != nil {
			return meta.Epoch{}, nil, err
		}
		chunks = append(chunks, c)
	}
	return epoch, chunks, nil
}

func chunkFromWire(rec ChunkRecord, epoch meta.Epoch) (*meta.Chunk, error) {
	major := uint32(rec.Lastmod >> 32)
	minor := uint32(rec.Lastmod)
	c := &meta.Chunk{
		Namespace: rec.NS,
		Range:     meta.NewChunkRange(shardKeyFromWireMin(rec.Min), shardKeyFromWireMax(rec.Max)),
		Shard:     rec.Shard,
		Version:   meta.NewChunkVersion(epoch, major, minor),
		Jumbo:     rec.Jumbo,
	}
	for _, h := range rec.History {
		c.History = append(c.History, meta.HistoryEntry{ValidAfter: h.ValidAfter, Shard: h.Shard})
	}
	return c, nil
}

// shardKeyFromWireMin and shardKeyFromWireMax decode a chunk-range endpoint.
// A nil slice marks the corresponding sentinel (MinKey at the low end,
// MaxKey at the high end) rather than a genuine zero-length key — true for
// every valid partition, where only the leftmost chunk's Min is MinKey and
// only the rightmost chunk's Max is MaxKey; interior boundaries always carry
// a real split-point value. A literal zero-length (but non-nil) key, e.g.
// []byte{}, decodes as an ordinary shard key, not a sentinel.
func shardKeyFromWireMin(b []byte) meta.ShardKey {
	if b == nil {
		return meta.MinKey
	}
	return meta.NewShardKey(b)
}

func shardKeyFromWireMax(b []byte) meta.ShardKey {
	if b == nil {
		return meta.MaxKey
	}
	return meta.NewShardKey(b)
}
