/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/shardkeep/clustercoord/catalog"
	"github.com/shardkeep/clustercoord/cluster/meta"
)

// ConfigAdminClient implements donor.CatalogCommitter (and the broader §6
// config-server admin surface) over HTTP, for a shard process that does not
// hold the config server's *catalog.Manager in-process. Its result types
// mirror *catalog.Manager's exactly, so it is a drop-in remote substitute
// wherever CatalogCommitter (or the split/merge equivalents) is expected.
type ConfigAdminClient struct {
	client  *Client
	baseURL string
}

func NewConfigAdminClient(c *Client, configServerBaseURL string) *ConfigAdminClient {
	return &ConfigAdminClient{client: c, baseURL: configServerBaseURL}
}

func decodeEpoch(s string) (meta.Epoch, error) {
	return meta.ParseEpoch(s)
}

// CommitMigration satisfies donor.CatalogCommitter, letting a donor
// machine running outside the config server's process drive the §4.2
// migration-commit algorithm remotely.
func (c *ConfigAdminClient) CommitMigration(ctx context.Context, ns string, rng meta.ChunkRange, epoch meta.Epoch, fromShard, toShard string, validAfter time.Time) (*catalog.MigrationResult, error) {
	args := CommitChunkMigrationArgs{
		NS: ns,
		MigratedChunk: ChunkRecord{
			NS:  ns,
			Min: rawOrNil(rng.Min),
			Max: rawOrNil(rng.Max),
		},
		FromShard:  fromShard,
		ToShard:    toShard,
		CollEpoch:  epoch.String(),
		ValidAfter: validAfter,
	}
	var reply MigrationCommitReply
	if err := c.client.Call(ctx, c.baseURL+"/_configsvrCommitChunkMigration", args, &reply); err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, fmt.Errorf("commitChunkMigration rejected by %s: %s", c.baseURL, reply.ErrMsg)
	}
	replyEpoch, err := decodeEpoch(reply.Epoch)
	if err != nil {
		return nil, err
	}
	migrated, err := chunkFromWire(reply.Migrated, replyEpoch)
	if err != nil {
		return nil, err
	}
	var control *meta.Chunk
	if reply.Control != nil {
		control, err = chunkFromWire(*reply.Control, replyEpoch)
		if err != nil {
			return nil, err
		}
	}
	return &catalog.MigrationResult{
		Before:   meta.NewChunkVersion(replyEpoch, reply.BeforeMajor, reply.BeforeMinor),
		After:    migrated.Version,
		Migrated: migrated,
		Control:  control,
	}, nil
}

func (c *ConfigAdminClient) CommitSplit(ctx context.Context, ns string, epoch meta.Epoch, rng meta.ChunkRange, splitPoints []meta.ShardKey, shard string) (*catalog.SplitResult, error) {
	pts := make([][]byte, len(splitPoints))
	for i, p := range splitPoints {
		pts[i] = rawOrNil(p)
	}
	args := CommitChunkSplitArgs{
		NS:          ns,
		CollEpoch:   epoch.String(),
		Min:         rawOrNil(rng.Min),
		Max:         rawOrNil(rng.Max),
		SplitPoints: pts,
		Shard:       shard,
	}
	var reply SplitCommitReply
	if err := c.client.Call(ctx, c.baseURL+"/_configsvrCommitChunkSplit", args, &reply); err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, fmt.Errorf("commitChunkSplit rejected by %s: %s", c.baseURL, reply.ErrMsg)
	}
	replyEpoch, err := decodeEpoch(reply.Epoch)
	if err != nil {
		return nil, err
	}
	newChunks := make(meta.ChunkSet, 0, len(reply.NewChunks))
	var after meta.ChunkVersion
	for _, rec := range reply.NewChunks {
		ch, err := chunkFromWire(rec, replyEpoch)
		if err != nil {
			return nil, err
		}
		newChunks = append(newChunks, ch)
		if ch.Version.Major > after.Major || (ch.Version.Major == after.Major && ch.Version.Minor > after.Minor) {
			after = ch.Version
		}
	}
	var shouldMigrate *meta.ChunkRange
	if reply.ShouldMigrate != nil {
		r := meta.NewChunkRange(shardKeyFromWireMin(reply.ShouldMigrate.Min), shardKeyFromWireMax(reply.ShouldMigrate.Max))
		shouldMigrate = &r
	}
	return &catalog.SplitResult{
		Before:        meta.NewChunkVersion(replyEpoch, reply.BeforeMajor, reply.BeforeMinor),
		After:         after,
		NewChunks:     newChunks,
		ShouldMigrate: shouldMigrate,
	}, nil
}

func (c *ConfigAdminClient) CommitMerge(ctx context.Context, ns string, epoch meta.Epoch, boundaries []meta.ShardKey, shard string, validAfter *time.Time) (*catalog.MergeResult, error) {
	bounds := make([][]byte, len(boundaries))
	for i, b := range boundaries {
		bounds[i] = rawOrNil(b)
	}
	args := CommitChunkMergeArgs{
		NS:              ns,
		CollEpoch:       epoch.String(),
		ChunkBoundaries: bounds,
		Shard:           shard,
		ValidAfter:      validAfter,
	}
	var reply MergeCommitReply
	if err := c.client.Call(ctx, c.baseURL+"/_configsvrCommitChunkMerge", args, &reply); err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, fmt.Errorf("commitChunkMerge rejected by %s: %s", c.baseURL, reply.ErrMsg)
	}
	replyEpoch, err := decodeEpoch(reply.Epoch)
	if err != nil {
		return nil, err
	}
	merged, err := chunkFromWire(reply.Merged, replyEpoch)
	if err != nil {
		return nil, err
	}
	return &catalog.MergeResult{
		Before: meta.NewChunkVersion(replyEpoch, reply.BeforeMajor, reply.BeforeMinor),
		After:  merged.Version,
		Merged: merged,
	}, nil
}

func (c *ConfigAdminClient) EnableSharding(ctx context.Context, dbName, primaryShard string) error {
	args := EnableShardingArgs{DBName: dbName, PrimaryShard: primaryShard, WriteConcern: "majority"}
	var reply struct {
		OK     bool   `json:"ok"`
		ErrMsg string `json:"errmsg,omitempty"`
	}
	if err := c.client.Call(ctx, c.baseURL+"/_configsvrEnableSharding", args, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("enableSharding rejected by %s: %s", c.baseURL, reply.ErrMsg)
	}
	return nil
}

func (c *ConfigAdminClient) UpdateZoneKeyRange(ctx context.Context, ns string, rng meta.ChunkRange, zone string) error {
	args := UpdateZoneKeyRangeArgs{NS: ns, Min: rawOrNil(rng.Min), Max: rawOrNil(rng.Max), Zone: zone, WriteConcern: "majority"}
	var reply struct {
		OK     bool   `json:"ok"`
		ErrMsg string `json:"errmsg,omitempty"`
	}
	if err := c.client.Call(ctx, c.baseURL+"/_configsvrUpdateZoneKeyRange", args, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("updateZoneKeyRange rejected by %s: %s", c.baseURL, reply.ErrMsg)
	}
	return nil
}
