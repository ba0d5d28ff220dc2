/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/shardkeep/clustercoord/catalog"
	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/nlog"
)

// ConfigAdminServer exposes a *catalog.Manager over the §6 config-server
// admin surface so a shard process without in-process access to the
// catalog can drive split/merge/migration commits via ConfigAdminClient.
type ConfigAdminServer struct {
	mgr *catalog.Manager
	srv *fasthttp.Server
}

func NewConfigAdminServer(mgr *catalog.Manager) *ConfigAdminServer {
	s := &ConfigAdminServer{mgr: mgr}
	s.srv = &fasthttp.Server{Handler: s.route}
	return s
}

func (s *ConfigAdminServer) ListenAndServe(addr string) error {
	nlog.Infof("config admin server: listening on %s", addr)
	return s.srv.ListenAndServe(addr)
}

func (s *ConfigAdminServer) Shutdown() error { return s.srv.Shutdown() }

func (s *ConfigAdminServer) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/_configsvrCommitChunkSplit":
		s.handleCommitSplit(ctx)
	case "/_configsvrCommitChunkMerge":
		s.handleCommitMerge(ctx)
	case "/_configsvrCommitChunkMigration":
		s.handleCommitMigration(ctx)
	case "/chunks":
		s.handleFetchChunks(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func errReply(ctx *fasthttp.RequestCtx, err error) {
	ctx.SetStatusCode(fasthttp.StatusOK) // errors are reported in-body, matching §6's ok:0 convention
	body, _ := jsoniter.Marshal(struct {
		OK     bool   `json:"ok"`
		ErrMsg string `json:"errmsg"`
	}{OK: false, ErrMsg: err.Error()})
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (s *ConfigAdminServer) handleCommitSplit(ctx *fasthttp.RequestCtx) {
	var args CommitChunkSplitArgs
	if err := jsoniter.Unmarshal(ctx.PostBody(), &args); err != nil {
		errReply(ctx, err)
		return
	}
	epoch, err := decodeEpoch(args.CollEpoch)
	if err != nil {
		errReply(ctx, err)
		return
	}
	rng := meta.NewChunkRange(shardKeyFromWireMin(args.Min), shardKeyFromWireMax(args.Max))
	splitPoints := make([]meta.ShardKey, len(args.SplitPoints))
	for i, p := range args.SplitPoints {
		splitPoints[i] = meta.NewShardKey(p)
	}
	res, err := s.mgr.CommitSplit(ctx, args.NS, epoch, rng, splitPoints, args.Shard)
	if err != nil {
		errReply(ctx, err)
		return
	}
	reply := SplitCommitReply{
		OK:          true,
		Epoch:       res.After.Epoch.String(),
		BeforeMajor: res.Before.Major,
		BeforeMinor: res.Before.Minor,
	}
	for _, c := range res.NewChunks {
		reply.NewChunks = append(reply.NewChunks, chunkToWire(c))
	}
	if res.ShouldMigrate != nil {
		reply.ShouldMigrate = &ShouldMigrate{Min: rawOrNil(res.ShouldMigrate.Min), Max: rawOrNil(res.ShouldMigrate.Max)}
	}
	writeJSON(ctx, reply)
}

func (s *ConfigAdminServer) handleCommitMerge(ctx *fasthttp.RequestCtx) {
	var args CommitChunkMergeArgs
	if err := jsoniter.Unmarshal(ctx.PostBody(), &args); err != nil {
		errReply(ctx, err)
		return
	}
	epoch, err := decodeEpoch(args.CollEpoch)
	if err != nil {
		errReply(ctx, err)
		return
	}
	boundaries := decodeBoundaries(args.ChunkBoundaries)
	res, err := s.mgr.CommitMerge(ctx, args.NS, epoch, boundaries, args.Shard, args.ValidAfter)
	if err != nil {
		errReply(ctx, err)
		return
	}
	writeJSON(ctx, MergeCommitReply{
		OK:          true,
		Epoch:       res.After.Epoch.String(),
		BeforeMajor: res.Before.Major,
		BeforeMinor: res.Before.Minor,
		Merged:      chunkToWire(res.Merged),
	})
}

func (s *ConfigAdminServer) handleCommitMigration(ctx *fasthttp.RequestCtx) {
	var args CommitChunkMigrationArgs
	if err := jsoniter.Unmarshal(ctx.PostBody(), &args); err != nil {
		errReply(ctx, err)
		return
	}
	epoch, err := decodeEpoch(args.CollEpoch)
	if err != nil {
		errReply(ctx, err)
		return
	}
	rng := meta.NewChunkRange(shardKeyFromWireMin(args.MigratedChunk.Min), shardKeyFromWireMax(args.MigratedChunk.Max))
	res, err := s.mgr.CommitMigration(ctx, args.NS, rng, epoch, args.FromShard, args.ToShard, args.ValidAfter)
	if err != nil {
		errReply(ctx, err)
		return
	}
	reply := MigrationCommitReply{
		OK:          true,
		Epoch:       res.After.Epoch.String(),
		BeforeMajor: res.Before.Major,
		BeforeMinor: res.Before.Minor,
		Migrated:    chunkToWire(res.Migrated),
	}
	if res.Control != nil {
		rec := chunkToWire(res.Control)
		reply.Control = &rec
	}
	writeJSON(ctx, reply)
}

// handleFetchChunks serves the routing cache's (and coordctl's) read side:
// the current chunk set for a namespace, as reported by the catalog's own
// partition snapshot (§6 "list chunks for namespace").
func (s *ConfigAdminServer) handleFetchChunks(ctx *fasthttp.RequestCtx) {
	var args struct {
		NS string `json:"ns"`
	}
	if err := jsoniter.Unmarshal(ctx.PostBody(), &args); err != nil {
		errReply(ctx, err)
		return
	}
	st, err := s.mgr.Status(args.NS)
	if err != nil {
		errReply(ctx, err)
		return
	}
	reply := FetchChunksReply{Epoch: st.Version.Epoch.String()}
	for _, c := range st.Chunks {
		reply.Chunks = append(reply.Chunks, chunkToWire(c))
	}
	writeJSON(ctx, reply)
}

// decodeBoundaries converts a merge's boundary list, honoring that only
// the first and last entries may carry the MinKey/MaxKey sentinels —
// every interior boundary is a genuine split point (§4.2 merge algorithm).
func decodeBoundaries(raw [][]byte) []meta.ShardKey {
	out := make([]meta.ShardKey, len(raw))
	for i, b := range raw {
		switch i {
		case 0:
			out[i] = shardKeyFromWireMin(b)
		case len(raw) - 1:
			out[i] = shardKeyFromWireMax(b)
		default:
			out[i] = meta.NewShardKey(b)
		}
	}
	return out
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	body, err := jsoniter.Marshal(v)
	if err != nil {
		errReply(ctx, err)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
