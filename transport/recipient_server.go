/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/nlog"
	"github.com/shardkeep/clustercoord/migration/recipient"
)

// RecipientServer exposes a *recipient.Machine over the §6
// _recvChunkStart/_recvChunkStatus/_recvChunkCommit/_recvChunkAbort
// endpoints a remote donor.Machine drives through RecipientClient.
type RecipientServer struct {
	machine *recipient.Machine
	srv     *fasthttp.Server
}

func NewRecipientServer(m *recipient.Machine) *RecipientServer {
	s := &RecipientServer{machine: m}
	s.srv = &fasthttp.Server{Handler: s.route}
	return s
}

func (s *RecipientServer) ListenAndServe(addr string) error {
	nlog.Infof("recipient server: listening on %s", addr)
	return s.srv.ListenAndServe(addr)
}

func (s *RecipientServer) Shutdown() error { return s.srv.Shutdown() }

func (s *RecipientServer) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/_recvChunkStart":
		s.handleStart(ctx)
	case "/_recvChunkStatus":
		s.handleStatus(ctx)
	case "/_recvChunkCommit":
		s.handleCommit(ctx)
	case "/_recvChunkAbort":
		s.handleAbort(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *RecipientServer) handleStart(ctx *fasthttp.RequestCtx) {
	var args RecvChunkStartArgs
	if err := jsoniter.Unmarshal(ctx.PostBody(), &args); err != nil {
		errReply(ctx, err)
		return
	}
	rng := meta.NewChunkRange(shardKeyFromWireMin(args.Min), shardKeyFromWireMax(args.Max))
	token, err := s.machine.RecvChunkStart(ctx, args.SessionID, args.NS, rng, args.FromShard)
	if err != nil {
		errReply(ctx, err)
		return
	}
	writeJSON(ctx, RecvChunkStartReply{OK: true, Token: token})
}

type sessionIDArgs struct {
	SessionID string `json:"sessionId"`
}

func (s *RecipientServer) handleStatus(ctx *fasthttp.RequestCtx) {
	var args sessionIDArgs
	if err := jsoniter.Unmarshal(ctx.PostBody(), &args); err != nil {
		errReply(ctx, err)
		return
	}
	caughtUp, appliedTail, bytesCloned, pendingMods, err := s.machine.RecvChunkStatus(args.SessionID)
	if err != nil {
		errReply(ctx, err)
		return
	}
	writeJSON(ctx, RecvChunkStatusReply{
		OK:          true,
		CaughtUp:    caughtUp,
		AppliedTail: appliedTail,
		BytesCloned: bytesCloned,
		PendingMods: pendingMods,
	})
}

func (s *RecipientServer) handleCommit(ctx *fasthttp.RequestCtx) {
	var args sessionIDArgs
	if err := jsoniter.Unmarshal(ctx.PostBody(), &args); err != nil {
		errReply(ctx, err)
		return
	}
	if err := s.machine.RecvChunkCommit(ctx, args.SessionID); err != nil {
		errReply(ctx, err)
		return
	}
	writeJSON(ctx, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (s *RecipientServer) handleAbort(ctx *fasthttp.RequestCtx) {
	var args sessionIDArgs
	if err := jsoniter.Unmarshal(ctx.PostBody(), &args); err != nil {
		errReply(ctx, err)
		return
	}
	s.machine.RecvChunkAbort(args.SessionID)
	writeJSON(ctx, struct {
		OK bool `json:"ok"`
	}{OK: true})
}
