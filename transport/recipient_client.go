/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"fmt"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/migration/donor"
)

// RecipientClient implements donor.Recipient over HTTP against one
// recipient shard's admin address, driving its §6
// _recvChunkStart/_recvChunkStatus/_recvChunkCommit/_recvChunkAbort
// endpoints.
type RecipientClient struct {
	client  *Client
	baseURL string
	ns      string
}

// NewRecipientClient binds a client to one migration's namespace and
// recipient address — donor.Recipient's Start method carries no namespace
// argument of its own, so it must be fixed at construction, matching how
// a donor.Machine is itself built fresh per migration.
func NewRecipientClient(c *Client, recipientBaseURL, ns string) *RecipientClient {
	return &RecipientClient{client: c, baseURL: recipientBaseURL, ns: ns}
}

func (r *RecipientClient) Start(ctx context.Context, sessionID string, rng meta.ChunkRange, fromShard string) error {
	args := RecvChunkStartArgs{
		NS:        r.ns,
		SessionID: sessionID,
		Min:       rawOrNil(rng.Min),
		Max:       rawOrNil(rng.Max),
		FromShard: fromShard,
	}
	var reply RecvChunkStartReply
	if err := r.client.Call(ctx, r.baseURL+"/_recvChunkStart", args, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("recvChunkStart rejected by %s", r.baseURL)
	}
	return nil
}

func (r *RecipientClient) Status(ctx context.Context, sessionID string) (donor.RecipientStatus, error) {
	var reply RecvChunkStatusReply
	args := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	if err := r.client.Call(ctx, r.baseURL+"/_recvChunkStatus", args, &reply); err != nil {
		return donor.RecipientStatus{}, err
	}
	return donor.RecipientStatus{
		CaughtUp:    reply.CaughtUp,
		AppliedTail: reply.AppliedTail,
		BytesCloned: reply.BytesCloned,
		PendingMods: reply.PendingMods,
	}, nil
}

func (r *RecipientClient) Commit(ctx context.Context, sessionID string) error {
	args := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	return r.client.Call(ctx, r.baseURL+"/_recvChunkCommit", args, nil)
}

func (r *RecipientClient) Abort(ctx context.Context, sessionID string) error {
	args := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	return r.client.Call(ctx, r.baseURL+"/_recvChunkAbort", args, nil)
}

// rawOrNil returns k's raw bytes, or nil for the MinKey/MaxKey sentinels —
// the wire encoding routing_client.go's shardKeyFromWireMin/Max decode on
// the receiving end.
func rawOrNil(k meta.ShardKey) []byte {
	if k.Equal(meta.MinKey) || k.Equal(meta.MaxKey) {
		return nil
	}
	return k.Raw
}
