/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
)

// DonorClient implements recipient.Donor over HTTP against one donor
// shard's admin address, pulling the initial clone batch and mod-log tail
// via the §6 _migrateClone/_transferMods endpoints.
type DonorClient struct {
	client  *Client
	baseURL string
}

func NewDonorClient(c *Client, donorBaseURL string) *DonorClient {
	return &DonorClient{client: c, baseURL: donorBaseURL}
}

func (d *DonorClient) MigrateClone(ctx context.Context, sessionID string, cursor []byte) ([][]byte, []byte, bool, error) {
	args := MigrateCloneArgs{SessionID: sessionID, Cursor: cursor}
	var reply MigrateCloneReply
	if err := d.client.Call(ctx, d.baseURL+"/_migrateClone", args, &reply); err != nil {
		return nil, nil, false, err
	}
	return reply.Docs, reply.NextCursor, reply.Done, nil
}

func (d *DonorClient) TransferMods(ctx context.Context, sessionID string) ([][]byte, bool, error) {
	args := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	var reply TransferModsReply
	if err := d.client.Call(ctx, d.baseURL+"/_transferMods", args, &reply); err != nil {
		return nil, false, err
	}
	return reply.Mods, reply.Done, nil
}
