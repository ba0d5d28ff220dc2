/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cluster/rsm"
)

// IsMasterProber implements rsm.Prober over HTTP: POST an ismaster probe
// to a host and translate the wire reply into rsm.IsMasterReply.
type IsMasterProber struct {
	client *Client
	scheme string
}

func NewIsMasterProber(c *Client) *IsMasterProber { return &IsMasterProber{client: c, scheme: "http"} }

func (p *IsMasterProber) Probe(ctx context.Context, h meta.Host) (rsm.IsMasterReply, time.Duration, error) {
	url := fmt.Sprintf("%s://%s/ismaster", p.scheme, h.String())
	start := time.Now()
	var wire IsMasterReply
	if err := p.client.Call(ctx, url, struct{ IsMaster int }{IsMaster: 1}, &wire); err != nil {
		return rsm.IsMasterReply{}, time.Since(start), err
	}
	rtt := time.Since(start)

	var eid rsm.ElectionID
	if raw, err := hex.DecodeString(wire.ElectionID); err == nil && len(raw) == len(eid) {
		copy(eid[:], raw)
	}

	reply := rsm.IsMasterReply{
		SetName:       wire.SetName,
		SetVersion:    int64(wire.SetVersion),
		ElectionID:    eid,
		IsMaster:      wire.IsMaster,
		Secondary:     wire.Secondary,
		Hidden:        wire.Hidden,
		Passive:       wire.Passive,
		Hosts:         parseHosts(wire.Hosts),
		Passives:      parseHosts(wire.Passives),
		Primary:       parseHost(wire.Primary),
		Me:            parseHost(wire.Me),
		Tags:          wire.Tags,
		LastWriteDate: wire.LastWrite.LastWriteDate,
		OpTime:        meta.OpTime{T: uint32(wire.LastWrite.OpTime.TS), I: uint32(wire.LastWrite.OpTime.Term)},
		OK:            wire.OK,
	}
	return reply, rtt, nil
}

func parseHost(s string) meta.Host {
	if s == "" {
		return meta.Host{}
	}
	addr, portStr, found := strings.Cut(s, ":")
	if !found {
		return meta.NewHost(addr, 0)
	}
	port, _ := strconv.Atoi(portStr)
	return meta.NewHost(addr, port)
}

func parseHosts(ss []string) []meta.Host {
	out := make([]meta.Host, 0, len(ss))
	for _, s := range ss {
		out = append(out, parseHost(s))
	}
	return out
}
