/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package shardver

import (
	"github.com/shardkeep/clustercoord/cluster/meta"
)

// SetShardVersionArgs mirrors the §6 setShardVersion wire command.
type SetShardVersionArgs struct {
	Namespace             string
	Version               meta.ChunkVersion
	Init                  bool
	Authoritative         bool
	ForceRefresh          bool
	NoConnectionVersioning bool
}

// SetShardVersionResult mirrors its reply shape.
type SetShardVersionResult struct {
	OldVersion       meta.ChunkVersion
	OK               bool
	NeedAuthoritative bool
	ReloadConfig     bool
	GlobalVersion    meta.ChunkVersion
}

// SetShardVersion implements the supplemented authoritative/init handshake
// (§6 setShardVersion): the first time a shard is told about a namespace
// (Init) it must be given an authoritative version or it asks for one;
// thereafter, non-authoritative callers asking to move the version
// backward within the same epoch without ForceRefresh are told to reload.
// A version from a different epoch is accepted.
func (c *Checker) SetShardVersion(args SetShardVersionArgs) SetShardVersionResult {
	old := c.filtered(args.Namespace)
	res := SetShardVersionResult{OldVersion: old, GlobalVersion: old}

	if args.Init && !old.IsSet() && !args.Authoritative {
		res.NeedAuthoritative = true
		return res
	}

	if !args.Authoritative && old.IsSet() && args.Version.IsSet() && old.SameEpoch(args.Version) && args.Version.Less(old) && !args.ForceRefresh {
		res.ReloadConfig = true
		return res
	}

	c.SetFiltered(args.Namespace, args.Version)
	res.OK = true
	res.GlobalVersion = args.Version
	return res
}

// GetShardVersionResult mirrors the §6 getShardVersion reply shape.
type GetShardVersionResult struct {
	ConfigServer  string
	InShardedMode bool
	Mine          meta.ChunkVersion
	Global        meta.ChunkVersion
}

func (c *Checker) GetShardVersion(ns, configServer string) GetShardVersionResult {
	v := c.filtered(ns)
	return GetShardVersionResult{ConfigServer: configServer, InShardedMode: v.IsSet(), Mine: v, Global: v}
}
