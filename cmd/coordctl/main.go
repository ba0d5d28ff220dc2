// Command coordctl is a thin admin CLI over the config-server's §6 admin
// surface: it parses arguments and calls into transport.ConfigAdminClient
// and transport.RoutingClient. It carries no command logic of its own —
// every operation is a flag-to-wire-argument translation, per the
// CLI-commands-that-merely-parse-arguments framing of catalog commands.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/transport"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	client := transport.NewClient()

	var err error
	switch cmd {
	case "split":
		err = runSplit(client, args)
	case "merge":
		err = runMerge(client, args)
	case "migrate":
		err = runMigrate(client, args)
	case "chunks":
		err = runChunks(client, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "coordctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: coordctl <split|merge|migrate|chunks> [flags]")
}

func splitKey(s string) meta.ShardKey { return meta.NewShardKey([]byte(s)) }

func splitKeys(s string) []meta.ShardKey {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]meta.ShardKey, len(parts))
	for i, p := range parts {
		out[i] = splitKey(p)
	}
	return out
}

func runSplit(c *transport.Client, args []string) error {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	configsvr := fs.String("configsvr", "http://127.0.0.1:27019", "config server base URL")
	ns := fs.String("ns", "", "namespace")
	epoch := fs.String("epoch", "", "collection epoch (hex)")
	min := fs.String("min", "", "chunk range min")
	max := fs.String("max", "", "chunk range max")
	points := fs.String("at", "", "comma-separated split points")
	shard := fs.String("shard", "", "owning shard")
	fs.Parse(args)

	e, err := meta.ParseEpoch(*epoch)
	if err != nil {
		return err
	}
	admin := transport.NewConfigAdminClient(c, *configsvr)
	rng := meta.NewChunkRange(splitKey(*min), splitKey(*max))
	res, err := admin.CommitSplit(context.Background(), *ns, e, rng, splitKeys(*points), *shard)
	if err != nil {
		return err
	}
	fmt.Printf("split committed: %d new chunks, version %d.%d -> %d.%d\n",
		len(res.NewChunks), res.Before.Major, res.Before.Minor, res.After.Major, res.After.Minor)
	return nil
}

func runMerge(c *transport.Client, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	configsvr := fs.String("configsvr", "http://127.0.0.1:27019", "config server base URL")
	ns := fs.String("ns", "", "namespace")
	epoch := fs.String("epoch", "", "collection epoch (hex)")
	bounds := fs.String("bounds", "", "comma-separated chunk boundaries")
	shard := fs.String("shard", "", "owning shard")
	fs.Parse(args)

	e, err := meta.ParseEpoch(*epoch)
	if err != nil {
		return err
	}
	admin := transport.NewConfigAdminClient(c, *configsvr)
	res, err := admin.CommitMerge(context.Background(), *ns, e, splitKeys(*bounds), *shard, nil)
	if err != nil {
		return err
	}
	fmt.Printf("merge committed: range %s, version %d.%d -> %d.%d\n",
		res.Merged.Range, res.Before.Major, res.Before.Minor, res.After.Major, res.After.Minor)
	return nil
}

func runMigrate(c *transport.Client, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configsvr := fs.String("configsvr", "http://127.0.0.1:27019", "config server base URL")
	ns := fs.String("ns", "", "namespace")
	epoch := fs.String("epoch", "", "collection epoch (hex)")
	min := fs.String("min", "", "chunk range min")
	max := fs.String("max", "", "chunk range max")
	from := fs.String("from", "", "donor shard")
	to := fs.String("to", "", "recipient shard")
	fs.Parse(args)

	e, err := meta.ParseEpoch(*epoch)
	if err != nil {
		return err
	}
	admin := transport.NewConfigAdminClient(c, *configsvr)
	rng := meta.NewChunkRange(splitKey(*min), splitKey(*max))
	res, err := admin.CommitMigration(context.Background(), *ns, rng, e, *from, *to, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("migration committed: %s -> %s, version %d.%d -> %d.%d\n",
		*from, *to, res.Before.Major, res.Before.Minor, res.After.Major, res.After.Minor)
	return nil
}

func runChunks(c *transport.Client, args []string) error {
	fs := flag.NewFlagSet("chunks", flag.ExitOnError)
	configsvr := fs.String("configsvr", "http://127.0.0.1:27019", "config server base URL")
	ns := fs.String("ns", "", "namespace")
	fs.Parse(args)

	rc := transport.NewRoutingClient(c, *configsvr)
	epoch, chunks, err := rc.FetchChunks(context.Background(), *ns)
	if err != nil {
		return err
	}
	fmt.Printf("namespace %s, epoch %s, %d chunks\n", *ns, epoch, len(chunks))
	for _, ch := range chunks {
		fmt.Printf("  %s -> %s (v%d.%d)\n", ch.Range, ch.Shard, ch.Version.Major, ch.Version.Minor)
	}
	return nil
}
