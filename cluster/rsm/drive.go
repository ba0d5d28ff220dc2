/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package rsm

import (
	"context"
	"time"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"golang.org/x/sync/errgroup"
)

// Prober issues the ismaster probe to a host and returns the reply, the
// observed round-trip time, or an error if the probe failed.
type Prober interface {
	Probe(ctx context.Context, h meta.Host) (IsMasterReply, time.Duration, error)
}

// RunScan drives one full scan to completion, fanning out ContactHost
// steps concurrently via errgroup and feeding replies back into the
// monitor. It returns when NextStep reports Done.
func (m *Monitor) RunScan(ctx context.Context, p Prober) error {
	m.StartScan()
	g, ctx := errgroup.WithContext(ctx)
	for {
		step := m.NextStep()
		switch step.Kind {
		case StepDone:
			return g.Wait()
		case StepWait:
			// nothing new to dispatch; rely on in-flight probes to
			// advance the scan. A brief yield avoids a busy loop.
			time.Sleep(time.Millisecond)
		case StepContactHost:
			h := step.Host
			g.Go(func() error {
				reply, rtt, err := p.Probe(ctx, h)
				if m.stats != nil {
					m.stats.ObserveScanProbe(m.setName, h.String(), rtt.Seconds(), err == nil)
				}
				if err != nil {
					m.ScanFailed(h, err)
					return nil
				}
				m.ReceivedIsMaster(h, rtt, reply)
				return nil
			})
		}
	}
}
