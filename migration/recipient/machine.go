// Package recipient implements the recipient side of chunk migration
// (C10): pulling the initial clone batch and mod-log tail from the donor
// and exposing the control endpoints the donor drives (§6
// _recvChunkStart/_recvChunkStatus/_recvChunkCommit/_recvChunkAbort).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package recipient

import (
	"context"
	"sync"

	"github.com/teris-io/shortid"

	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"
	"github.com/shardkeep/clustercoord/cmn/nlog"
)

// maxCloneBatchBytes bounds one pulled clone batch's serialized size (§4.3
// "serialized batch ≤ 16 MB").
const maxCloneBatchBytes = 16 << 20

// Donor is the recipient's view of the donor-side pull endpoints (§6
// _transferMods / _migrateClone).
type Donor interface {
	MigrateClone(ctx context.Context, sessionID string, cursor []byte) (docs [][]byte, nextCursor []byte, done bool, err error)
	TransferMods(ctx context.Context, sessionID string) (mods [][]byte, done bool, err error)
}

// Applier persists a pulled document or mod into the recipient's local
// storage. Storage itself is out of this package's scope; the recipient
// only owns the migration protocol's pull/apply sequencing.
type Applier interface {
	ApplyDoc(ctx context.Context, ns string, doc []byte) error
	ApplyMod(ctx context.Context, ns string, mod []byte) error
}

type phase int

const (
	phaseIdle phase = iota
	phaseCloning
	phaseCatchingUpMods
	phaseCaughtUp
	phaseCommitted
	phaseAborted
)

// session tracks one in-flight migration as seen from the recipient.
type session struct {
	mu          sync.Mutex
	token       string
	ns          string
	rng         meta.ChunkRange
	fromShard   string
	phase       phase
	bytesCloned int64
	pendingMods int
	lastErr     error
}

// Machine is the recipient-side control plane, keyed by donor session id.
type Machine struct {
	donor   Donor
	applier Applier

	mu       sync.Mutex
	sessions map[string]*session
}

func New(d Donor, a Applier) *Machine {
	return &Machine{donor: d, applier: a, sessions: make(map[string]*session)}
}

// RecvChunkStart handles _recvChunkStart: begins pulling the initial clone
// batch for a new session and returns a short-lived transfer token. The
// session is stored under donorSessionID, which subsequent calls use as
// their key; the token is not used for lookup.
func (m *Machine) RecvChunkStart(ctx context.Context, donorSessionID string, ns string, rng meta.ChunkRange, fromShard string) (string, error) {
	token, err := shortid.Generate()
	if err != nil {
		return "", cos.WrapErr(err, "generating transfer token")
	}
	s := &session{token: token, ns: ns, rng: rng, fromShard: fromShard, phase: phaseCloning}

	m.mu.Lock()
	m.sessions[donorSessionID] = s
	m.mu.Unlock()

	go m.runClone(context.Background(), donorSessionID, s)
	nlog.Infof("recipient: started pull for %s (%s), token=%s", ns, rng, token)
	return token, nil
}

func (m *Machine) runClone(ctx context.Context, donorSessionID string, s *session) {
	var cursor []byte
	for {
		docs, next, done, err := m.donor.MigrateClone(ctx, donorSessionID, cursor)
		if err != nil {
			m.fail(s, err)
			return
		}
		size := int64(0)
		for _, d := range docs {
			if err := m.applier.ApplyDoc(ctx, s.ns, d); err != nil {
				m.fail(s, err)
				return
			}
			size += int64(len(d))
		}
		if size > maxCloneBatchBytes {
			m.fail(s, cos.NewErrIllegalOperation("clone batch exceeded %d bytes", maxCloneBatchBytes))
			return
		}
		s.mu.Lock()
		s.bytesCloned += size
		s.mu.Unlock()
		cursor = next
		if done {
			break
		}
	}
	s.mu.Lock()
	s.phase = phaseCatchingUpMods
	s.mu.Unlock()
	m.drainMods(ctx, donorSessionID, s)
}

// drainMods pulls mod batches until both lists are empty and the donor's
// session-migration source is caught up to the commit point (§4.3).
func (m *Machine) drainMods(ctx context.Context, donorSessionID string, s *session) {
	for {
		mods, done, err := m.donor.TransferMods(ctx, donorSessionID)
		if err != nil {
			m.fail(s, err)
			return
		}
		for _, mod := range mods {
			if err := m.applier.ApplyMod(ctx, s.ns, mod); err != nil {
				m.fail(s, err)
				return
			}
		}
		s.mu.Lock()
		s.pendingMods = len(mods)
		s.mu.Unlock()
		if done && len(mods) == 0 {
			break
		}
	}
	s.mu.Lock()
	s.phase = phaseCaughtUp
	s.mu.Unlock()
}

func (m *Machine) fail(s *session, err error) {
	s.mu.Lock()
	s.phase = phaseAborted
	s.lastErr = err
	s.mu.Unlock()
	nlog.Errorf("recipient: session for %s failed: %v", s.ns, err)
}

// RecvChunkStatus handles _recvChunkStatus: reports caught-up state used by
// the donor's awaitCaughtUp step.
func (m *Machine) RecvChunkStatus(donorSessionID string) (caughtUp, appliedTail bool, bytesCloned int64, pendingMods int, err error) {
	s, ok := m.lookup(donorSessionID)
	if !ok {
		return false, false, 0, 0, cos.NewErrIllegalOperation("no migration session %s", donorSessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	caughtUp = s.phase == phaseCaughtUp || s.phase == phaseCommitted
	appliedTail = s.phase == phaseCommitted
	return caughtUp, appliedTail, s.bytesCloned, s.pendingMods, s.lastErr
}

// RecvChunkCommit handles _recvChunkCommit: applies the final mod tail
// (after the donor has entered its critical section, so no further writes
// arrive) and marks the session committed.
func (m *Machine) RecvChunkCommit(ctx context.Context, donorSessionID string) error {
	s, ok := m.lookup(donorSessionID)
	if !ok {
		return cos.NewErrIllegalOperation("no migration session %s", donorSessionID)
	}
	s.mu.Lock()
	if s.phase != phaseCaughtUp {
		s.mu.Unlock()
		return cos.NewErrIllegalOperation("session %s committed out of order (phase=%d)", donorSessionID, s.phase)
	}
	s.mu.Unlock()

	mods, _, err := m.donor.TransferMods(ctx, donorSessionID)
	if err != nil {
		return err
	}
	for _, mod := range mods {
		if err := m.applier.ApplyMod(ctx, s.ns, mod); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.phase = phaseCommitted
	s.mu.Unlock()
	return nil
}

// RecvChunkAbort handles _recvChunkAbort: tears down a session without
// applying anything further.
func (m *Machine) RecvChunkAbort(donorSessionID string) {
	s, ok := m.lookup(donorSessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.phase = phaseAborted
	s.mu.Unlock()
	m.mu.Lock()
	delete(m.sessions, donorSessionID)
	m.mu.Unlock()
}

func (m *Machine) lookup(donorSessionID string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[donorSessionID]
	return s, ok
}
