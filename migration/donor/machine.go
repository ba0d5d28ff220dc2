// Package donor implements the donor side of chunk migration (C9): the
// state machine driving one chunk from an owning shard to a recipient
// shard, committing ownership exactly once.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package donor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shardkeep/clustercoord/catalog"
	"github.com/shardkeep/clustercoord/cluster/meta"
	"github.com/shardkeep/clustercoord/cmn/cos"
	"github.com/shardkeep/clustercoord/cmn/nlog"
	"github.com/shardkeep/clustercoord/cmn/xstats"
	"github.com/shardkeep/clustercoord/routing"
)

// State is one step of the donor's linear transition sequence (§4.3).
type State int

const (
	StateCreated State = iota
	StateCloning
	StateCloneCaughtUp
	StateCriticalSection
	StateCloneCompleted
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "kCreated"
	case StateCloning:
		return "kCloning"
	case StateCloneCaughtUp:
		return "kCloneCaughtUp"
	case StateCriticalSection:
		return "kCriticalSection"
	case StateCloneCompleted:
		return "kCloneCompleted"
	case StateDone:
		return "kDone"
	default:
		return "unknown"
	}
}

// MutationKind classifies an in-flight write observed during clone.
type MutationKind int

const (
	MutationReload MutationKind = iota
	MutationDelete
	MutationSessionOplog
)

// Recipient is the donor's view of the recipient-side control plane (§6
// _recvChunkStart / _recvChunkStatus / _recvChunkCommit / _recvChunkAbort).
type Recipient interface {
	Start(ctx context.Context, sessionID string, rng meta.ChunkRange, fromShard string) error
	Status(ctx context.Context, sessionID string) (RecipientStatus, error)
	Commit(ctx context.Context, sessionID string) error
	Abort(ctx context.Context, sessionID string) error
}

// RecipientStatus is the recipient's self-reported clone progress.
type RecipientStatus struct {
	CaughtUp     bool // initial batch + mod log consumed
	AppliedTail  bool // final tail applied (post-critical-section)
	BytesCloned  int64
	PendingMods  int
}

// CatalogCommitter is the subset of *catalog.Manager the donor needs.
type CatalogCommitter interface {
	CommitMigration(ctx context.Context, ns string, rng meta.ChunkRange, epoch meta.Epoch, fromShard, toShard string, validAfter time.Time) (*catalog.MigrationResult, error)
}

// ConfigRefresher lets the donor re-read routing state when a config-server
// commit's outcome is unknown (§4.3 commit-ordering recovery path).
type ConfigRefresher interface {
	Refresh(ctx context.Context, ns string) (*routing.Table, error)
}

// Machine drives one chunk migration from the donor side.
type Machine struct {
	SessionID string

	ns        string
	rng       meta.ChunkRange
	epoch     meta.Epoch
	fromShard string
	toShard   string

	recipient Recipient
	catalog   CatalogCommitter
	refresher ConfigRefresher

	mu       sync.Mutex
	state    State
	critsec  bool
	critCond *sync.Cond
	lastErr  error

	reload  *recordSet
	deleted *recordSet
	oplog   *recordSet

	cleanupOnce sync.Once

	stats      *xstats.Registry
	phaseStart time.Time
}

// SetStats attaches a metrics registry; nil (the zero value) leaves phase
// transitions unmeasured. Call before Run.
func (m *Machine) SetStats(s *xstats.Registry) { m.stats = s }

type Config struct {
	Namespace string
	Range     meta.ChunkRange
	Epoch     meta.Epoch
	FromShard string
	ToShard   string
	Recipient Recipient
	Catalog   CatalogCommitter
	Refresher ConfigRefresher
}

// New constructs a donor machine in kCreated, having read a stable
// collection snapshot (the caller supplies epoch/range/shards already
// resolved against that snapshot, matching "construction; reads a stable
// collection snapshot" in §4.3's state table).
func New(cfg Config) *Machine {
	m := &Machine{
		SessionID: uuid.NewString(),
		ns:        cfg.Namespace,
		rng:       cfg.Range,
		epoch:     cfg.Epoch,
		fromShard: cfg.FromShard,
		toShard:   cfg.ToShard,
		recipient: cfg.Recipient,
		catalog:   cfg.Catalog,
		refresher: cfg.Refresher,
		state:     StateCreated,
		reload:    newRecordSet(1 << 16),
		deleted:   newRecordSet(1 << 16),
		oplog:     newRecordSet(1 << 12),
	}
	m.critCond = sync.NewCond(&m.mu)
	m.phaseStart = time.Now()
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	elapsed := time.Since(m.phaseStart)
	m.phaseStart = time.Now()
	m.mu.Unlock()
	if m.stats != nil {
		m.stats.ObserveMigrationPhase(prev.String(), elapsed.Seconds())
	}
	nlog.Infof("migration %s: %s -> %s", m.SessionID, m.ns, s)
}

// RecordMutation appends id to the appropriate in-flight list (§4.3 "while
// cloning, every insert/update/delete in the range is appended to one of
// three in-memory lists"). Safe to call concurrently with Run.
func (m *Machine) RecordMutation(kind MutationKind, id []byte) {
	switch kind {
	case MutationReload:
		m.reload.Add(id)
	case MutationDelete:
		m.deleted.Add(id)
	case MutationSessionOplog:
		m.oplog.Add(id)
	}
}

// pendingCount reports outstanding mod-list entries, used by Run's
// catch-up wait and by Status.
func (m *Machine) pendingCount() uint {
	return m.reload.Len() + m.deleted.Len() + m.oplog.Len()
}

// Run drives the machine from kCreated through to kDone, returning the
// terminal error (nil on success). It is the single entry point; callers
// do not invoke individual transitions directly.
func (m *Machine) Run(ctx context.Context) error {
	steps := []func(context.Context) error{
		m.startClone,
		m.awaitCaughtUp,
		m.enterCriticalSection,
		m.commitChunkOnRecipient,
		m.commitChunkMetadataOnConfig,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			m.cleanup(err)
			return err
		}
	}
	m.setState(StateDone)
	return nil
}

func (m *Machine) startClone(ctx context.Context) error {
	m.setState(StateCloning)
	return m.recipient.Start(ctx, m.SessionID, m.rng, m.fromShard)
}

// awaitCaughtUp polls until the recipient reports it has consumed the
// initial clone batch and current mod log, or ctx is cancelled.
func (m *Machine) awaitCaughtUp(ctx context.Context) error {
	for {
		st, err := m.recipient.Status(ctx, m.SessionID)
		if err != nil {
			return err
		}
		if st.CaughtUp && m.pendingCount() == 0 {
			m.setState(StateCloneCaughtUp)
			return nil
		}
		select {
		case <-ctx.Done():
			return cos.ErrInterrupted
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// enterCriticalSection blocks all writers on the range (§4.3 critical
// section contract) by flipping critsec. Waiters attached via
// WaitForCriticalSectionClear (used by shardver's wait path, §4.4) stay
// blocked until the section is left.
func (m *Machine) enterCriticalSection(ctx context.Context) error {
	m.mu.Lock()
	m.critsec = true
	m.state = StateCriticalSection
	m.mu.Unlock()
	nlog.Infof("migration %s: %s entering critical section", m.SessionID, m.ns)
	return nil
}

// InCriticalSection reports whether writers to the range should currently
// be rejected (§4.4 step 4).
func (m *Machine) InCriticalSection() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.critsec
}

// WaitForCriticalSectionClear blocks until the critical section lifts or
// ctx is done, for callers that want to retry a shard-version check rather
// than fail immediately.
func (m *Machine) WaitForCriticalSectionClear(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		for m.critsec {
			m.critCond.Wait()
		}
		m.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return cos.ErrInterrupted
	}
}

func (m *Machine) leaveCriticalSection() {
	m.mu.Lock()
	m.critsec = false
	m.critCond.Broadcast()
	m.mu.Unlock()
}

func (m *Machine) commitChunkOnRecipient(ctx context.Context) error {
	if err := m.recipient.Commit(ctx, m.SessionID); err != nil {
		return err
	}
	m.setState(StateCloneCompleted)
	return nil
}

// commitChunkMetadataOnConfig implements the §4.3 commit-ordering recovery
// path: recipient commit has already happened; if the config-server commit
// fails, the donor must refresh and check whether the ownership change
// landed anyway before declaring failure. No ownership change is ever
// inferred from recipient acknowledgment alone — only from what the config
// server (or a refresh against it) actually shows.
func (m *Machine) commitChunkMetadataOnConfig(ctx context.Context) error {
	validAfter := time.Now()
	_, err := m.catalog.CommitMigration(ctx, m.ns, m.rng, m.epoch, m.fromShard, m.toShard, validAfter)
	if err == nil {
		m.leaveCriticalSection()
		return nil
	}

	if !cos.Retriable(err) {
		return err
	}

	tbl, rerr := m.refresher.Refresh(ctx, m.ns)
	if rerr != nil {
		return cos.WrapErr(rerr, "commit outcome unknown and refresh failed (original: %v)", err)
	}
	if shard, ok := tbl.ShardFor(m.rng.Min); ok && shard == m.toShard {
		nlog.Infof("migration %s: config commit outcome recovered via refresh, ownership landed", m.SessionID)
		m.leaveCriticalSection()
		return nil
	}
	return err
}

// cleanup releases the critical-section latch if it is held, records cause
// as the terminal error, moves the machine to kDone and logs the failure.
// It does not deregister a cloner, restore prior chunk metadata, or write a
// change-log entry. Idempotent: only the first call has any effect.
func (m *Machine) cleanup(cause error) {
	m.cleanupOnce.Do(func() {
		m.mu.Lock()
		wasInCritSec := m.critsec
		m.critsec = false
		m.lastErr = cause
		m.state = StateDone
		m.critCond.Broadcast()
		m.mu.Unlock()

		if wasInCritSec {
			nlog.Warningf("migration %s: %s aborted while in critical section, releasing latch", m.SessionID, m.ns)
		}
		if cause != nil {
			nlog.Errorf("migration %s: %s failed: %v", m.SessionID, m.ns, cause)
		}
	})
}

// Abort cancels an in-flight migration from the outside (e.g. operator
// request), routing through the same idempotent cleanup path as any other
// failure.
func (m *Machine) Abort(ctx context.Context, reason error) {
	if reason == nil {
		reason = fmt.Errorf("migration aborted")
	}
	_ = m.recipient.Abort(ctx, m.SessionID)
	m.cleanup(reason)
}

// WaitForDelete blocks for the post-migration range deletion on the donor
// to become majority-replicated before returning, when the caller asked
// for it (§4.3 waitForDelete). donorDeleteDone is supplied by the caller
// (the actual delete-and-replicate machinery lives outside this package's
// scope — it owns only the migration protocol, not storage cleanup).
func (m *Machine) WaitForDelete(ctx context.Context, donorDeleteDone <-chan struct{}) error {
	select {
	case <-donorDeleteDone:
		return nil
	case <-ctx.Done():
		return cos.ErrInterrupted
	}
}

// Status is a point-in-time diagnostic snapshot. It is not exported as a
// metric; phase durations reach xstats through setState.
type Status struct {
	SessionID string
	State     State
	Pending   uint
	LastErr   error
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{SessionID: m.SessionID, State: m.state, Pending: m.pendingCount(), LastErr: m.lastErr}
}
