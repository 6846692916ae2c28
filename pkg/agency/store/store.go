// Package store implements the agency: the replicated, path-addressed
// key/value tree supervision reads snapshots from and writes conditional
// transactions into, plus the non-replicated transient tree that holds
// per-server heartbeat state. It is the RAFT FSM's state and the thing
// pkg/supervision talks to; it never talks to RAFT directly except through
// the pkg/consensus.Consensus it is handed at construction.
package store

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "sync"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/consensus"
    "github.com/amirimatin/go-cluster/pkg/internal/logutil"
    "github.com/amirimatin/go-cluster/pkg/state"
)

// WriteResult is returned to a caller of SubmitWrite.
type WriteResult struct {
    Index  uint64
    Result state.EnvelopeResult
}

// Store owns the committed (replicated) and transient (leader-local) trees
// and bridges between the agency/txn wire format and the RAFT log.
type Store struct {
    mu        sync.RWMutex
    committed *tree.Node

    tmu       sync.RWMutex
    transient *tree.Node

    cons   consensus.Consensus
    logger *log.Logger

    lmu         sync.Mutex
    leaderSince time.Time
    wasLeader   bool

    stopCh chan struct{}
}

// New creates an empty Store backed by cons. Start must be called once the
// owning node begins running to track leadership transitions.
func New(cons consensus.Consensus, logger *log.Logger) *Store {
    return &Store{
        committed: tree.Object(),
        transient: tree.Object(),
        cons:      cons,
        logger:    logger,
        stopCh:    make(chan struct{}),
    }
}

// Start spawns the leadership-poll loop. It returns immediately; the loop
// stops when ctx is done or Stop is called.
func (s *Store) Start(ctx context.Context) {
    go s.pollLeadership(ctx)
}

// Stop terminates the leadership-poll loop.
func (s *Store) Stop() {
    select {
    case <-s.stopCh:
    default:
        close(s.stopCh)
    }
}

// pollLeadership mirrors the teacher's electionWatchLoop poll style: RAFT
// exposes leadership as a point-in-time boolean, so detecting the edge (and
// resetting transient state on it, per the "a leader change drops
// heartbeats" rule) means polling rather than subscribing.
func (s *Store) pollLeadership(ctx context.Context) {
    ticker := time.NewTicker(200 * time.Millisecond)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-s.stopCh:
            return
        case <-ticker.C:
            s.observeLeadership()
        }
    }
}

func (s *Store) observeLeadership() {
    now := s.cons.IsLeader()
    s.lmu.Lock()
    defer s.lmu.Unlock()
    if now && !s.wasLeader {
        s.leaderSince = time.Now()
        s.resetTransient()
        logutil.Infof(s.logger, "agency: became leader, transient tree reset")
    } else if !now && s.wasLeader {
        logutil.Infof(s.logger, "agency: lost leadership")
    }
    s.wasLeader = now
}

func (s *Store) resetTransient() {
    s.tmu.Lock()
    defer s.tmu.Unlock()
    s.transient = tree.Object()
}

// IsLeader reports whether the underlying consensus engine currently
// believes this node is leader.
func (s *Store) IsLeader() bool { return s.cons.IsLeader() }

// LeaderFor returns how long this node has continuously held leadership, or
// zero if it is not currently leader.
func (s *Store) LeaderFor() time.Duration {
    if !s.cons.IsLeader() {
        return 0
    }
    s.lmu.Lock()
    defer s.lmu.Unlock()
    if s.leaderSince.IsZero() {
        return 0
    }
    return time.Since(s.leaderSince)
}

// PrepareLeadershipDone reports whether the consensus engine has finished
// applying its own log up to the point it won the election, per spec §6's
// "prepare_leadership_done()" gate. Engines that don't implement
// consensus.LeadershipPreparer are assumed always ready.
func (s *Store) PrepareLeadershipDone() bool {
    if p, ok := s.cons.(consensus.LeadershipPreparer); ok {
        return p.PrepareLeadershipDone()
    }
    return true
}

// ReadSnapshot returns a read-only view of the committed tree rooted at
// prefix (or the whole tree if prefix is "/" or empty).
func (s *Store) ReadSnapshot(prefix string) tree.Tree {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return subTree(s.committed, prefix)
}

// ReadTransient returns a read-only view of the transient tree rooted at
// prefix.
func (s *Store) ReadTransient(prefix string) tree.Tree {
    s.tmu.RLock()
    defer s.tmu.RUnlock()
    return subTree(s.transient, prefix)
}

func subTree(root *tree.Node, prefix string) tree.Tree {
    full := tree.New(root.Clone())
    if prefix == "" || prefix == "/" {
        return full
    }
    sub, ok := full.AsNode(prefix)
    if !ok {
        return tree.New(tree.Object())
    }
    return sub
}

// SubmitWrite replicates env through consensus as a single log entry and
// returns the per-tuple results once committed. It requires the consensus
// engine to implement consensus.ResultApplier; callers on engines that
// don't are expected to use SubmitTransient or Apply directly instead.
func (s *Store) SubmitWrite(ctx context.Context, env txn.Envelope, timeout time.Duration) (WriteResult, error) {
    ra, ok := s.cons.(consensus.ResultApplier)
    if !ok {
        return WriteResult{}, fmt.Errorf("agency: consensus engine does not support result-returning apply")
    }
    payload, err := env.Marshal()
    if err != nil {
        return WriteResult{}, err
    }
    res, err := ra.ApplyWithResult(consensus.Command{Op: "agency.apply", Payload: payload}, timeout)
    if err != nil {
        return WriteResult{}, err
    }
    er, ok := res.Response.(state.EnvelopeResult)
    if !ok {
        return WriteResult{}, fmt.Errorf("agency: unexpected FSM response type %T", res.Response)
    }
    return WriteResult{Index: res.Index, Result: er}, nil
}

// SubmitTransient applies env directly against the transient tree without
// going through RAFT, per spec §6: transient writes are leader-local and
// never replicated.
func (s *Store) SubmitTransient(env txn.Envelope) (state.EnvelopeResult, error) {
    s.tmu.Lock()
    defer s.tmu.Unlock()
    results := make([]state.TupleResult, 0, len(env))
    for _, t := range env {
        results = append(results, applyTuple(s.transient, t))
    }
    return state.EnvelopeResult{Tuples: results}, nil
}

// Apply implements state.ReplicatedState: it is called by the RAFT FSM with
// the envelope decoded from a committed log entry, applying tuples in order
// against the committed tree.
func (s *Store) Apply(env txn.Envelope) (state.EnvelopeResult, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    results := make([]state.TupleResult, 0, len(env))
    for _, t := range env {
        results = append(results, applyTuple(s.committed, t))
    }
    return state.EnvelopeResult{Tuples: results}, nil
}

// Snapshot implements state.ReplicatedState for RAFT log compaction.
func (s *Store) Snapshot() ([]byte, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return json.Marshal(s.committed)
}

// Restore implements state.ReplicatedState, replacing the committed tree
// wholesale from a prior Snapshot.
func (s *Store) Restore(buf []byte) error {
    root, err := tree.FromJSON(buf)
    if err != nil {
        return err
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    s.committed = root
    return nil
}
