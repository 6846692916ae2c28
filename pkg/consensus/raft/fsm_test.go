package raftcons

import (
    "bytes"
    "context"
    "encoding/json"
    "io"
    "testing"
    "time"

    r "github.com/hashicorp/raft"

    "github.com/amirimatin/go-cluster/pkg/agency/store"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    c "github.com/amirimatin/go-cluster/pkg/consensus"
    base "github.com/amirimatin/go-cluster/pkg/state"
)

// noopConsensus is a minimal consensus.Consensus stand-in so store.New has
// something to poll for leadership in these FSM-level tests.
type noopConsensus struct{}

func (noopConsensus) Start(ctx context.Context) error                 { return nil }
func (noopConsensus) Apply(cmd c.Command, timeout time.Duration) error { return nil }
func (noopConsensus) IsLeader() bool                                   { return false }
func (noopConsensus) Leader() (string, string, bool)                   { return "", "", false }
func (noopConsensus) Term() uint64                                     { return 0 }
func (noopConsensus) Stop() error                                      { return nil }

var _ c.Consensus = noopConsensus{}

func newReadCloser(b []byte) io.ReadCloser { return io.NopCloser(bytes.NewReader(b)) }

type memSink struct {
    buf    bytes.Buffer
    closed bool
}

func (s *memSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *memSink) Close() error                { s.closed = true; return nil }
func (s *memSink) ID() string                  { return "test-snapshot" }
func (s *memSink) Cancel() error               { return nil }

func captureSnapshot(t *testing.T, fsnap r.FSMSnapshot) []byte {
    t.Helper()
    sink := &memSink{}
    if err := fsnap.Persist(sink); err != nil {
        t.Fatalf("persist: %v", err)
    }
    fsnap.Release()
    return sink.buf.Bytes()
}

func TestAgencyFSM_Apply_SetAndRead(t *testing.T) {
    st := store.New(noopConsensus{}, nil)
    fsm := newAgencyFSM(st)

    env, err := txn.New().
        Tuple().Set("/Target/NumberOfDBServers", 3).OldEmpty("/Target/NumberOfDBServers").
        Build()
    if err != nil {
        t.Fatalf("build envelope: %v", err)
    }
    payload, _ := env.Marshal()
    cmd := c.Command{Op: "agency.apply", Payload: payload}
    data, _ := json.Marshal(cmd)

    v := fsm.Apply(&r.Log{Data: data})
    if err, ok := v.(error); ok && err != nil {
        t.Fatalf("apply: %v", err)
    }
    res, ok := v.(base.EnvelopeResult)
    if !ok {
        t.Fatalf("expected EnvelopeResult, got %T", v)
    }
    if len(res.Tuples) != 1 || !res.Tuples[0].Accepted {
        t.Fatalf("expected tuple accepted, got %+v", res)
    }

    snap := st.ReadSnapshot("/")
    if n, ok := snap.AsUint("/Target/NumberOfDBServers"); !ok || n != 3 {
        t.Fatalf("expected committed value 3, got %d ok=%v", n, ok)
    }
}

func TestAgencyFSM_SnapshotRestore(t *testing.T) {
    st := store.New(noopConsensus{}, nil)
    fsm := newAgencyFSM(st)

    env, _ := txn.New().Tuple().Set("/Plan/Version", 1).Build()
    payload, _ := env.Marshal()
    cmd := c.Command{Op: "agency.apply", Payload: payload}
    data, _ := json.Marshal(cmd)
    fsm.Apply(&r.Log{Data: data})

    fsnap, err := fsm.Snapshot()
    if err != nil {
        t.Fatalf("snapshot: %v", err)
    }
    blob := captureSnapshot(t, fsnap)

    st2 := store.New(noopConsensus{}, nil)
    fsm2 := newAgencyFSM(st2)
    if err := fsm2.Restore(newReadCloser(blob)); err != nil {
        t.Fatalf("restore: %v", err)
    }
    tr := st2.ReadSnapshot("/")
    if n, ok := tr.AsUint("/Plan/Version"); !ok || n != 1 {
        t.Fatalf("expected restored value 1, got %d ok=%v", n, ok)
    }
}
