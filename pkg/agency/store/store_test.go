package store

import (
    "context"
    "testing"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/consensus"
)

// fakeConsensus is a minimal consensus.Consensus + consensus.ResultApplier
// + consensus.LeadershipPreparer that applies directly against a target
// Store, standing in for raft in these tests.
type fakeConsensus struct {
    target    *Store
    leader    bool
    prepDone  bool
}

func (f *fakeConsensus) Start(ctx context.Context) error { return nil }
func (f *fakeConsensus) Apply(cmd consensus.Command, timeout time.Duration) error {
    _, err := f.ApplyWithResult(cmd, timeout)
    return err
}
func (f *fakeConsensus) IsLeader() bool { return f.leader }
func (f *fakeConsensus) Leader() (string, string, bool) { return "", "", false }
func (f *fakeConsensus) Term() uint64 { return 0 }
func (f *fakeConsensus) Stop() error { return nil }

func (f *fakeConsensus) ApplyWithResult(cmd consensus.Command, timeout time.Duration) (consensus.ApplyResult, error) {
    env, err := txn.Unmarshal(cmd.Payload)
    if err != nil {
        return consensus.ApplyResult{}, err
    }
    res, err := f.target.Apply(env)
    if err != nil {
        return consensus.ApplyResult{}, err
    }
    return consensus.ApplyResult{Index: 1, Response: res}, nil
}

func (f *fakeConsensus) PrepareLeadershipDone() bool { return f.prepDone }

func newTestStore(leader bool) *Store {
    st := New(nil, nil)
    fc := &fakeConsensus{target: st, leader: leader, prepDone: true}
    st.cons = fc
    return st
}

func TestStore_SubmitWrite_SetAndRead(t *testing.T) {
    st := newTestStore(true)
    env, err := txn.New().Tuple().
        Set("/Plan/DBServers/PRMR-1", map[string]interface{}{}).
        OldEmpty("/Plan/DBServers/PRMR-1").
        Build()
    if err != nil {
        t.Fatalf("build: %v", err)
    }
    wr, err := st.SubmitWrite(context.Background(), env, time.Second)
    if err != nil {
        t.Fatalf("SubmitWrite: %v", err)
    }
    if len(wr.Result.Tuples) != 1 || !wr.Result.Tuples[0].Accepted {
        t.Fatalf("expected accepted tuple, got %+v", wr.Result)
    }
    if !st.ReadSnapshot("/").Has("/Plan/DBServers/PRMR-1") {
        t.Fatalf("expected committed write to be visible")
    }
}

func TestStore_SubmitWrite_RequiresResultApplier(t *testing.T) {
    st := New(&noResultApplierConsensus{}, nil)
    env, _ := txn.New().Tuple().Set("/x", 1).Build()
    if _, err := st.SubmitWrite(context.Background(), env, time.Second); err == nil {
        t.Fatalf("expected error when consensus lacks ResultApplier")
    }
}

type noResultApplierConsensus struct{}

func (noResultApplierConsensus) Start(ctx context.Context) error                          { return nil }
func (noResultApplierConsensus) Apply(cmd consensus.Command, timeout time.Duration) error { return nil }
func (noResultApplierConsensus) IsLeader() bool                                           { return false }
func (noResultApplierConsensus) Leader() (string, string, bool)                           { return "", "", false }
func (noResultApplierConsensus) Term() uint64                                              { return 0 }
func (noResultApplierConsensus) Stop() error                                               { return nil }

func TestStore_SubmitTransient_NotReplicated(t *testing.T) {
    st := newTestStore(true)
    env, _ := txn.New().Tuple().Set("/Sync/ServerStates/PRMR-1", map[string]interface{}{
        "time": "now",
    }).Build()
    if _, err := st.SubmitTransient(env); err != nil {
        t.Fatalf("SubmitTransient: %v", err)
    }
    if !st.ReadTransient("/").Has("/Sync/ServerStates/PRMR-1") {
        t.Fatalf("expected transient write visible in transient tree")
    }
    if st.ReadSnapshot("/").Has("/Sync/ServerStates/PRMR-1") {
        t.Fatalf("transient write must not appear in committed tree")
    }
}

func TestStore_SnapshotRestore(t *testing.T) {
    st := newTestStore(true)
    env, _ := txn.New().Tuple().Set("/Target/NumberOfDBServers", 3).Build()
    if _, err := st.SubmitWrite(context.Background(), env, time.Second); err != nil {
        t.Fatalf("SubmitWrite: %v", err)
    }
    buf, err := st.Snapshot()
    if err != nil {
        t.Fatalf("Snapshot: %v", err)
    }

    fresh := New(nil, nil)
    if err := fresh.Restore(buf); err != nil {
        t.Fatalf("Restore: %v", err)
    }
    v, ok := fresh.ReadSnapshot("/").AsUint("/Target/NumberOfDBServers")
    if !ok || v != 3 {
        t.Fatalf("expected restored value 3, got %v ok=%v", v, ok)
    }
}

func TestStore_LeaderFor_ZeroWhenNotLeader(t *testing.T) {
    st := newTestStore(false)
    if st.LeaderFor() != 0 {
        t.Fatalf("expected zero LeaderFor when not leader")
    }
}

func TestStore_PrepareLeadershipDone_DefaultsTrueWithoutOptIn(t *testing.T) {
    st := New(noResultApplierConsensus{}, nil)
    if !st.PrepareLeadershipDone() {
        t.Fatalf("expected default-true when consensus doesn't implement LeadershipPreparer")
    }
}
