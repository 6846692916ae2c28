package supervision

import (
    "context"
    "fmt"
    "time"

    agencystore "github.com/amirimatin/go-cluster/pkg/agency/store"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/consensus"
)

// fakeConsensus applies commands synchronously against an in-process
// *agencystore.Store, standing in for raft so supervision components can be
// exercised against a real Store implementation without a raft cluster.
type fakeConsensus struct {
    st     *agencystore.Store
    leader bool
}

func (f *fakeConsensus) Start(ctx context.Context) error { return nil }
func (f *fakeConsensus) Apply(cmd consensus.Command, timeout time.Duration) error {
    _, err := f.ApplyWithResult(cmd, timeout)
    return err
}
func (f *fakeConsensus) IsLeader() bool                 { return f.leader }
func (f *fakeConsensus) Leader() (string, string, bool) { return "", "", false }
func (f *fakeConsensus) Term() uint64                   { return 0 }
func (f *fakeConsensus) Stop() error                    { return nil }

func (f *fakeConsensus) ApplyWithResult(cmd consensus.Command, timeout time.Duration) (consensus.ApplyResult, error) {
    if cmd.Op != "agency.apply" {
        return consensus.ApplyResult{}, fmt.Errorf("fakeConsensus: unknown op %q", cmd.Op)
    }
    env, err := txn.Unmarshal(cmd.Payload)
    if err != nil {
        return consensus.ApplyResult{}, err
    }
    res, err := f.st.Apply(env)
    if err != nil {
        return consensus.ApplyResult{}, err
    }
    return consensus.ApplyResult{Index: 1, Response: res}, nil
}

func (f *fakeConsensus) PrepareLeadershipDone() bool { return true }

// newTestStore builds a real *agencystore.Store wired to a fakeConsensus so
// tests exercise Evaluator/Enforcer/Shrinker/Upgrader/JobRunner against the
// same tree/txn/store code the production supervisor uses, without a raft
// cluster.
func newTestStore() *agencystore.Store {
    fc := &fakeConsensus{leader: true}
    st := agencystore.New(fc, nil)
    fc.st = st
    return st
}

// seed submits env through the store and returns an error on any submit
// error or rejected tuple; callers fail the test on it.
func seed(st *agencystore.Store, env txn.Envelope) error {
    wr, err := st.SubmitWrite(context.Background(), env, time.Second)
    if err != nil {
        return err
    }
    for i, tr := range wr.Result.Tuples {
        if !tr.Accepted {
            return fmt.Errorf("seed: tuple %d rejected", i)
        }
    }
    return nil
}
