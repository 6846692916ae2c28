package supervision

import (
    "context"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/store"
    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/state"
)

// Store is the consensus store contract the supervisor depends on (spec §6).
// pkg/agency/store.Store satisfies it; tests use that Store over a fake
// consensus engine.
type Store interface {
    ReadSnapshot(prefix string) tree.Tree
    ReadTransient(prefix string) tree.Tree
    SubmitWrite(ctx context.Context, env txn.Envelope, timeout time.Duration) (store.WriteResult, error)
    SubmitTransient(env txn.Envelope) (state.EnvelopeResult, error)
    IsLeader() bool
    LeaderFor() time.Duration
    PrepareLeadershipDone() bool
}
