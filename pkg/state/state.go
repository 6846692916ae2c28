// Package state declares the contract a RAFT-driven FSM exposes to the rest
// of the system. It is deliberately tiny: the FSM only needs to apply an
// opaque envelope and to snapshot/restore itself for RAFT log compaction.
package state

import "github.com/amirimatin/go-cluster/pkg/agency/txn"

// TupleResult is the outcome of applying one tuple of an Envelope.
type TupleResult struct {
    // Accepted is true for a write tuple whose preconditions held.
    Accepted bool
    // Values holds the read-back values for a read tuple (path -> raw JSON).
    Values map[string][]byte
}

// EnvelopeResult is the outcome of applying a whole Envelope in one RAFT log
// entry; tuples are applied in order, each against the state left by the
// previous tuple in the same entry.
type EnvelopeResult struct {
    Tuples []TupleResult
}

// ReplicatedState is the contract a RAFT FSM applies its committed log
// against. It generalizes the add/remove-node membership state the teacher
// used into an arbitrary conditional-write tree, per spec §4.2/§6.
type ReplicatedState interface {
    Apply(env txn.Envelope) (EnvelopeResult, error)
    Snapshot() ([]byte, error)
    Restore(buf []byte) error
}
