package consensus

import "time"

// ApplyResult carries the RAFT log index a Command committed at and the raw
// FSM response, letting callers recover per-tuple results without widening
// the base Consensus interface.
type ApplyResult struct {
    Index    uint64
    Response interface{}
}

// ResultApplier is an optional interface a Consensus implementation may
// provide when callers need the committed index and FSM response of an
// Apply, not just success/failure.
type ResultApplier interface {
    ApplyWithResult(cmd Command, timeout time.Duration) (ApplyResult, error)
}
