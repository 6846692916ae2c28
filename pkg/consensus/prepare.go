package consensus

// LeadershipPreparer is an optional interface a Consensus implementation may
// provide to report whether it has caught up its own log after winning an
// election. Callers must not treat a node as a supervising leader until this
// returns true, even if IsLeader already does, per the "no self-service
// until log applied" rule of leader-based FSMs.
type LeadershipPreparer interface {
    PrepareLeadershipDone() bool
}
