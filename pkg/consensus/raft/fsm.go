package raftcons

import (
    "encoding/json"
    "io"
    "time"

    "github.com/hashicorp/raft"

    c "github.com/amirimatin/go-cluster/pkg/consensus"
    base "github.com/amirimatin/go-cluster/pkg/state"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
)

// agencyFSM bridges Raft Apply/Snapshot/Restore to the agency's
// ReplicatedState (pkg/agency/store.Store). The only log command it
// understands is "agency.apply": an entire txn.Envelope, applied tuple by
// tuple against the committed tree in one RAFT log entry.
type agencyFSM struct {
    rs base.ReplicatedState
}

func newAgencyFSM(rs base.ReplicatedState) *agencyFSM { return &agencyFSM{rs: rs} }

func (f *agencyFSM) Apply(l *raft.Log) interface{} {
    var cmd c.Command
    if err := json.Unmarshal(l.Data, &cmd); err != nil {
        return err
    }
    switch cmd.Op {
    case "agency.apply":
        env, err := txn.Unmarshal(cmd.Payload)
        if err != nil {
            return err
        }
        res, err := f.rs.Apply(env)
        if err != nil {
            return err
        }
        return res
    default:
        return nil
    }
}

func (f *agencyFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.rs.Snapshot()
    if err != nil {
        return nil, err
    }
    return &snapshot{blob: blob, at: time.Now()}, nil
}

func (f *agencyFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil {
        return err
    }
    return f.rs.Restore(data)
}

type snapshot struct {
    blob []byte
    at   time.Time
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil {
        _ = sink.Cancel()
        return err
    }
    return sink.Close()
}

func (s *snapshot) Release() {}

var _ raft.FSM = (*agencyFSM)(nil)
