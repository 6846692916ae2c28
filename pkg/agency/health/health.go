// Package health implements the HealthRecord: the per-server status blob
// the supervisor reads from and writes to /Supervision/Health/<id>, with
// schema detection across the three on-disk vintages the agency has carried.
package health

import (
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/tree"
)

// Status is the three-state health classification.
type Status string

const (
    Good   Status = "GOOD"
    Bad    Status = "BAD"
    Failed Status = "FAILED"
)

// Record is a HealthRecord as read from or written to the agency. version
// tracks which on-disk vintage it was parsed from; Serialize always emits
// version 2.
type Record struct {
    ShortName  string
    Endpoint   string
    HostID     string
    Status     Status
    SyncStatus string
    SyncTime   string
    LastAcked  string
    Version    int
}

// FromNode parses a Record from the sub-tree at a server's health path,
// detecting the schema vintage. A nil/absent node yields a zero-value
// Record with Version 0 ("blank").
func FromNode(n *tree.Node) Record {
    if n == nil || n.Kind != tree.KindObject {
        return Record{Version: 0}
    }
    t := tree.New(n)
    if _, ok := t.AsString("/Status"); !ok {
        return Record{Version: 0}
    }
    if t.Has("/SyncTime") || t.Has("/LastAcked") || t.Has("/SyncStatus") {
        r := Record{Version: 2}
        r.ShortName = mustString(t, "/ShortName")
        r.Endpoint = mustString(t, "/Endpoint")
        r.Status = Status(mustString(t, "/Status"))
        r.SyncStatus = mustString(t, "/SyncStatus")
        r.SyncTime = mustString(t, "/SyncTime")
        r.LastAcked = mustString(t, "/LastAcked")
        r.HostID = mustString(t, "/Host")
        return r
    }
    r := Record{Version: 1}
    r.ShortName = mustString(t, "/ShortName")
    r.Endpoint = mustString(t, "/Endpoint")
    r.Status = Status(mustString(t, "/Status"))
    r.SyncStatus = mustString(t, "/LastHeartbeatStatus")
    r.SyncTime = mustString(t, "/LastHeartbeatSent")
    r.LastAcked = mustString(t, "/LastHeartbeatAcked")
    return r
}

func mustString(t tree.Tree, path string) string {
    v, _ := t.AsString(path)
    return v
}

// StatusDiff reports whether r's status or sync status differs from other's.
func (r Record) StatusDiff(other Record) bool {
    return r.Status != other.Status || r.SyncStatus != other.SyncStatus
}

// ToValue serializes r in version-2 form as a plain map, suitable for a
// txn.Builder Set/Merge call. When SyncTime is empty, Timestamp substitutes
// for it and LastAcked is omitted, matching the upstream wire behavior of
// "no heartbeat observed yet".
func (r Record) ToValue() map[string]interface{} {
    v := map[string]interface{}{
        "ShortName":  r.ShortName,
        "Endpoint":   r.Endpoint,
        "Host":       r.HostID,
        "Status":     string(r.Status),
        "SyncStatus": r.SyncStatus,
    }
    if r.SyncTime == "" {
        v["Timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
    } else {
        v["SyncTime"] = r.SyncTime
        v["LastAcked"] = r.LastAcked
    }
    return v
}

// Merge applies the identity-establishing fields from an initial observation
// onto r, without overwriting ones already set — shortName and endpoint are
// set once and never cleared, per the data model invariant.
func (r Record) Merge(shortName, endpoint, hostID string) Record {
    if r.ShortName == "" {
        r.ShortName = shortName
    }
    if r.Endpoint == "" {
        r.Endpoint = endpoint
    }
    if r.HostID == "" {
        r.HostID = hostID
    }
    return r
}

// ClassifyStatus applies the hysteresis-free threshold decision for a single
// tick: elapsed time since the last acknowledged heartbeat maps directly to
// one of the three states. Hysteresis on the *transition* (BAD must be
// observed before FAILED opens a job) is the caller's responsibility.
func ClassifyStatus(elapsed, okThreshold, gracePeriod time.Duration) Status {
    switch {
    case elapsed <= okThreshold:
        return Good
    case elapsed <= gracePeriod:
        return Bad
    default:
        return Failed
    }
}
