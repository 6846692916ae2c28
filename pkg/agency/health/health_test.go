package health

import (
    "testing"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/tree"
)

func TestFromNode_Version2(t *testing.T) {
    n := tree.Object()
    n.Children["Status"] = tree.String("GOOD")
    n.Children["SyncStatus"] = tree.String("SERVING")
    n.Children["SyncTime"] = tree.String("2026-08-03T00:00:00Z")
    n.Children["LastAcked"] = tree.String("2026-08-03T00:00:01Z")
    n.Children["Host"] = tree.String("host-1")

    r := FromNode(n)
    if r.Version != 2 || r.Status != Good || r.HostID != "host-1" {
        t.Fatalf("unexpected record: %+v", r)
    }
}

func TestFromNode_Version1(t *testing.T) {
    n := tree.Object()
    n.Children["Status"] = tree.String("BAD")
    n.Children["LastHeartbeatStatus"] = tree.String("SERVING")
    n.Children["LastHeartbeatSent"] = tree.String("t1")
    n.Children["LastHeartbeatAcked"] = tree.String("t2")

    r := FromNode(n)
    if r.Version != 1 || r.Status != Bad || r.SyncTime != "t1" {
        t.Fatalf("unexpected record: %+v", r)
    }
}

func TestFromNode_Version0Blank(t *testing.T) {
    r := FromNode(nil)
    if r.Version != 0 || r.Status != "" {
        t.Fatalf("expected blank record, got %+v", r)
    }
    r2 := FromNode(tree.Object())
    if r2.Version != 0 {
        t.Fatalf("expected version 0 for object without Status key")
    }
}

func TestStatusDiff(t *testing.T) {
    a := Record{Status: Good, SyncStatus: "SERVING"}
    b := Record{Status: Good, SyncStatus: "SERVING"}
    if a.StatusDiff(b) {
        t.Fatalf("expected no diff")
    }
    b.Status = Bad
    if !a.StatusDiff(b) {
        t.Fatalf("expected diff on status change")
    }
}

func TestToValue_EmptySyncTimeUsesTimestamp(t *testing.T) {
    r := Record{Status: Good}
    v := r.ToValue()
    if _, ok := v["Timestamp"]; !ok {
        t.Fatalf("expected Timestamp key when SyncTime empty")
    }
    if _, ok := v["LastAcked"]; ok {
        t.Fatalf("expected LastAcked omitted when SyncTime empty")
    }
}

func TestToValue_WithSyncTime(t *testing.T) {
    r := Record{Status: Good, SyncTime: "t1", LastAcked: "t2"}
    v := r.ToValue()
    if v["SyncTime"] != "t1" || v["LastAcked"] != "t2" {
        t.Fatalf("unexpected value: %+v", v)
    }
}

func TestMerge_SetOnceNeverCleared(t *testing.T) {
    r := Record{ShortName: "DBServer0001"}
    r = r.Merge("ignored", "tcp://a:1", "host-1")
    if r.ShortName != "DBServer0001" {
        t.Fatalf("expected shortName to remain unchanged, got %q", r.ShortName)
    }
    if r.Endpoint != "tcp://a:1" {
        t.Fatalf("expected endpoint to be set")
    }
}

func TestClassifyStatus(t *testing.T) {
    ok := 1500 * time.Millisecond
    grace := 5 * time.Second
    if ClassifyStatus(1*time.Second, ok, grace) != Good {
        t.Fatalf("expected GOOD")
    }
    if ClassifyStatus(3*time.Second, ok, grace) != Bad {
        t.Fatalf("expected BAD")
    }
    if ClassifyStatus(10*time.Second, ok, grace) != Failed {
        t.Fatalf("expected FAILED")
    }
}
