package supervision

import (
    "context"
    "testing"

    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
)

func TestUpgrader_UpgradesLegacyShapesAndIsIdempotent(t *testing.T) {
    st := newTestStore()
    up := NewUpgrader(Config{}, st)

    if err := seed(st, mustBuild(t, txn.New().Tuple().
        Set("/Target/FailedServers", []interface{}{"PRMR-a"}).
        Set("/Plan/Collections/db1/c1", map[string]interface{}{}).
        Set("/Plan/Collections/db1/c2/distributeShardsLike", "c1").
        Set("/Plan/Collections/db1/c3/distributeShardsLike", "c2").
        Set("/Supervision/Health/PRMR-a", map[string]interface{}{
            "Status":               "GOOD",
            "LastHeartbeatStatus":  "SERVING",
            "LastHeartbeatSent":    "2024-01-01T00:00:00Z",
            "LastHeartbeatAcked":   "2024-01-01T00:00:01Z",
        }))); err != nil {
        t.Fatalf("seed: %v", err)
    }

    up.Run(context.Background())

    snap := st.ReadSnapshot("/")
    if !snap.Has("/Target/FailedServers/PRMR-a") {
        t.Fatalf("expected array-shaped FailedServers converted to object")
    }
    if arr, ok := snap.AsArray("/Target/FailedServers"); ok {
        t.Fatalf("expected FailedServers no longer an array, got %v", arr)
    }

    resolved, ok := snap.AsString("/Plan/Collections/db1/c3/distributeShardsLike")
    if !ok || resolved != "c1" {
        t.Fatalf("expected chain resolved to c1, got %q ok=%v", resolved, ok)
    }

    defVal, ok := snap.AsUint("/Agency/Definition")
    if !ok || defVal != 1 {
        t.Fatalf("expected /Agency/Definition == 1, got %v ok=%v", defVal, ok)
    }
    if !snap.Has("/Target/ToDo") || !snap.Has("/Target/Pending") {
        t.Fatalf("expected empty ToDo/Pending queues created")
    }

    healthNode, ok := snap.Get("/Supervision/Health/PRMR-a")
    if !ok {
        t.Fatalf("expected health record still present")
    }
    rt := tree.New(healthNode)
    if !rt.Has("/SyncTime") {
        t.Fatalf("expected health record upgraded to version 2 shape")
    }

    // Second run after the first succeeded must be a no-op: re-running must
    // not error and must leave state unchanged (spec §8 property 7).
    up.Run(context.Background())
    snap2 := st.ReadSnapshot("/")
    defVal2, _ := snap2.AsUint("/Agency/Definition")
    if defVal2 != 1 {
        t.Fatalf("expected /Agency/Definition to remain 1 after second run, got %v", defVal2)
    }
    resolved2, _ := snap2.AsString("/Plan/Collections/db1/c3/distributeShardsLike")
    if resolved2 != "c1" {
        t.Fatalf("expected chain resolution to remain stable, got %q", resolved2)
    }
}
