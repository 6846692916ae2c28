package supervision

import (
    "context"
    "testing"
    "time"

    agencystore "github.com/amirimatin/go-cluster/pkg/agency/store"
    "github.com/amirimatin/go-cluster/pkg/agency/health"
    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
)

func mustBuild(t *testing.T, b *txn.Builder) txn.Envelope {
    t.Helper()
    env, err := b.Build()
    if err != nil {
        t.Fatalf("build envelope: %v", err)
    }
    return env
}

func mustNode(t *testing.T, st *agencystore.Store, path string) *tree.Node {
    t.Helper()
    n, ok := st.ReadSnapshot("/").Get(path)
    if !ok {
        t.Fatalf("expected node at %s to exist", path)
    }
    return n
}

func mustTransientNode(t *testing.T, st *agencystore.Store, path string) *tree.Node {
    t.Helper()
    n, ok := st.ReadTransient("/").Get(path)
    if !ok {
        t.Fatalf("expected transient node at %s to exist", path)
    }
    return n
}

func hasChildrenT(st *agencystore.Store, path string) bool {
    ids, _, ok := st.ReadSnapshot("/").Children(path)
    return ok && len(ids) > 0
}

// S1: steady heartbeat keeps a server GOOD, with a persistent write only on
// the first tick that establishes the record.
func TestEvaluator_S1_SteadyHeartbeatStaysGood(t *testing.T) {
    st := newTestStore()
    cfg := Config{Frequency: time.Second, GracePeriod: 50 * time.Millisecond, OkThreshold: 20 * time.Millisecond}
    ids := &IDAllocator{}
    ids.Refill(0, 1000)
    ev := NewEvaluator(cfg, st, ids)

    if err := seed(st, mustBuild(t, txn.New().Tuple().
        Set("/Plan/DBServers/PRMR-a", map[string]interface{}{}).
        Set("/Target/MapUniqueToShortID/PRMR-a/ShortName", "DBServer0001"))); err != nil {
        t.Fatalf("seed plan: %v", err)
    }
    beat := func() {
        env := mustBuild(t, txn.New().Tuple().Set("/Sync/ServerStates/PRMR-a", map[string]interface{}{
            "time":   time.Now().UTC().Format(time.RFC3339Nano),
            "status": "SERVING",
        }))
        if _, err := st.SubmitTransient(env); err != nil {
            t.Fatalf("heartbeat: %v", err)
        }
    }

    beat()
    ev.RunChecks(context.Background())
    rec := health.FromNode(mustNode(t, st, "/Supervision/Health/PRMR-a"))
    if rec.Status != health.Good {
        t.Fatalf("expected GOOD after first tick, got %v", rec.Status)
    }

    beat()
    ev.RunChecks(context.Background())
    rec2 := health.FromNode(mustNode(t, st, "/Supervision/Health/PRMR-a"))
    if rec2.Status != health.Good {
        t.Fatalf("expected to stay GOOD, got %v", rec2.Status)
    }
    trans := health.FromNode(mustTransientNode(t, st, "/Supervision/Health/PRMR-a"))
    if trans.Status != health.Good {
        t.Fatalf("expected transient GOOD, got %v", trans.Status)
    }
}

// S2→S3→S4: a frozen heartbeat crosses BAD then FAILED (opening a
// failedServer job), then recovers and clears /Target/FailedServers.
func TestEvaluator_S2_S3_S4_FailureAndRecovery(t *testing.T) {
    st := newTestStore()
    cfg := Config{Frequency: time.Second, GracePeriod: 40 * time.Millisecond, OkThreshold: 10 * time.Millisecond}
    ids := &IDAllocator{}
    ids.Refill(0, 1000)
    ev := NewEvaluator(cfg, st, ids)

    if err := seed(st, mustBuild(t, txn.New().Tuple().
        Set("/Plan/DBServers/PRMR-a", map[string]interface{}{}).
        Set("/Target/MapUniqueToShortID/PRMR-a/ShortName", "DBServer0001"))); err != nil {
        t.Fatalf("seed plan: %v", err)
    }
    beatNow := func() {
        env := mustBuild(t, txn.New().Tuple().Set("/Sync/ServerStates/PRMR-a", map[string]interface{}{
            "time":   time.Now().UTC().Format(time.RFC3339Nano),
            "status": "SERVING",
        }))
        if _, err := st.SubmitTransient(env); err != nil {
            t.Fatalf("heartbeat: %v", err)
        }
    }

    // Tick 1: establish GOOD.
    beatNow()
    ev.RunChecks(context.Background())
    if rec := health.FromNode(mustNode(t, st, "/Supervision/Health/PRMR-a")); rec.Status != health.Good {
        t.Fatalf("expected GOOD after bootstrap tick, got %v", rec.Status)
    }

    // Tick 2 (S2): heartbeat frozen past okThreshold but under gracePeriod.
    time.Sleep(15 * time.Millisecond)
    ev.RunChecks(context.Background())
    recBad := health.FromNode(mustNode(t, st, "/Supervision/Health/PRMR-a"))
    if recBad.Status != health.Bad {
        t.Fatalf("expected BAD after okThreshold elapses, got %v", recBad.Status)
    }
    if hasChildrenT(st, "/Target/ToDo") {
        t.Fatalf("expected no job yet while only BAD")
    }

    // Tick 3 (S3): heartbeat still frozen, now past gracePeriod.
    time.Sleep(40 * time.Millisecond)
    ev.RunChecks(context.Background())
    recFailed := health.FromNode(mustNode(t, st, "/Supervision/Health/PRMR-a"))
    if recFailed.Status != health.Failed {
        t.Fatalf("expected FAILED after gracePeriod elapses, got %v", recFailed.Status)
    }
    if !st.ReadSnapshot("/").Has("/Target/FailedServers/PRMR-a") {
        t.Fatalf("expected /Target/FailedServers/PRMR-a to be set")
    }
    jobIDs, _, ok := st.ReadSnapshot("/").Children("/Target/ToDo")
    if !ok || len(jobIDs) != 1 {
        t.Fatalf("expected exactly one ToDo job, got %v", jobIDs)
    }
    job := jobFromValue(nodeToMap(mustNode(t, st, "/Target/ToDo/"+jobIDs[0])))
    if job.Type != JobFailedServer || job.Source != "PRMR-a" {
        t.Fatalf("unexpected job: %+v", job)
    }

    // Tick 4 (S4): heartbeat resumes.
    beatNow()
    ev.RunChecks(context.Background())
    recGood := health.FromNode(mustNode(t, st, "/Supervision/Health/PRMR-a"))
    if recGood.Status != health.Good {
        t.Fatalf("expected GOOD after recovery, got %v", recGood.Status)
    }
    if st.ReadSnapshot("/").Has("/Target/FailedServers/PRMR-a") {
        t.Fatalf("expected /Target/FailedServers/PRMR-a cleared on recovery")
    }
    // The existing job is untouched by the evaluator itself.
    idsAfter, _, _ := st.ReadSnapshot("/").Children("/Target/ToDo")
    if len(idsAfter) != 1 {
        t.Fatalf("expected the failedServer job to remain in ToDo untouched, got %v", idsAfter)
    }
}
