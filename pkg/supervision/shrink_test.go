package supervision

import (
    "context"
    "testing"

    "github.com/amirimatin/go-cluster/pkg/agency/txn"
)

// S6: operator lowers NumberOfDBServers below the available count while
// every collection's replication factor still tolerates losing one server;
// expect exactly one cleanOutServer job on the lexicographically largest
// available server.
func TestShrinker_S6_SchedulesCleanOutOnLexMax(t *testing.T) {
    st := newTestStore()
    ids := &IDAllocator{}
    ids.Refill(0, 1000)
    shr := NewShrinker(Config{}, st, ids)

    if err := seed(st, mustBuild(t, txn.New().Tuple().
        Set("/Plan/DBServers/PRMR-a", map[string]interface{}{}).
        Set("/Plan/DBServers/PRMR-b", map[string]interface{}{}).
        Set("/Plan/DBServers/PRMR-c", map[string]interface{}{}).
        Set("/Plan/Collections/db1/coll1/replicationFactor", 2).
        Set("/Plan/Collections/db1/coll1/shards/s1", []interface{}{"PRMR-a", "PRMR-b"}).
        Set("/Target/NumberOfDBServers", 2))); err != nil {
        t.Fatalf("seed: %v", err)
    }

    shr.Run(context.Background())

    jobIDs, children, ok := st.ReadSnapshot("/").Children("/Target/ToDo")
    if !ok || len(jobIDs) != 1 {
        t.Fatalf("expected exactly one cleanOutServer job, got %v", jobIDs)
    }
    job := jobFromValue(nodeToMap(children[jobIDs[0]]))
    if job.Type != JobCleanOutServer {
        t.Fatalf("expected cleanOutServer job, got %v", job.Type)
    }
    if job.Target != "PRMR-c" {
        t.Fatalf("expected lex-max victim PRMR-c, got %s", job.Target)
    }
    if !st.ReadSnapshot("/").Has("/Target/CleaningServers/PRMR-c") {
        t.Fatalf("expected /Target/CleaningServers/PRMR-c to be marked")
    }
}

// No shrink job fires while ToDo or Pending already has work queued.
func TestShrinker_SkipsWhenJobsPending(t *testing.T) {
    st := newTestStore()
    ids := &IDAllocator{}
    ids.Refill(0, 1000)
    shr := NewShrinker(Config{}, st, ids)

    job := Job{ID: 1, Type: JobAddFollower, State: JobToDo, Database: "db1", Collection: "coll1", Shard: "s1"}
    if err := seed(st, mustBuild(t, txn.New().Tuple().
        Set("/Plan/DBServers/PRMR-a", map[string]interface{}{}).
        Set("/Plan/DBServers/PRMR-b", map[string]interface{}{}).
        Set("/Plan/DBServers/PRMR-c", map[string]interface{}{}).
        Set("/Target/NumberOfDBServers", 2).
        Set("/Target/ToDo/1", job.ToValue()))); err != nil {
        t.Fatalf("seed: %v", err)
    }

    shr.Run(context.Background())

    if st.ReadSnapshot("/").Has("/Target/CleaningServers/PRMR-c") {
        t.Fatalf("expected no shrink job while ToDo is non-empty")
    }
}

// No shrink job fires when the available count already matches the target.
func TestShrinker_NoJobWhenAlreadyAtTarget(t *testing.T) {
    st := newTestStore()
    ids := &IDAllocator{}
    ids.Refill(0, 1000)
    shr := NewShrinker(Config{}, st, ids)

    if err := seed(st, mustBuild(t, txn.New().Tuple().
        Set("/Plan/DBServers/PRMR-a", map[string]interface{}{}).
        Set("/Plan/DBServers/PRMR-b", map[string]interface{}{}).
        Set("/Target/NumberOfDBServers", 2))); err != nil {
        t.Fatalf("seed: %v", err)
    }

    shr.Run(context.Background())

    if jobIDs, _, ok := st.ReadSnapshot("/").Children("/Target/ToDo"); ok && len(jobIDs) != 0 {
        t.Fatalf("expected no job, got %v", jobIDs)
    }
}
