package supervision

import (
    "context"
    "testing"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/txn"
)

// A Supervisor never acts while this node has not held leadership for at
// least leaderGrace (spec §4.10's "is_leader() && leader_for>=10s" gate).
func TestSupervisor_Tick_NoopWithoutLeadershipGrace(t *testing.T) {
    st := newTestStore()
    sup := New(Config{Frequency: time.Millisecond}, st)

    // Seed /Supervision so bootWait isn't exercised here; tick is called
    // directly below.
    if err := seed(st, mustBuild(t, txn.New().Tuple().
        Set("/Supervision/Placeholder", map[string]interface{}{}))); err != nil {
        t.Fatalf("seed: %v", err)
    }

    sup.mu.Lock()
    stop := sup.tick(context.Background())
    sup.mu.Unlock()
    if stop {
        t.Fatalf("tick should not request stop")
    }
    if st.ReadSnapshot("/").Has("/Supervision/State") {
        t.Fatalf("expected no status report while leadership grace hasn't elapsed")
    }
}

// Once /Shutdown appears and every registered server is non-GOOD, the tick
// deletes /Shutdown and reports the loop should stop.
func TestSupervisor_RunShutdown_DeletesShutdownWhenAllServersCleared(t *testing.T) {
    st := newTestStore()
    sup := New(Config{Frequency: time.Millisecond}, st)

    if err := seed(st, mustBuild(t, txn.New().Tuple().
        Set("/Current/ServersRegistered/PRMR-a", map[string]interface{}{"endpoint": "tcp://a"}).
        Set("/Supervision/Health/PRMR-a", map[string]interface{}{
            "Status": "FAILED", "SyncTime": "t", "LastAcked": "t",
        }).
        Set("/Shutdown", true))); err != nil {
        t.Fatalf("seed: %v", err)
    }

    sup.mu.Lock()
    stop := sup.tick(context.Background())
    sup.mu.Unlock()
    if !stop {
        t.Fatalf("expected tick to request stop once /Shutdown is observed")
    }
    if st.ReadSnapshot("/").Has("/Shutdown") {
        t.Fatalf("expected /Shutdown deleted once all servers cleared")
    }
}

// /Shutdown is left alone while a registered server is still GOOD.
func TestSupervisor_RunShutdown_WaitsForServersToClear(t *testing.T) {
    st := newTestStore()
    sup := New(Config{Frequency: time.Millisecond}, st)

    if err := seed(st, mustBuild(t, txn.New().Tuple().
        Set("/Current/ServersRegistered/PRMR-a", map[string]interface{}{"endpoint": "tcp://a"}).
        Set("/Supervision/Health/PRMR-a", map[string]interface{}{
            "Status": "GOOD", "SyncTime": "t", "LastAcked": "t",
        }).
        Set("/Shutdown", true))); err != nil {
        t.Fatalf("seed: %v", err)
    }

    sup.mu.Lock()
    stop := sup.tick(context.Background())
    sup.mu.Unlock()
    if !stop {
        t.Fatalf("expected tick to still request stop (terminal for this node's loop)")
    }
    if !st.ReadSnapshot("/").Has("/Shutdown") {
        t.Fatalf("expected /Shutdown left alone while a server is still GOOD")
    }
}
