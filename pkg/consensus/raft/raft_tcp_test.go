package raftcons

import (
    "context"
    "testing"
    "time"

    "github.com/hashicorp/raft"

    "github.com/amirimatin/go-cluster/pkg/agency/txn"
)

// Three-node election using real TCP transports and on-disk stores (in temp dirs).
func TestRaft_ThreeNodeElection_TCP(t *testing.T) {
    t.Parallel()

    mk := func(id string) *Node {
        n, err := New(Options{
            NodeID:           id,
            BindAddr:         "127.0.0.1:0",
            DataDir:          t.TempDir(),
            SnapshotsRetained: 1,
            HeartbeatTimeout:  150 * time.Millisecond,
            ElectionTimeout:   300 * time.Millisecond,
            CommitTimeout:     50 * time.Millisecond,
            ApplyTimeout:      2 * time.Second,
        })
        if err != nil { t.Fatalf("new %s: %v", id, err) }
        return n
    }

    n1 := mk("n1"); n1.opts.Bootstrap = true
    n2 := mk("n2")
    n3 := mk("n3")

    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()

    for _, n := range []*Node{n1, n2, n3} {
        if err := n.Start(ctx); err != nil { t.Fatalf("start %s: %v", n.opts.NodeID, err) }
        defer n.Stop()
    }

    // Wait for n1 to become leader
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if n1.IsLeader() { break }
        time.Sleep(50 * time.Millisecond)
    }
    if !n1.IsLeader() { t.Fatalf("n1 did not become leader") }

    // Add voters
    add := func(id string, addr string) {
        f := n1.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 3*time.Second)
        if err := f.Error(); err != nil { t.Fatalf("AddVoter %s: %v", id, err) }
    }
    add("n2", string(n2.addr))
    add("n3", string(n3.addr))

    // All nodes should know the leader
    awaitLeaderKnown := func(n *Node) {
        t.Helper()
        dl := time.Now().Add(5 * time.Second)
        for time.Now().Before(dl) {
            if id, _, ok := n.Leader(); ok && id != "" { return }
            time.Sleep(50 * time.Millisecond)
        }
        t.Fatalf("leader unknown on %s", n.opts.NodeID)
    }
    awaitLeaderKnown(n1)
    awaitLeaderKnown(n2)
    awaitLeaderKnown(n3)

    // Register a DB server through the agency store on the leader and
    // verify it replicates to every follower's committed tree.
    env, err := txn.New().
        Tuple().Set("/Current/ServersRegistered/PRMR-svc-1", map[string]interface{}{"endpoint": "tcp://10.0.0.1:9999"}).
        Build()
    if err != nil { t.Fatalf("build envelope: %v", err) }
    if _, err := n1.Store().SubmitWrite(ctx, env, 2*time.Second); err != nil {
        t.Fatalf("submit write: %v", err)
    }

    awaitHasServer := func(n *Node, id string) {
        dl := time.Now().Add(5 * time.Second)
        for time.Now().Before(dl) {
            if n.Store().ReadSnapshot("/").Has("/Current/ServersRegistered/" + id) {
                return
            }
            time.Sleep(50 * time.Millisecond)
        }
        t.Fatalf("state did not include %s on %s", id, n.opts.NodeID)
    }
    awaitHasServer(n1, "PRMR-svc-1")
    awaitHasServer(n2, "PRMR-svc-1")
    awaitHasServer(n3, "PRMR-svc-1")

    // Now remove the server and ensure it's gone from all nodes.
    rmEnv, err := txn.New().Tuple().Delete("/Current/ServersRegistered/PRMR-svc-1").Build()
    if err != nil { t.Fatalf("build delete envelope: %v", err) }
    if _, err := n1.Store().SubmitWrite(ctx, rmEnv, 2*time.Second); err != nil {
        t.Fatalf("submit delete: %v", err)
    }
    awaitNoServer := func(n *Node, id string) {
        dl := time.Now().Add(5 * time.Second)
        for time.Now().Before(dl) {
            if !n.Store().ReadSnapshot("/").Has("/Current/ServersRegistered/" + id) {
                return
            }
            time.Sleep(50 * time.Millisecond)
        }
        t.Fatalf("state still includes %s on %s", id, n.opts.NodeID)
    }
    awaitNoServer(n1, "PRMR-svc-1")
    awaitNoServer(n2, "PRMR-svc-1")
    awaitNoServer(n3, "PRMR-svc-1")
}
