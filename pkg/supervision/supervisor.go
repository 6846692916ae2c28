package supervision

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/health"
    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-cluster/pkg/observability/metrics"
    "github.com/amirimatin/go-cluster/pkg/observability/tracing"
)

const (
    leaderGrace = 10 * time.Second
    idBatchSize = 10000
)

// Supervisor runs the outer control loop (spec §4.10): boot-wait, then a
// leadership-gated tick that upgrades the schema once per term, refreshes
// server health, and drives job scheduling. There is exactly one Supervisor
// worker per node; it is the only writer of /Supervision/*, /Target/ToDo/*,
// /Target/Pending/*, /Target/FailedServers/* and /Agency/Definition while
// this node is leader.
type Supervisor struct {
    cfg    Config
    st     Store
    ids    *IDAllocator
    up     *Upgrader
    ev     *Evaluator
    enf    *Enforcer
    shr    *Shrinker
    runner *JobRunner

    mu   sync.Mutex
    wake chan struct{}
    stop chan struct{}
    done chan struct{}

    lastMode     string
    upgradedTerm bool
    wasLeader    bool
    selfShutdown bool
}

// New constructs a Supervisor bound to st, which must satisfy the Store
// contract (typically *pkg/agency/store.Store).
func New(cfg Config, st Store) *Supervisor {
    cfg = cfg.withDefaults()
    obsmetrics.Register()
    ids := &IDAllocator{}
    return &Supervisor{
        cfg:    cfg,
        st:     st,
        ids:    ids,
        up:     NewUpgrader(cfg, st),
        ev:     NewEvaluator(cfg, st, ids),
        enf:    NewEnforcer(cfg, st, ids),
        shr:    NewShrinker(cfg, st, ids),
        runner: NewJobRunner(cfg, st),
        wake:   make(chan struct{}, 1),
        stop:   make(chan struct{}),
        done:   make(chan struct{}),
    }
}

// Done reports when Run has returned.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Stop requests cooperative shutdown of the loop: the current tick (if any)
// finishes and the next iteration exits. It does not itself write /Shutdown;
// that is an operator action observed by the loop, per spec §4.11.
func (s *Supervisor) Stop() {
    select {
    case <-s.stop:
    default:
        close(s.stop)
    }
    s.wakeNow()
}

func (s *Supervisor) wakeNow() {
    select {
    case s.wake <- struct{}{}:
    default:
    }
}

// Run executes the boot-wait and main loop until ctx is done, Stop is
// called, or /Shutdown is observed (the loop exits after that tick's pass of
// the shutdown sequence, whether or not /Shutdown was cleared in it).
func (s *Supervisor) Run(ctx context.Context) {
    defer close(s.done)
    if !s.bootWait(ctx) {
        return
    }
    for {
        select {
        case <-ctx.Done():
            return
        case <-s.stop:
            return
        default:
        }

        s.mu.Lock()
        stopNow := s.tick(ctx)
        s.mu.Unlock()
        if stopNow {
            return
        }
        if !s.sleep(ctx) {
            return
        }
    }
}

func (s *Supervisor) bootWait(ctx context.Context) bool {
    ticker := time.NewTicker(s.cfg.Frequency)
    defer ticker.Stop()
    for {
        ids, _, ok := s.st.ReadSnapshot("/").Children("/Supervision")
        if ok && len(ids) > 0 {
            return true
        }
        select {
        case <-ctx.Done():
            return false
        case <-s.stop:
            return false
        case <-ticker.C:
        }
    }
}

func (s *Supervisor) sleep(ctx context.Context) bool {
    t := time.NewTimer(s.cfg.Frequency)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-s.stop:
        return false
    case <-s.wake:
        return true
    case <-t.C:
        return true
    }
}

// tick runs one iteration of the main loop and reports whether the loop
// should now exit.
func (s *Supervisor) tick(ctx context.Context) bool {
    ctx, end := tracing.StartSpan(ctx, "supervision.tick")
    defer end()
    start := time.Now()
    defer func() { obsmetrics.SupervisionTickDuration.Observe(time.Since(start).Seconds()) }()

    snap := s.st.ReadSnapshot("/")
    if snap.Has("/Shutdown") {
        s.runShutdown(ctx, snap)
        return true
    }
    if s.selfShutdown {
        return true
    }

    if !(s.st.IsLeader() && s.st.LeaderFor() >= leaderGrace && s.st.PrepareLeadershipDone()) {
        s.wasLeader = false
        return false
    }
    if !s.wasLeader {
        s.wasLeader = true
        s.upgradedTerm = false
        s.ids.Refill(0, 0)
    }

    if s.ids.NeedsRefill() {
        s.getUniqueIds(ctx)
    }

    if snap.Has("/Supervision/Maintenance") {
        s.reportStatus(ctx, "Maintenance")
        return false
    }

    s.reportStatus(ctx, "Normal")
    if !s.upgradedTerm {
        s.up.Run(ctx)
        s.upgradedTerm = true
    }
    s.ev.RunChecks(ctx)
    s.handleJobs(ctx)
    return false
}

// handleJobs runs replication enforcement, cluster shrinking, then advances
// pending job state machines, in that order within a tick.
func (s *Supervisor) handleJobs(ctx context.Context) {
    s.enf.Run(ctx)
    s.shr.Run(ctx)
    s.runner.RunAll(ctx)
    s.reportJobCounts()
}

// reportJobCounts refreshes the per-state job gauges from the current
// ToDo/Pending/Finished/Failed queues.
func (s *Supervisor) reportJobCounts() {
    snap := s.st.ReadSnapshot("/")
    for _, stage := range []string{"ToDo", "Pending", "Finished", "Failed"} {
        ids, _, ok := snap.Children("/Target/" + stage)
        n := 0
        if ok {
            n = len(ids)
        }
        obsmetrics.SupervisionJobsByState.WithLabelValues(stage).Set(float64(n))
    }
}

func (s *Supervisor) reportStatus(ctx context.Context, mode string) {
    if s.lastMode != mode {
        env, err := txn.New().Tuple().Set("/Supervision/State", map[string]interface{}{
            "Mode":      mode,
            "Timestamp": time.Now().UTC().Format(time.RFC3339Nano),
        }).Build()
        if err == nil {
            if _, err := s.st.SubmitWrite(ctx, env, 2*time.Second); err != nil {
                logutil.Debugf(s.cfg.Logger, "supervision: status report rejected: %v", err)
            } else {
                s.lastMode = mode
            }
        }
    }
    if mode == "Maintenance" {
        return
    }
    tenv, err := txn.New().Tuple().Set("/Supervision/State", map[string]interface{}{
        "Mode":      mode,
        "Timestamp": time.Now().UTC().Format(time.RFC3339Nano),
    }).Build()
    if err == nil {
        _, _ = s.st.SubmitTransient(tenv)
    }
}

// getUniqueIds claims the next batch of 10,000 job ids via a single
// increment on /Sync/LatestID, reading the result back in the same
// envelope (spec §4.12).
func (s *Supervisor) getUniqueIds(ctx context.Context) {
    env, err := txn.New().
        Tuple().Increment("/Sync/LatestID", idBatchSize).
        Read("/Sync/LatestID").
        Build()
    if err != nil {
        return
    }
    wr, err := s.st.SubmitWrite(ctx, env, 2*time.Second)
    if err != nil {
        logutil.Warnf(s.cfg.Logger, "supervision: getUniqueIds failed, retrying next tick: %v", err)
        return
    }
    if len(wr.Result.Tuples) < 2 {
        return
    }
    raw, ok := wr.Result.Tuples[1].Values["/Sync/LatestID"]
    if !ok {
        return
    }
    var max uint64
    if err := json.Unmarshal(raw, &max); err != nil {
        return
    }
    s.ids.Refill(max-idBatchSize, idBatchSize)
    obsmetrics.SupervisionLatestJobID.Set(float64(max))
}

// runShutdown implements the shutdown sequence (spec §4.11): once every
// registered server's health is non-GOOD, the leader deletes /Shutdown.
func (s *Supervisor) runShutdown(ctx context.Context, snap tree.Tree) {
    s.selfShutdown = true

    ids, _, ok := snap.Children("/Current/ServersRegistered")
    allCleared := true
    if ok {
        for _, id := range ids {
            if id == "Version" {
                continue
            }
            node, _ := snap.Get("/Supervision/Health/" + id)
            rec := health.FromNode(node)
            if rec.Status == health.Good {
                allCleared = false
                break
            }
        }
    }
    if !allCleared || !s.st.IsLeader() {
        return
    }

    env, err := txn.New().Tuple().Delete("/Shutdown").Build()
    if err != nil {
        return
    }
    // SubmitWrite blocks until the delete is committed through consensus,
    // satisfying the "wait for replication before exiting" requirement.
    if _, err := s.st.SubmitWrite(ctx, env, 5*time.Second); err != nil {
        logutil.Warnf(s.cfg.Logger, "supervision: shutdown delete rejected: %v", err)
    }
}
