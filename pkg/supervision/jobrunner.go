package supervision

import (
    "context"
    "fmt"
    "runtime/debug"
    "sort"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-cluster/pkg/observability/metrics"
    "github.com/amirimatin/go-cluster/pkg/observability/tracing"
)

// JobRunner iterates ToDo then Pending entries in key order, running exactly
// one step of each job's ToDo -> Pending -> Finished|Failed state machine
// per tick.
type JobRunner struct {
    cfg Config
    st  Store
}

// NewJobRunner constructs a JobRunner.
func NewJobRunner(cfg Config, st Store) *JobRunner {
    return &JobRunner{cfg: cfg.withDefaults(), st: st}
}

// RunAll steps every ToDo job, then every Pending job, each exactly once.
func (r *JobRunner) RunAll(ctx context.Context) {
    snap := r.st.ReadSnapshot("/")
    for _, stage := range []string{"/Target/ToDo", "/Target/Pending"} {
        ids, children, ok := snap.Children(stage)
        if !ok {
            continue
        }
        sort.Strings(ids)
        for _, id := range ids {
            r.runOne(ctx, snap, id, jobFromValue(nodeToMap(children[id])))
        }
    }
}

func nodeToMap(n *tree.Node) map[string]interface{} {
    if n == nil || n.Kind != tree.KindObject {
        return nil
    }
    out := make(map[string]interface{}, len(n.Children))
    for k, v := range n.Children {
        out[k] = valueOfNode(v)
    }
    return out
}

func valueOfNode(n *tree.Node) interface{} {
    switch n.Kind {
    case tree.KindString:
        return n.Str
    case tree.KindUint:
        return float64(n.Num)
    case tree.KindBool:
        return n.Bool
    case tree.KindObject:
        return nodeToMap(n)
    case tree.KindArray:
        items := make([]interface{}, len(n.Items))
        for i, it := range n.Items {
            items[i] = valueOfNode(it)
        }
        return items
    default:
        return nil
    }
}

// runOne runs one step of job's state machine, recovering from a panic in
// job-specific logic the way the rest of the loop keeps running after any
// other single-job failure.
func (r *JobRunner) runOne(ctx context.Context, snap tree.Tree, id string, job Job) {
    ctx, end := tracing.StartSpan(ctx, "supervision.job."+string(job.Type))
    defer end()
    defer func() {
        if rec := recover(); rec != nil {
            logutil.Errorf(r.cfg.Logger, "supervision: job %s (%s) panicked: %v\n%s", id, job.Type, rec, debug.Stack())
        }
    }()

    switch job.State {
    case JobToDo:
        r.stepToDo(ctx, snap, job)
    case JobPending:
        r.stepPending(ctx, snap, job)
    default:
        logutil.Errorf(r.cfg.Logger, "supervision: job %s has unexpected state %q, skipping", id, job.State)
    }
}

func (r *JobRunner) stepToDo(ctx context.Context, snap tree.Tree, job Job) {
    key := jobIDKey(job.ID)
    job.State = JobPending
    env, err := txn.New().
        Tuple().
        Delete("/Target/ToDo/" + key).
        Set("/Target/Pending/"+key, job.ToValue()).
        Build()
    if err != nil {
        logutil.Warnf(r.cfg.Logger, "supervision: bad ToDo->Pending envelope for job %d: %v", job.ID, err)
        return
    }
    if _, err := r.st.SubmitWrite(ctx, env, 2*time.Second); err != nil {
        logutil.Debugf(r.cfg.Logger, "supervision: job %d ToDo->Pending rejected: %v", job.ID, err)
    }
}

func (r *JobRunner) stepPending(ctx context.Context, snap tree.Tree, job Job) {
    var err error
    switch job.Type {
    case JobFailedServer, JobActiveFailover:
        err = r.finishSimple(ctx, job)
    case JobAddFollower:
        err = r.finishAddFollower(ctx, snap, job)
    case JobRemoveFollower:
        err = r.finishRemoveFollower(ctx, snap, job)
    case JobMoveShard:
        err = r.finishMoveShard(ctx, snap, job)
    case JobCleanOutServer:
        err = r.finishCleanOutServer(ctx, snap, job)
    default:
        err = fmt.Errorf("unknown job type %q", job.Type)
    }
    key := jobIDKey(job.ID)
    outcome := "/Target/Finished/" + key
    outcomeLabel := "finished"
    if err != nil {
        outcome = "/Target/Failed/" + key
        outcomeLabel = "failed"
        logutil.Errorf(r.cfg.Logger, "supervision: job %d (%s) failed: %v", job.ID, job.Type, err)
    }
    obsmetrics.SupervisionJobsFinishedTotal.WithLabelValues(string(job.Type), outcomeLabel).Inc()
    env, buildErr := txn.New().
        Tuple().
        Delete("/Target/Pending/" + key).
        Set(outcome, job.ToValue()).
        Build()
    if buildErr != nil {
        return
    }
    if _, err := r.st.SubmitWrite(ctx, env, 2*time.Second); err != nil {
        logutil.Debugf(r.cfg.Logger, "supervision: job %d completion write rejected: %v", job.ID, err)
    }
}

// finishSimple completes jobs whose reconfiguration already happened as a
// side effect of opening them (FailedServer, ActiveFailover): the health
// evaluator already wrote /Target/FailedServers/<id>, so the job's only job
// is bookkeeping.
func (r *JobRunner) finishSimple(ctx context.Context, job Job) error {
    return nil
}

func (r *JobRunner) finishAddFollower(ctx context.Context, snap tree.Tree, job Job) error {
    candidate, ok := pickAddCandidate(snap, job)
    if !ok {
        return fmt.Errorf("no available server to add as follower for shard %s", job.Shard)
    }
    path := shardPath(job.Database, job.Collection, job.Shard)
    servers, ok := snap.AsStringArray(path)
    if !ok {
        return fmt.Errorf("shard %s not found", path)
    }
    servers = append(servers, candidate)
    env, err := txn.New().Tuple().Set(path, toAnySlice(servers)).IsArray(path).Build()
    if err != nil {
        return err
    }
    _, err = r.st.SubmitWrite(ctx, env, 2*time.Second)
    return err
}

func (r *JobRunner) finishRemoveFollower(ctx context.Context, snap tree.Tree, job Job) error {
    path := shardPath(job.Database, job.Collection, job.Shard)
    servers, ok := snap.AsStringArray(path)
    if !ok || len(servers) <= 1 {
        return fmt.Errorf("shard %s has no removable follower", path)
    }
    // Never drop the leader (index 0); drop the last follower.
    servers = servers[:len(servers)-1]
    env, err := txn.New().Tuple().Set(path, toAnySlice(servers)).IsArray(path).Build()
    if err != nil {
        return err
    }
    _, err = r.st.SubmitWrite(ctx, env, 2*time.Second)
    return err
}

func (r *JobRunner) finishMoveShard(ctx context.Context, snap tree.Tree, job Job) error {
    path := shardPath(job.Database, job.Collection, job.Shard)
    servers, ok := snap.AsStringArray(path)
    if !ok {
        return fmt.Errorf("shard %s not found", path)
    }
    moved := false
    for i, s := range servers {
        if s == job.Source {
            servers[i] = job.Target
            moved = true
            break
        }
    }
    if !moved {
        return fmt.Errorf("source server %s not present in shard %s", job.Source, path)
    }
    env, err := txn.New().Tuple().Set(path, toAnySlice(servers)).IsArray(path).Build()
    if err != nil {
        return err
    }
    _, err = r.st.SubmitWrite(ctx, env, 2*time.Second)
    return err
}

func (r *JobRunner) finishCleanOutServer(ctx context.Context, snap tree.Tree, job Job) error {
    if shardsStillReference(snap, job.Target) {
        return fmt.Errorf("server %s still referenced by a shard, cannot clean out yet", job.Target)
    }
    env, err := txn.New().
        Tuple().
        Delete("/Plan/DBServers/" + job.Target).
        Delete("/Supervision/DBServers/" + job.Target).
        Build()
    if err != nil {
        return err
    }
    _, err = r.st.SubmitWrite(ctx, env, 2*time.Second)
    return err
}

func shardPath(db, col, shard string) string {
    return "/Plan/Collections/" + db + "/" + col + "/shards/" + shard
}

func toAnySlice(ss []string) []interface{} {
    out := make([]interface{}, len(ss))
    for i, s := range ss {
        out[i] = s
    }
    return out
}

func shardsStillReference(snap tree.Tree, serverID string) bool {
    dbs, _, ok := snap.Children("/Plan/Collections")
    if !ok {
        return false
    }
    for _, db := range dbs {
        cols, _, ok := snap.Children("/Plan/Collections/" + db)
        if !ok {
            continue
        }
        for _, col := range cols {
            shards, _, ok := snap.Children("/Plan/Collections/" + db + "/" + col + "/shards")
            if !ok {
                continue
            }
            for _, shard := range shards {
                servers, ok := snap.AsStringArray("/Plan/Collections/" + db + "/" + col + "/shards/" + shard)
                if !ok {
                    continue
                }
                for _, s := range servers {
                    if s == serverID {
                        return true
                    }
                }
            }
        }
    }
    return false
}

func pickAddCandidate(snap tree.Tree, job Job) (string, bool) {
    path := shardPath(job.Database, job.Collection, job.Shard)
    current, _ := snap.AsStringArray(path)
    inUse := make(map[string]bool, len(current))
    for _, s := range current {
        inUse[s] = true
    }
    avail := AvailableServers(snap)
    sort.Strings(avail)
    for _, s := range avail {
        if !inUse[s] {
            return s, true
        }
    }
    return "", false
}
