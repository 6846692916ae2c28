package supervision

import (
    "context"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-cluster/pkg/observability/metrics"
)

// AvailableServers returns the DB servers eligible to host a shard: planned
// minus failed minus servers currently being cleaned out.
func AvailableServers(snap tree.Tree) []string {
    ids, _, ok := snap.Children("/Plan/DBServers")
    if !ok {
        return nil
    }
    failed, _, _ := snap.Children("/Target/FailedServers")
    failedSet := make(map[string]bool, len(failed))
    for _, f := range failed {
        failedSet[f] = true
    }
    cleaning, _, _ := snap.Children("/Target/CleaningServers")
    cleaningSet := make(map[string]bool, len(cleaning))
    for _, c := range cleaning {
        cleaningSet[c] = true
    }
    out := make([]string, 0, len(ids))
    for _, id := range ids {
        if failedSet[id] || cleaningSet[id] {
            continue
        }
        out = append(out, id)
    }
    return out
}

// Enforcer implements the Replication Enforcer (spec §4.7): for every
// planned collection not following another's shard layout, it compares the
// actual server count per shard against the declared replicationFactor and
// schedules AddFollower/RemoveFollower jobs to correct drift.
type Enforcer struct {
    cfg Config
    st  Store
    ids *IDAllocator
}

// NewEnforcer constructs an Enforcer sharing ids with the rest of the
// supervisor.
func NewEnforcer(cfg Config, st Store, ids *IDAllocator) *Enforcer {
    return &Enforcer{cfg: cfg.withDefaults(), st: st, ids: ids}
}

// Run scans every planned collection and enqueues at most one job per
// under- or over-replicated shard, skipping shards that already have a
// pending job or are blocked under /Supervision/DBServers.
func (e *Enforcer) Run(ctx context.Context) {
    snap := e.st.ReadSnapshot("/")
    available := AvailableServers(snap)
    pending := pendingShardTargets(snap)

    dbs, _, ok := snap.Children("/Plan/Collections")
    if !ok {
        return
    }
    for _, db := range dbs {
        cols, _, ok := snap.Children("/Plan/Collections/" + db)
        if !ok {
            continue
        }
        for _, col := range cols {
            base := "/Plan/Collections/" + db + "/" + col
            if snap.Has(base + "/distributeShardsLike") {
                continue
            }
            replFactor, _ := snap.AsUint(base + "/replicationFactor")
            r := int(replFactor)
            if r == 0 {
                r = len(available)
            }
            shards, _, ok := snap.Children(base + "/shards")
            if !ok {
                continue
            }
            for _, shard := range shards {
                e.checkShard(ctx, db, col, shard, r, snap, pending)
            }
        }
    }
}

func (e *Enforcer) checkShard(ctx context.Context, db, col, shard string, r int, snap tree.Tree, pending map[string]bool) {
    path := "/Plan/Collections/" + db + "/" + col + "/shards/" + shard
    servers, ok := snap.AsStringArray(path)
    if !ok {
        return
    }
    a := len(servers)
    if a == r {
        return
    }
    if pending[shard] || snap.Has("/Supervision/DBServers/"+shard) {
        return
    }
    id, ok := e.ids.Next()
    if !ok {
        logutil.Warnf(e.cfg.Logger, "supervision: job id batch exhausted, deferring replication fix for shard %s", shard)
        return
    }
    jobType := JobAddFollower
    if a > r {
        jobType = JobRemoveFollower
    }
    job := Job{
        ID:         id,
        Type:       jobType,
        State:      JobToDo,
        Shard:      shard,
        Collection: col,
        Database:   db,
    }
    env, err := txn.New().Tuple().Set("/Target/ToDo/"+jobIDKey(id), job.ToValue()).Build()
    if err != nil {
        return
    }
    if _, err := e.st.SubmitWrite(ctx, env, 2*time.Second); err != nil {
        logutil.Debugf(e.cfg.Logger, "supervision: replication job for shard %s rejected: %v", shard, err)
        return
    }
    obsmetrics.SupervisionJobsCreatedTotal.WithLabelValues(string(jobType)).Inc()
}

// pendingShardTargets collects shard names already targeted by an
// addFollower/removeFollower/moveShard job in ToDo.
func pendingShardTargets(snap tree.Tree) map[string]bool {
    out := map[string]bool{}
    ids, children, ok := snap.Children("/Target/ToDo")
    if !ok {
        return out
    }
    for _, id := range ids {
        job := jobFromValue(nodeToMap(children[id]))
        switch job.Type {
        case JobAddFollower, JobRemoveFollower, JobMoveShard:
            out[job.Shard] = true
        }
    }
    return out
}
