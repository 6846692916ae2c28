package supervision

import (
    "context"
    "sort"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-cluster/pkg/observability/metrics"
)

// Shrinker implements the Cluster Shrinker (spec §4.8): when the operator
// lowers /Target/NumberOfDBServers below the number of available servers,
// and every planned collection's replication factor still tolerates losing
// one, it schedules a CleanOutServer job against the lexicographically
// largest available server id.
type Shrinker struct {
    cfg Config
    st  Store
    ids *IDAllocator
}

// NewShrinker constructs a Shrinker sharing ids with the rest of the
// supervisor.
func NewShrinker(cfg Config, st Store, ids *IDAllocator) *Shrinker {
    return &Shrinker{cfg: cfg.withDefaults(), st: st, ids: ids}
}

// Run only acts when both /Target/ToDo and /Target/Pending are empty.
func (s *Shrinker) Run(ctx context.Context) {
    snap := s.st.ReadSnapshot("/")
    if hasChildren(snap, "/Target/ToDo") || hasChildren(snap, "/Target/Pending") {
        return
    }
    target, ok := snap.AsUint("/Target/NumberOfDBServers")
    if !ok {
        return
    }
    available := AvailableServers(snap)
    if uint64(len(available)) <= target {
        return
    }
    maxRepl := maxReplicationFactor(snap)
    if !(maxRepl < len(available) && len(available) > int(target) && len(available) > 1) {
        return
    }
    sort.Strings(available)
    victim := available[len(available)-1]

    id, ok := s.ids.Next()
    if !ok {
        logutil.Warnf(s.cfg.Logger, "supervision: job id batch exhausted, deferring cluster shrink")
        return
    }
    job := Job{ID: id, Type: JobCleanOutServer, State: JobToDo, Target: victim}
    env, err := txn.New().Tuple().
        Set("/Target/ToDo/"+jobIDKey(id), job.ToValue()).
        Set("/Target/CleaningServers/"+victim, map[string]interface{}{}).
        OldEmpty("/Target/CleaningServers/" + victim).
        Build()
    if err != nil {
        return
    }
    if _, err := s.st.SubmitWrite(ctx, env, 2*time.Second); err != nil {
        logutil.Debugf(s.cfg.Logger, "supervision: shrink job for %s rejected: %v", victim, err)
        return
    }
    obsmetrics.SupervisionJobsCreatedTotal.WithLabelValues(string(JobCleanOutServer)).Inc()
}

func hasChildren(snap tree.Tree, path string) bool {
    ids, _, ok := snap.Children(path)
    return ok && len(ids) > 0
}

func maxReplicationFactor(snap tree.Tree) int {
    max := 0
    dbs, _, ok := snap.Children("/Plan/Collections")
    if !ok {
        return 0
    }
    for _, db := range dbs {
        cols, _, ok := snap.Children("/Plan/Collections/" + db)
        if !ok {
            continue
        }
        for _, col := range cols {
            r, _ := snap.AsUint("/Plan/Collections/" + db + "/" + col + "/replicationFactor")
            if int(r) > max {
                max = int(r)
            }
        }
    }
    return max
}
