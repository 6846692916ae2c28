package supervision

import (
    "context"
    "strings"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/health"
    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-cluster/pkg/observability/metrics"
)

type roleSpec struct {
    planPath string
    prefix   string
}

var (
    dbServerRole    = roleSpec{planPath: "/Plan/DBServers", prefix: "PRMR"}
    coordinatorRole = roleSpec{planPath: "/Plan/Coordinators", prefix: "CRDN"}
    singleRole      = roleSpec{planPath: "/Plan/Singles", prefix: "SNGL"}
)

// Evaluator implements the Health Evaluator and Job Factory (spec §4.4/§4.6):
// per tick, for every planned server it recomputes health from heartbeat
// recency and, on a status transition, dispatches a role-specific
// reconfiguration job.
type Evaluator struct {
    cfg Config
    st  Store
    ids *IDAllocator
}

// NewEvaluator constructs an Evaluator sharing ids with the rest of the
// supervisor so job creation draws from the same claimed batch.
func NewEvaluator(cfg Config, st Store, ids *IDAllocator) *Evaluator {
    return &Evaluator{cfg: cfg.withDefaults(), st: st, ids: ids}
}

// RunChecks runs the removal sweep and per-server evaluation for all three
// role classes, in the fixed order DB servers, coordinators, singles.
func (e *Evaluator) RunChecks(ctx context.Context) {
    for _, role := range []roleSpec{dbServerRole, coordinatorRole, singleRole} {
        e.sweepRemovals(ctx, role)
        e.checkRole(ctx, role)
    }
    e.reportServerCounts()
}

// reportServerCounts refreshes the per-status server gauges from the
// persistent health records just written.
func (e *Evaluator) reportServerCounts() {
    counts := map[health.Status]int{health.Good: 0, health.Bad: 0, health.Failed: 0}
    ids, children, ok := e.st.ReadSnapshot("/").Children("/Supervision/Health")
    if ok {
        for _, id := range ids {
            rec := health.FromNode(children[id])
            counts[rec.Status]++
        }
    }
    for status, n := range counts {
        obsmetrics.SupervisionServersByStatus.WithLabelValues(string(status)).Set(float64(n))
    }
}

// sweepRemovals deletes /Supervision/Health/<id> entries whose role prefix
// matches but which no longer have a /Plan/<role>/<id> entry.
func (e *Evaluator) sweepRemovals(ctx context.Context, role roleSpec) {
    snap := e.st.ReadSnapshot("/")
    healthIDs, _, ok := snap.Children("/Supervision/Health")
    if !ok {
        return
    }
    planIDs, _, _ := snap.Children(role.planPath)
    planned := make(map[string]bool, len(planIDs))
    for _, id := range planIDs {
        planned[id] = true
    }
    b := txn.New().Tuple()
    n := 0
    for _, id := range healthIDs {
        if !strings.HasPrefix(id, role.prefix) || planned[id] {
            continue
        }
        b.Delete("/Supervision/Health/" + id)
        n++
    }
    if n == 0 {
        return
    }
    env, err := b.Build()
    if err != nil {
        logutil.Warnf(e.cfg.Logger, "supervision: bad removal-sweep envelope for %s: %v", role.prefix, err)
        return
    }
    if _, err := e.st.SubmitWrite(ctx, env, 2*time.Second); err != nil {
        logutil.Warnf(e.cfg.Logger, "supervision: removal sweep write failed for %s: %v", role.prefix, err)
    }
}

func (e *Evaluator) checkRole(ctx context.Context, role roleSpec) {
    snap := e.st.ReadSnapshot("/")
    ids, _, ok := snap.Children(role.planPath)
    if !ok {
        return
    }
    for _, id := range ids {
        e.checkServer(ctx, role, id, snap)
    }
}

func (e *Evaluator) checkServer(ctx context.Context, role roleSpec, id string, snap tree.Tree) {
    shortName, ok := snap.AsString("/Target/MapUniqueToShortID/" + id + "/ShortName")
    if !ok {
        logutil.Infof(e.cfg.Logger, "supervision: no short name yet for %s, skipping this tick", id)
        return
    }
    endpoint, _ := snap.AsString("/Current/ServersRegistered/" + id + "/endpoint")
    hostID, _ := snap.AsString("/Current/ServersRegistered/" + id + "/host")

    persistNode, _ := snap.Get("/Supervision/Health/" + id)
    persist := health.FromNode(persistNode).Merge(shortName, endpoint, hostID)

    trSnap := e.st.ReadTransient("/")
    transNode, _ := trSnap.Get("/Supervision/Health/" + id)
    transist := health.FromNode(transNode).Merge(shortName, endpoint, hostID)

    syncTime, _ := trSnap.AsString("/Sync/ServerStates/" + id + "/time")
    syncStatus, _ := trSnap.AsString("/Sync/ServerStates/" + id + "/status")

    var lastAckedTime time.Time
    if syncTime != transist.SyncTime {
        lastAckedTime = time.Now()
    } else if transist.LastAcked != "" {
        if t, err := time.Parse(time.RFC3339Nano, transist.LastAcked); err == nil {
            lastAckedTime = t
        }
    }
    var elapsed time.Duration
    if lastAckedTime.IsZero() {
        elapsed = e.cfg.GracePeriod + e.cfg.OkThreshold + time.Second
    } else {
        elapsed = time.Since(lastAckedTime)
    }
    status := health.ClassifyStatus(elapsed, e.cfg.OkThreshold, e.cfg.GracePeriod)

    newTransist := transist
    newTransist.Status = status
    newTransist.SyncStatus = syncStatus
    newTransist.SyncTime = syncTime
    if !lastAckedTime.IsZero() {
        newTransist.LastAcked = lastAckedTime.UTC().Format(time.RFC3339Nano)
    }

    if !newTransist.StatusDiff(persist) {
        e.writeTransientHealth(id, newTransist)
        return
    }

    b := txn.New().Tuple()
    var persisted health.Record

    switch role.prefix {
    case dbServerRole.prefix:
        persisted = e.handleOnStatusDBLike(id, persist, newTransist, snap, b, JobFailedServer)
    case singleRole.prefix:
        persisted = e.handleOnStatusDBLike(id, persist, newTransist, snap, b, JobActiveFailover)
    case coordinatorRole.prefix:
        persisted = e.handleOnStatusCoordinator(id, newTransist, snap, b)
    default:
        logutil.Errorf(e.cfg.Logger, "supervision: unknown server role for %s, skipping", id)
        return
    }

    persisted = persisted.Merge(shortName, endpoint, hostID)
    b.Set("/Supervision/Health/"+id, persisted.ToValue())
    env, err := b.Build()
    if err != nil {
        logutil.Warnf(e.cfg.Logger, "supervision: bad health envelope for %s: %v", id, err)
        return
    }
    if _, err := e.st.SubmitWrite(ctx, env, 2*time.Second); err != nil {
        logutil.Debugf(e.cfg.Logger, "supervision: health write rejected for %s (will retry): %v", id, err)
        return
    }
    e.writeTransientHealth(id, newTransist)
}

func (e *Evaluator) writeTransientHealth(id string, rec health.Record) {
    env, err := txn.New().Tuple().Set("/Supervision/Health/"+id, rec.ToValue()).Build()
    if err != nil {
        return
    }
    if _, err := e.st.SubmitTransient(env); err != nil {
        logutil.Debugf(e.cfg.Logger, "supervision: transient health write failed for %s: %v", id, err)
    }
}

// handleOnStatusDBLike implements the DB-server and single-server dispatch
// (spec §4.6): both use the same hysteresis and failed-server bookkeeping,
// differing only in which job type opens.
func (e *Evaluator) handleOnStatusDBLike(id string, persist, transist health.Record, snap tree.Tree, b *txn.Builder, jobType JobType) health.Record {
    failedPath := "/Target/FailedServers/" + id
    hasFailedEntry := snap.Has(failedPath)

    if transist.Status == health.Good && hasFailedEntry {
        b.Delete(failedPath)
    }

    switch {
    case persist.Status == health.Good && transist.Status != health.Good:
        r := persist
        r.Status = health.Bad
        return r
    case persist.Status == health.Bad && transist.Status == health.Failed && !hasFailedEntry:
        id64, ok := e.ids.Next()
        if !ok {
            logutil.Warnf(e.cfg.Logger, "supervision: job id batch exhausted, deferring %s job for %s", jobType, id)
            r := persist
            r.Status = health.Failed
            return r
        }
        job := Job{ID: id64, Type: jobType, State: JobToDo, Source: id, Target: id}
        b.Set(failedPath, map[string]interface{}{}).
            OldEmpty(failedPath).
            Set("/Target/ToDo/"+jobIDKey(id64), job.ToValue())
        obsmetrics.SupervisionJobsCreatedTotal.WithLabelValues(string(jobType)).Inc()
        r := persist
        r.Status = health.Failed
        return r
    default:
        return transist
    }
}

// handleOnStatusCoordinator implements the coordinator dispatch: only a
// Foxxmaster hand-off, never a reconfiguration job.
func (e *Evaluator) handleOnStatusCoordinator(id string, transist health.Record, snap tree.Tree, b *txn.Builder) health.Record {
    if transist.Status == health.Failed {
        if fm, ok := snap.AsString("/Current/Foxxmaster"); ok && fm == id {
            b.Set("/Current/Foxxmaster", "")
        }
    }
    return transist
}
