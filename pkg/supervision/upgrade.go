package supervision

import (
    "context"
    "time"

    "github.com/amirimatin/go-cluster/pkg/agency/health"
    "github.com/amirimatin/go-cluster/pkg/agency/tree"
    "github.com/amirimatin/go-cluster/pkg/agency/txn"
    "github.com/amirimatin/go-cluster/pkg/internal/logutil"
)

// Upgrader runs once per leader term, before the first round of health
// checks, bringing an older on-disk schema up to the current vintage.
type Upgrader struct {
    cfg Config
    st  Store
}

// NewUpgrader constructs an Upgrader.
func NewUpgrader(cfg Config, st Store) *Upgrader {
    return &Upgrader{cfg: cfg.withDefaults(), st: st}
}

// Run builds and submits a single envelope covering every upgrade step.
// Each step is itself idempotent via preconditions, so re-running on a
// later term that already upgraded is a no-op.
func (u *Upgrader) Run(ctx context.Context) {
    snap := u.st.ReadSnapshot("/")
    b := txn.New()

    u.upgradeZero(snap, b)
    u.fixPrototypeChain(snap, b)
    u.upgradeOne(snap, b)
    u.upgradeHealthRecords(snap, b)

    env, err := b.Build()
    if err != nil {
        // Build() errors on structural mistakes only; a bare Builder with
        // no tuples added yields an empty envelope, handled below as a
        // legitimate no-op term.
        return
    }
    if len(env) == 0 {
        return
    }
    if _, err := u.st.SubmitWrite(ctx, env, 5*time.Second); err != nil {
        logutil.Warnf(u.cfg.Logger, "supervision: upgrade envelope rejected (will retry next term): %v", err)
    }
}

// upgradeZero converts a legacy array-shaped /Target/FailedServers into the
// object shape the rest of the codebase expects.
func (u *Upgrader) upgradeZero(snap tree.Tree, b *txn.Builder) {
    arr, ok := snap.AsArray("/Target/FailedServers")
    if !ok {
        return
    }
    obj := map[string]interface{}{}
    for _, item := range arr {
        if item.Kind == tree.KindString {
            obj[item.Str] = map[string]interface{}{}
        }
    }
    b.Tuple().Set("/Target/FailedServers", obj).IsArray("/Target/FailedServers")
}

// fixPrototypeChain resolves distributeShardsLike chains transitively so
// every collection points directly at its ultimate prototype.
func (u *Upgrader) fixPrototypeChain(snap tree.Tree, b *txn.Builder) {
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
            proto, ok := snap.AsString(base + "/distributeShardsLike")
            if !ok || proto == "" {
                continue
            }
            resolved := u.resolveChain(snap, db, proto, map[string]bool{col: true})
            if resolved != proto {
                path := base + "/distributeShardsLike"
                b.Tuple().Set(path, resolved).Eq(path, proto)
            }
        }
    }
}

func (u *Upgrader) resolveChain(snap tree.Tree, db, name string, seen map[string]bool) string {
    if seen[name] {
        return name
    }
    seen[name] = true
    next, ok := snap.AsString("/Plan/Collections/" + db + "/" + name + "/distributeShardsLike")
    if !ok || next == "" {
        return name
    }
    return u.resolveChain(snap, db, next, seen)
}

// upgradeOne initializes the schema-version marker and empty job queues the
// first time this agency is ever upgraded.
func (u *Upgrader) upgradeOne(snap tree.Tree, b *txn.Builder) {
    if snap.Has("/Agency/Definition") {
        return
    }
    b.Tuple().
        Set("/Agency/Definition", 1).
        Set("/Target/ToDo", map[string]interface{}{}).
        Set("/Target/Pending", map[string]interface{}{}).
        OldEmpty("/Agency/Definition")
}

// upgradeHealthRecords rewrites every version-1 health record in version-2
// form.
func (u *Upgrader) upgradeHealthRecords(snap tree.Tree, b *txn.Builder) {
    ids, children, ok := snap.Children("/Supervision/Health")
    if !ok {
        return
    }
    for _, id := range ids {
        rec := health.FromNode(children[id])
        if rec.Version != 1 {
            continue
        }
        b.Tuple().Set("/Supervision/Health/"+id, rec.ToValue())
    }
}
