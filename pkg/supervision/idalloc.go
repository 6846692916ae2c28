package supervision

import "sync"

// IDAllocator hands out job ids from a batch claimed via a single increment
// on /Sync/LatestID (see Supervisor.getUniqueIds). It is reset whenever
// leadership is (re)acquired.
type IDAllocator struct {
    mu       sync.Mutex
    cur, max uint64
}

// Next claims the next id in the current batch, or reports false if the
// batch is exhausted and a refill is needed.
func (a *IDAllocator) Next() (uint64, bool) {
    a.mu.Lock()
    defer a.mu.Unlock()
    if a.cur >= a.max {
        return 0, false
    }
    id := a.cur
    a.cur++
    return id, true
}

// NeedsRefill reports whether the allocator has never been seeded or has
// exhausted its current batch, mirroring the "jobId == 0 || jobId ==
// jobIdMax" check in the supervisor loop.
func (a *IDAllocator) NeedsRefill() bool {
    a.mu.Lock()
    defer a.mu.Unlock()
    return a.cur == 0 || a.cur == a.max
}

// Refill sets a new batch [base, base+batch).
func (a *IDAllocator) Refill(base, batch uint64) {
    a.mu.Lock()
    defer a.mu.Unlock()
    a.cur = base
    a.max = base + batch
}
