package update

import (
	"sync"
	"time"
)

type lockKey struct {
	taskID string
	field  string
}

type lockEntry struct {
	holder    string
	claimedAt time.Time
}

// LockTable grants at most one in-flight update per (task, field). Different
// fields of the same task are independent keys, so concurrent edits to
// different fields proceed in parallel. Entries that outlive the TTL are
// reclaimed by a background sweep; that is the only recovery path for an
// update that crashed before its release.
//
// The table is process-local. Running multiple API instances would lose the
// exclusion guarantee; the store-level atomic version increment still
// prevents lost version bumps in that case.
type LockTable struct {
	mu      sync.Mutex
	entries map[lockKey]lockEntry
	ttl     time.Duration

	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLockTable starts the staleness sweeper and returns the table. Close must
// be called on shutdown.
func NewLockTable(ttl, sweepInterval time.Duration) *LockTable {
	t := &LockTable{
		entries: make(map[lockKey]lockEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go t.sweepLoop(sweepInterval)
	return t
}

// TryClaim atomically claims (taskID, field) for holder. It returns false if
// another update is already in flight for that key.
func (t *LockTable) TryClaim(taskID, field, holder string) bool {
	key := lockKey{taskID: taskID, field: field}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.entries[key]; held {
		return false
	}
	t.entries[key] = lockEntry{holder: holder, claimedAt: t.now()}
	return true
}

// Release removes the claim unconditionally. Releasing an unclaimed key is a
// no-op.
func (t *LockTable) Release(taskID, field string) {
	key := lockKey{taskID: taskID, field: field}
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// Len reports the number of live claims.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *LockTable) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *LockTable) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *LockTable) sweep() {
	cutoff := t.now().Add(-t.ttl)
	t.mu.Lock()
	for key, entry := range t.entries {
		if entry.claimedAt.Before(cutoff) {
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()
}
