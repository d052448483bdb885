package update

import (
	"sync"
	"testing"
	"time"
)

// newIdleLockTable builds a table whose background sweep never fires, so
// tests drive sweep() directly with a controlled clock.
func newIdleLockTable(t *testing.T, ttl time.Duration) *LockTable {
	t.Helper()
	table := NewLockTable(ttl, time.Hour)
	t.Cleanup(table.Close)
	return table
}

func TestTryClaimExcludesSameField(t *testing.T) {
	table := newIdleLockTable(t, 30*time.Second)

	if !table.TryClaim("task1", "title", "alice") {
		t.Fatal("first claim refused")
	}
	if table.TryClaim("task1", "title", "bob") {
		t.Fatal("second claim on held field granted")
	}
	// A holder re-claiming its own field is still a conflict; the claim is
	// per in-flight update, not per user.
	if table.TryClaim("task1", "title", "alice") {
		t.Fatal("re-claim by holder granted")
	}
}

func TestTryClaimIndependentKeys(t *testing.T) {
	table := newIdleLockTable(t, 30*time.Second)

	claims := []struct{ taskID, field string }{
		{"task1", "title"},
		{"task1", "status"},
		{"task2", "title"},
	}
	for _, c := range claims {
		if !table.TryClaim(c.taskID, c.field, "alice") {
			t.Errorf("claim (%s, %s) refused, keys should be independent", c.taskID, c.field)
		}
	}
	if table.Len() != 3 {
		t.Errorf("Len = %d, want 3", table.Len())
	}
}

func TestReleaseMakesFieldClaimable(t *testing.T) {
	table := newIdleLockTable(t, 30*time.Second)

	table.TryClaim("task1", "title", "alice")
	table.Release("task1", "title")
	if !table.TryClaim("task1", "title", "bob") {
		t.Fatal("field not claimable after release")
	}

	// Releasing an unclaimed key is a no-op.
	table.Release("task9", "title")
	if table.Len() != 1 {
		t.Errorf("Len = %d, want 1", table.Len())
	}
}

func TestSweepReclaimsExpiredClaims(t *testing.T) {
	table := newIdleLockTable(t, 30*time.Second)

	now := time.Now()
	table.now = func() time.Time { return now }
	table.TryClaim("task1", "title", "alice")
	table.TryClaim("task1", "status", "alice")

	// Advance past the TTL for the first claim only.
	table.now = func() time.Time { return now.Add(10 * time.Second) }
	table.TryClaim("task1", "priority", "bob")

	table.now = func() time.Time { return now.Add(31 * time.Second) }
	table.sweep()

	if table.Len() != 1 {
		t.Fatalf("Len = %d after sweep, want 1 survivor", table.Len())
	}
	if !table.TryClaim("task1", "title", "bob") {
		t.Error("expired claim not reclaimed")
	}
	if table.TryClaim("task1", "priority", "carol") {
		t.Error("fresh claim swept early")
	}
}

func TestTryClaimConcurrentSingleWinner(t *testing.T) {
	table := newIdleLockTable(t, 30*time.Second)

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if table.TryClaim("task1", "title", "racer") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("%d claims granted for one key, want exactly 1", won)
	}
}
