package lockout

import (
	"testing"
	"time"
)

func newTestGuard(current *time.Time, opts ...Option) *Guard {
	opts = append([]Option{WithClock(func() time.Time { return *current })}, opts...)
	return NewGuard(opts...)
}

func TestThresholdBlocksOrigin(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g := newTestGuard(&current, WithMaxAttempts(5), WithLockoutDuration(15*time.Minute))

	for i := 0; i < 4; i++ {
		if blocked := g.RecordAttempt("alice", "1.2.3.4", false); blocked {
			t.Fatalf("attempt %d should not block yet", i+1)
		}
	}
	if g.OriginBlocked("1.2.3.4") {
		t.Fatal("origin blocked before threshold")
	}
	if !g.RecordAttempt("alice", "1.2.3.4", false) {
		t.Fatal("fifth failure should report a new block")
	}
	if !g.OriginBlocked("1.2.3.4") {
		t.Fatal("origin should be blocked after threshold")
	}
	if !g.PrincipalBlocked("alice") {
		t.Fatal("principal should be blocked after threshold")
	}

	// Block holds until expiry even if the caller supplies correct
	// credentials; only time releases it.
	current = current.Add(14 * time.Minute)
	if !g.OriginBlocked("1.2.3.4") {
		t.Fatal("block released early")
	}
	current = current.Add(2 * time.Minute)
	if g.OriginBlocked("1.2.3.4") {
		t.Fatal("block should have expired")
	}
	if g.PrincipalBlocked("alice") {
		t.Fatal("principal block should have expired")
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g := newTestGuard(&current, WithMaxAttempts(3))

	g.RecordAttempt("alice", "1.2.3.4", false)
	g.RecordAttempt("alice", "1.2.3.4", false)
	g.RecordAttempt("alice", "1.2.3.4", true)
	if got := g.FailureCount("alice", "1.2.3.4"); got != 0 {
		t.Fatalf("expected reset counter, got %d", got)
	}
	if g.RecordAttempt("alice", "1.2.3.4", false) {
		t.Fatal("single failure after reset should not block")
	}
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g := newTestGuard(&current, WithMaxAttempts(3), WithWindow(10*time.Minute))

	g.RecordAttempt("alice", "1.2.3.4", false)
	g.RecordAttempt("alice", "1.2.3.4", false)
	current = current.Add(11 * time.Minute)
	if got := g.FailureCount("alice", "1.2.3.4"); got != 0 {
		t.Fatalf("stale window should not count, got %d", got)
	}
	if g.RecordAttempt("alice", "1.2.3.4", false) {
		t.Fatal("failure in a fresh window should not block")
	}
}

func TestPairsAreIndependent(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g := newTestGuard(&current, WithMaxAttempts(2))

	g.RecordAttempt("alice", "1.2.3.4", false)
	g.RecordAttempt("alice", "5.6.7.8", false)
	if g.OriginBlocked("1.2.3.4") || g.OriginBlocked("5.6.7.8") {
		t.Fatal("independent origins must not pool failures")
	}
	g.RecordAttempt("bob", "1.2.3.4", false)
	if g.OriginBlocked("1.2.3.4") {
		t.Fatal("independent principals must not pool failures")
	}
}

func TestExplicitBlockAndRelease(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g := newTestGuard(&current)

	until := g.BlockOrigin("9.9.9.9")
	if !g.OriginBlocked("9.9.9.9") {
		t.Fatal("explicit block not applied")
	}
	got, ok := g.BlockedUntil("9.9.9.9")
	if !ok || !got.Equal(until) {
		t.Fatalf("BlockedUntil mismatch: %v ok=%v", got, ok)
	}
	g.Release("9.9.9.9")
	if g.OriginBlocked("9.9.9.9") {
		t.Fatal("release did not clear block")
	}
}

func TestSweepClearsExpiredState(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g := newTestGuard(&current, WithMaxAttempts(2), WithWindow(5*time.Minute), WithLockoutDuration(5*time.Minute))

	g.RecordAttempt("alice", "1.2.3.4", false)
	g.RecordAttempt("alice", "1.2.3.4", false)

	current = current.Add(6 * time.Minute)
	g.Sweep()

	g.mu.Lock()
	blocks, windows := len(g.blockedOrigins), len(g.failures)
	g.mu.Unlock()
	if blocks != 0 || windows != 0 {
		t.Fatalf("sweep left state behind: blocks=%d windows=%d", blocks, windows)
	}
}

func TestBlockReportedOncePerCrossing(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g := newTestGuard(&current, WithMaxAttempts(2))

	g.RecordAttempt("alice", "1.2.3.4", false)
	if !g.RecordAttempt("alice", "1.2.3.4", false) {
		t.Fatal("crossing should report a block")
	}
	if g.RecordAttempt("alice", "1.2.3.4", false) {
		t.Fatal("subsequent failures should not report a new block")
	}
}
