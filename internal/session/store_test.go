package session

import (
	"context"
	"testing"
	"time"
)

var testDevice = DeviceInfo{DeviceID: "d-1", Origin: "1.2.3.4", UserAgent: "go-test/1.0"}

func newTestStore(current *time.Time, opts ...Option) *Store {
	opts = append([]Option{WithClock(func() time.Time { return *current })}, opts...)
	return NewStore(nil, opts...)
}

func TestCreateAndValidate(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(&current, WithTimeout(30*time.Minute))

	sess, err := s.Create(context.Background(), "alice", testDevice, []string{"content.view"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.ID) < 22 {
		t.Fatalf("session id too short for 128-bit entropy: %q", sess.ID)
	}
	if !sess.ExpiresAt.Equal(current.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", sess.ExpiresAt)
	}
	if sess.Fingerprint == "" {
		t.Fatal("expected device fingerprint")
	}

	current = current.Add(5 * time.Minute)
	got, state := s.Validate(sess.ID)
	if state != StateActive {
		t.Fatalf("expected active, got %s", state)
	}
	if !got.LastActivity.Equal(current) {
		t.Fatalf("LastActivity not bumped: %v", got.LastActivity)
	}

	if _, state := s.Validate("no-such-session"); state != StateNotFound {
		t.Fatalf("expected not_found, got %s", state)
	}
}

func TestLazyExpiry(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(&current, WithTimeout(10*time.Minute))

	sess, _ := s.Create(context.Background(), "alice", testDevice, nil)
	current = current.Add(11 * time.Minute)

	if _, state := s.Validate(sess.ID); state != StateExpired {
		t.Fatalf("expected expired, got %s", state)
	}
	// Expiry marked the session inactive as a side effect.
	if _, state := s.Validate(sess.ID); state != StateInactive {
		t.Fatalf("expected inactive on second validate, got %s", state)
	}
}

func TestRenewSlidesExpiry(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(&current, WithTimeout(10*time.Minute))

	sess, _ := s.Create(context.Background(), "alice", testDevice, nil)
	current = current.Add(8 * time.Minute)
	if !s.Renew(sess.ID) {
		t.Fatal("renew of active session failed")
	}
	current = current.Add(9 * time.Minute)
	if _, state := s.Validate(sess.ID); state != StateActive {
		t.Fatalf("session should still be active after renewal, got %s", state)
	}

	current = current.Add(11 * time.Minute)
	if s.Renew(sess.ID) {
		t.Fatal("renew of expired session must return false")
	}
}

func TestTerminationWinsOverRenew(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(&current)

	sess, _ := s.Create(context.Background(), "alice", testDevice, nil)
	if !s.Terminate(context.Background(), sess.ID, "logout") {
		t.Fatal("terminate failed")
	}
	if s.Renew(sess.ID) {
		t.Fatal("renew after termination must fail")
	}
	if _, state := s.Validate(sess.ID); state != StateInactive {
		t.Fatalf("terminated session must never validate active, got %s", state)
	}
	// Second terminate is a no-op.
	if s.Terminate(context.Background(), sess.ID, "logout") {
		t.Fatal("double terminate should return false")
	}
}

func TestTerminateAll(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(&current)
	ctx := context.Background()

	a1, _ := s.Create(ctx, "alice", testDevice, nil)
	a2, _ := s.Create(ctx, "alice", DeviceInfo{DeviceID: "d-2", Origin: "5.6.7.8"}, nil)
	b1, _ := s.Create(ctx, "bob", testDevice, nil)

	if n := s.TerminateAll(ctx, "alice", "credential_compromise"); n != 2 {
		t.Fatalf("expected 2 terminated, got %d", n)
	}
	for _, id := range []string{a1.ID, a2.ID} {
		if _, state := s.Validate(id); state != StateInactive {
			t.Fatalf("alice session %s should be inactive, got %s", id, state)
		}
	}
	if _, state := s.Validate(b1.ID); state != StateActive {
		t.Fatalf("bob's session should survive, got %s", state)
	}
	if s.ActiveCount("alice") != 0 || s.ActiveCount("bob") != 1 {
		t.Fatalf("unexpected active counts: alice=%d bob=%d", s.ActiveCount("alice"), s.ActiveCount("bob"))
	}
}

func TestSweepEvictsStaleSessions(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(&current, WithTimeout(10*time.Minute))

	sess, _ := s.Create(context.Background(), "alice", testDevice, nil)
	current = current.Add(11 * time.Minute)
	s.Sweep()
	if _, state := s.Validate(sess.ID); state != StateInactive {
		t.Fatalf("sweep should mark expired sessions inactive, got %s", state)
	}

	current = current.Add(25 * time.Hour)
	s.Sweep()
	if _, state := s.Validate(sess.ID); state != StateNotFound {
		t.Fatalf("sweep should evict sessions past retention, got %s", state)
	}
}

func TestKnownFingerprintsAndOrigins(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(&current)
	ctx := context.Background()

	first, _ := s.Create(ctx, "alice", testDevice, nil)
	s.Create(ctx, "alice", DeviceInfo{DeviceID: "d-2", Origin: "5.6.7.8", UserAgent: "go-test/1.0"}, nil)

	fps := s.KnownFingerprints("alice")
	if len(fps) != 2 || !fps[first.Fingerprint] {
		t.Fatalf("unexpected fingerprints: %v", fps)
	}
	origins := s.KnownOrigins("alice")
	if !origins["1.2.3.4"] || !origins["5.6.7.8"] {
		t.Fatalf("unexpected origins: %v", origins)
	}
	if len(s.KnownOrigins("bob")) != 0 {
		t.Fatal("bob should have no known origins")
	}
}

func TestListNewestFirst(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(&current)
	ctx := context.Background()

	s.Create(ctx, "alice", testDevice, nil)
	current = current.Add(time.Minute)
	second, _ := s.Create(ctx, "alice", testDevice, nil)

	list := s.List("alice")
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != second.ID {
		t.Fatal("expected newest session first")
	}
}
