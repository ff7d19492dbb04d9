package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"trustcore.org/internal/audit"
	"trustcore.org/internal/lockout"
	"trustcore.org/internal/rbac"
	"trustcore.org/internal/session"
	"trustcore.org/internal/twofactor"
)

var testDevice = session.DeviceInfo{DeviceID: "d-1", Origin: "1.2.3.4", UserAgent: "go-test/1.0"}

type testHarness struct {
	engine       *Engine
	sessions     *session.Store
	guard        *lockout.Guard
	secondFactor *twofactor.Service
	authz        *rbac.Engine
	log          *audit.Log
	current      *time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	log := audit.NewLog(audit.WithClock(clock))
	guard := lockout.NewGuard(lockout.WithClock(clock))
	sessions := session.NewStore(log, session.WithClock(clock))
	secondFactor := twofactor.NewService(twofactor.NewMemoryStore(), log)
	authz := rbac.NewEngine(rbac.NewMemory(), log, rbac.WithClock(clock))
	if err := authz.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	tokens, err := NewTokenIssuer([]byte("test-secret-at-least-32-bytes-long"), "trustcore-test", WithTokenClock(clock))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	engine := NewEngine(
		NewMemoryPrincipals(),
		NewMemoryAttempts(),
		guard,
		sessions,
		secondFactor,
		authz,
		tokens,
		log,
		WithClock(clock),
	)
	return &testHarness{
		engine:       engine,
		sessions:     sessions,
		guard:        guard,
		secondFactor: secondFactor,
		authz:        authz,
		log:          log,
		current:      &current,
	}
}

func (h *testHarness) register(t *testing.T, identifier, password string) Principal {
	t.Helper()
	p, err := h.engine.Register(context.Background(), identifier, password)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return p
}

func TestLoginSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.register(t, "alice@example.com", "correct horse battery")
	if err := h.authz.AssignRole(ctx, p.ID, "viewer", "root"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	res, err := h.engine.Login(ctx, LoginRequest{
		Identifier: "alice@example.com",
		Password:   "correct horse battery",
		Device:     testDevice,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Reason)
	}
	if res.SessionID == "" || res.AccessToken == "" {
		t.Fatal("success result must carry session and token")
	}
	if len(res.Permissions) != 1 || res.Permissions[0] != rbac.PermContentView {
		t.Fatalf("unexpected permission snapshot %v", res.Permissions)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("first login should carry no warnings, got %v", res.Warnings)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.com", "correct horse battery")

	res, err := h.engine.Login(context.Background(), LoginRequest{
		Identifier: "alice@example.com",
		Password:   "wrong",
		Device:     testDevice,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Status != StatusRejected || res.Reason != ReasonInvalidCredentials {
		t.Fatalf("expected invalid_credentials rejection, got %+v", res)
	}
}

func TestLoginUnknownIdentifierIndistinguishable(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@example.com", "correct horse battery")

	known, _ := h.engine.Login(context.Background(), LoginRequest{
		Identifier: "alice@example.com", Password: "wrong", Device: testDevice,
	})
	unknown, _ := h.engine.Login(context.Background(), LoginRequest{
		Identifier: "nobody@example.com", Password: "wrong", Device: testDevice,
	})
	if known.Reason != unknown.Reason || known.Status != unknown.Status {
		t.Fatalf("rejections must not reveal identifier existence: %+v vs %+v", known, unknown)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "correct horse battery")

	bad := LoginRequest{Identifier: "alice@example.com", Password: "wrong", Device: testDevice}
	for i := 0; i < 4; i++ {
		res, _ := h.engine.Login(ctx, bad)
		if res.Reason != ReasonInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid_credentials, got %s", i+1, res.Reason)
		}
	}
	// Fifth failure crosses the threshold.
	res, _ := h.engine.Login(ctx, bad)
	if res.Reason != ReasonTooManyAttempts {
		t.Fatalf("expected too_many_attempts on fifth failure, got %s", res.Reason)
	}
	if res.RetryAfter.IsZero() {
		t.Fatal("lockout rejection must carry retry_after")
	}

	// Correct password from the blocked origin is still rejected.
	res, _ = h.engine.Login(ctx, LoginRequest{
		Identifier: "alice@example.com", Password: "correct horse battery", Device: testDevice,
	})
	if res.Reason != ReasonBlocked {
		t.Fatalf("blocked origin must reject before credential check, got %s", res.Reason)
	}

	// Switching origins does not help; the principal is blocked too.
	otherOrigin := testDevice
	otherOrigin.Origin = "203.0.113.9"
	res, _ = h.engine.Login(ctx, LoginRequest{
		Identifier: "alice@example.com", Password: "correct horse battery", Device: otherOrigin,
	})
	if res.Reason != ReasonTooManyAttempts {
		t.Fatalf("blocked principal must reject from any origin, got %s", res.Reason)
	}

	// The block expires.
	*h.current = h.current.Add(16 * time.Minute)
	res, err := h.engine.Login(ctx, LoginRequest{
		Identifier: "alice@example.com", Password: "correct horse battery", Device: testDevice,
	})
	if err != nil {
		t.Fatalf("Login after expiry: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("expected success after lockout expiry, got %s (%s)", res.Status, res.Reason)
	}
}

func TestLoginWithSecondFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.register(t, "alice@example.com", "correct horse battery")

	enrollment, err := h.secondFactor.Setup(ctx, p.ID, p.Identifier, twofactor.MethodTOTP)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	code, _ := totp.GenerateCode(enrollment.Secret, time.Now())
	if err := h.secondFactor.Confirm(ctx, p.ID, code); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	req := LoginRequest{Identifier: "alice@example.com", Password: "correct horse battery", Device: testDevice}
	res, _ := h.engine.Login(ctx, req)
	if res.Status != StatusSecondFactorRequired {
		t.Fatalf("expected second_factor_required, got %s", res.Status)
	}

	req.SecondFactorCode = "000000"
	res, _ = h.engine.Login(ctx, req)
	if res.Status != StatusRejected || res.Reason != ReasonInvalidSecondFactor {
		t.Fatalf("expected invalid_second_factor, got %+v", res)
	}

	req.SecondFactorCode, _ = totp.GenerateCode(enrollment.Secret, time.Now())
	res, err = h.engine.Login(ctx, req)
	if err != nil {
		t.Fatalf("Login with code: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("expected success with valid code, got %s (%s)", res.Status, res.Reason)
	}
}

func TestSecondFactorFailuresCountTowardLockout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.register(t, "alice@example.com", "correct horse battery")

	enrollment, err := h.secondFactor.Setup(ctx, p.ID, p.Identifier, twofactor.MethodTOTP)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	code, _ := totp.GenerateCode(enrollment.Secret, time.Now())
	if err := h.secondFactor.Confirm(ctx, p.ID, code); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	// Correct password, wrong code: the guard must count these, or codes
	// could be brute-forced without ever tripping the lockout.
	req := LoginRequest{
		Identifier: "alice@example.com", Password: "correct horse battery",
		SecondFactorCode: "000000", Device: testDevice,
	}
	for i := 0; i < 4; i++ {
		res, _ := h.engine.Login(ctx, req)
		if res.Reason != ReasonInvalidSecondFactor {
			t.Fatalf("attempt %d: expected invalid_second_factor, got %s", i+1, res.Reason)
		}
	}
	res, _ := h.engine.Login(ctx, req)
	if res.Reason != ReasonTooManyAttempts {
		t.Fatalf("expected too_many_attempts on fifth code failure, got %s", res.Reason)
	}
	if !h.guard.OriginBlocked(testDevice.Origin) {
		t.Fatal("origin must be blocked after repeated second-factor failures")
	}

	// Even a valid code is rejected while the block stands.
	req.SecondFactorCode, _ = totp.GenerateCode(enrollment.Secret, time.Now())
	res, _ = h.engine.Login(ctx, req)
	if res.Reason != ReasonBlocked {
		t.Fatalf("blocked origin must reject before the code check, got %s", res.Reason)
	}
}

func TestInactiveAccountFailuresCountTowardLockout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := h.engine.principals.Create(ctx, Principal{
		ID: "p-suspended", Identifier: "bob@example.com", PasswordHash: hash, Status: "suspended",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := LoginRequest{Identifier: "bob@example.com", Password: "correct horse battery", Device: testDevice}
	for i := 0; i < 4; i++ {
		res, _ := h.engine.Login(ctx, req)
		if res.Reason != ReasonInactiveAccount {
			t.Fatalf("attempt %d: expected inactive_account, got %s", i+1, res.Reason)
		}
	}
	res, _ := h.engine.Login(ctx, req)
	if res.Reason != ReasonTooManyAttempts {
		t.Fatalf("expected too_many_attempts on fifth attempt, got %s", res.Reason)
	}
}

func TestSuspicionWarnings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "correct horse battery")

	req := LoginRequest{Identifier: "alice@example.com", Password: "correct horse battery", Device: testDevice}
	if res, _ := h.engine.Login(ctx, req); len(res.Warnings) != 0 {
		t.Fatalf("first login should be quiet, got %v", res.Warnings)
	}

	req.Device = session.DeviceInfo{DeviceID: "d-2", Origin: "5.6.7.8", UserAgent: "other/2.0"}
	res, _ := h.engine.Login(ctx, req)
	wantOrigin, wantDevice := false, false
	for _, w := range res.Warnings {
		switch w {
		case WarnNewOrigin:
			wantOrigin = true
		case WarnNewDevice:
			wantDevice = true
		}
	}
	if !wantOrigin || !wantDevice {
		t.Fatalf("expected new_origin and new_device warnings, got %v", res.Warnings)
	}
}

func TestManySessionsWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "correct horse battery")

	req := LoginRequest{Identifier: "alice@example.com", Password: "correct horse battery", Device: testDevice}
	var last Result
	for i := 0; i < sessionSoftLimit+1; i++ {
		last, _ = h.engine.Login(ctx, req)
	}
	found := false
	for _, w := range last.Warnings {
		if w == WarnManySessions {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected many_active_sessions warning, got %v", last.Warnings)
	}
}

func TestAuthenticateToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.register(t, "alice@example.com", "correct horse battery")

	res, _ := h.engine.Login(ctx, LoginRequest{
		Identifier: "alice@example.com", Password: "correct horse battery", Device: testDevice,
	})
	claims, sess, err := h.engine.AuthenticateToken(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("AuthenticateToken: %v", err)
	}
	if claims.Subject != p.ID || sess.ID != res.SessionID {
		t.Fatalf("token resolved to wrong principal or session: %+v", claims)
	}

	// Session termination invalidates the token before its exp.
	h.engine.Logout(ctx, res.SessionID)
	if _, _, err := h.engine.AuthenticateToken(ctx, res.AccessToken); err == nil {
		t.Fatal("token over a terminated session must be rejected")
	}

	if _, _, err := h.engine.AuthenticateToken(ctx, "not.a.token"); err == nil {
		t.Fatal("garbage token must be rejected")
	}
}

func TestLogoutAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@example.com", "correct horse battery")

	req := LoginRequest{Identifier: "alice@example.com", Password: "correct horse battery", Device: testDevice}
	h.engine.Login(ctx, req)
	h.engine.Login(ctx, req)

	if n := h.engine.LogoutAll(ctx, mustFind(t, h, "alice@example.com").ID, "credential_compromise"); n != 2 {
		t.Fatalf("expected 2 terminated sessions, got %d", n)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse battery"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("wrong password must not verify")
	}
	if _, err := HashPassword("short"); err == nil {
		t.Fatal("short passwords must be rejected")
	}
}

func TestDummyHashCarriesFullDerivationCost(t *testing.T) {
	if !strings.HasPrefix(dummyHash, "argon2id$") {
		t.Fatalf("dummy hash must be a real argon2id hash, got %q", dummyHash)
	}
	if err := VerifyPassword(dummyHash, "any password at all"); err == nil {
		t.Fatal("dummy hash must never verify")
	}
}

func TestVerifyPasswordBcryptFallback(t *testing.T) {
	// bcrypt hash of "legacy-password" with cost 10.
	legacy := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
	if err := VerifyPassword(legacy, "wrong"); err == nil {
		t.Fatal("wrong password must not verify against bcrypt hash")
	}
	if err := VerifyPassword("argon2id$bad", "x"); err == nil {
		t.Fatal("malformed hash must not verify")
	}
}

func mustFind(t *testing.T, h *testHarness, identifier string) Principal {
	t.Helper()
	p, err := h.engine.principals.FindByIdentifier(context.Background(), identifier)
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	return p
}
