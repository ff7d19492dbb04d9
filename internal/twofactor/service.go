// Package twofactor issues and validates second-factor credentials:
// TOTP secrets plus single-use backup codes.
package twofactor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"trustcore.org/internal/audit"
	"trustcore.org/internal/crypto"
)

var (
	ErrNotEnrolled       = errors.New("twofactor: not enrolled")
	ErrNotConfirmed      = errors.New("twofactor: enrollment not confirmed")
	ErrAlreadyEnabled    = errors.New("twofactor: already enabled")
	ErrInvalidCode       = errors.New("twofactor: invalid code")
	ErrUnsupportedMethod = errors.New("twofactor: unsupported method")
)

const (
	MethodTOTP = "totp"

	backupCodeCount = 10
	backupCodeBytes = 5
)

// Credential is a principal's second factor. The secret and backup-code
// hashes never leave this package except inside the one-time Enrollment.
type Credential struct {
	PrincipalID  string
	Method       string
	Secret       string
	BackupHashes []string
	Enabled      bool
	CreatedAt    time.Time
	ConfirmedAt  time.Time
}

// Enrollment is returned once from Setup. Callers show it to the user and
// must not persist it.
type Enrollment struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// Store persists credentials keyed by principal.
type Store interface {
	Get(ctx context.Context, principalID string) (Credential, error)
	Put(ctx context.Context, cred Credential) error
	Delete(ctx context.Context, principalID string) error
}

// ErrStoreNotFound is returned by Store implementations for missing principals.
var ErrStoreNotFound = errors.New("twofactor: credential not found")

// Service manages second-factor lifecycle. A single mutex spans every
// read-check-write sequence so one backup code can never validate twice.
type Service struct {
	mu     sync.Mutex
	store  Store
	log    *audit.Log
	issuer string
	now    func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithIssuer sets the issuer embedded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = strings.TrimSpace(issuer)
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service over the given credential store.
func NewService(store Store, log *audit.Log, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    log,
		issuer: "trustcore",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Setup generates a fresh secret and backup codes. The factor stays disabled
// until Confirm succeeds once, so a mistyped secret cannot lock the
// principal out.
func (s *Service) Setup(ctx context.Context, principalID, accountName, method string) (Enrollment, error) {
	if method != MethodTOTP {
		return Enrollment{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Get(ctx, principalID)
	if err == nil && existing.Enabled {
		return Enrollment{}, ErrAlreadyEnabled
	}
	if err != nil && !errors.Is(err, ErrStoreNotFound) {
		return Enrollment{}, fmt.Errorf("twofactor store: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate totp secret: %w", err)
	}

	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		raw, err := crypto.RandomBytes(backupCodeBytes)
		if err != nil {
			return Enrollment{}, err
		}
		code := hex.EncodeToString(raw)
		codes = append(codes, code)
		hashes = append(hashes, hashCode(code))
	}

	cred := Credential{
		PrincipalID:  principalID,
		Method:       method,
		Secret:       key.Secret(),
		BackupHashes: hashes,
		Enabled:      false,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Put(ctx, cred); err != nil {
		return Enrollment{}, fmt.Errorf("twofactor store: %w", err)
	}

	return Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
	}, nil
}

// Confirm validates a code against the pending secret and, on success,
// enables the factor.
func (s *Service) Confirm(ctx context.Context, principalID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.getCredential(ctx, principalID)
	if err != nil {
		return err
	}
	if cred.Enabled {
		return ErrAlreadyEnabled
	}
	if !totp.Validate(code, cred.Secret) {
		return ErrInvalidCode
	}
	cred.Enabled = true
	cred.ConfirmedAt = s.now().UTC()
	if err := s.store.Put(ctx, cred); err != nil {
		return fmt.Errorf("twofactor store: %w", err)
	}
	if s.log != nil {
		s.log.Append(ctx, audit.Event{
			PrincipalID: principalID,
			Kind:        "twofactor.enabled",
			Severity:    audit.SeverityLow,
			Metadata:    map[string]string{"method": cred.Method},
		})
	}
	return nil
}

// Verify accepts a valid time-windowed code or consumes an unused backup
// code. Consumption happens atomically with the check; a backup code can
// never satisfy Verify twice.
func (s *Service) Verify(ctx context.Context, principalID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.getCredential(ctx, principalID)
	if err != nil {
		return err
	}
	if !cred.Enabled {
		return ErrNotConfirmed
	}
	if totp.Validate(code, cred.Secret) {
		return nil
	}

	wanted := hashCode(strings.TrimSpace(code))
	for i, h := range cred.BackupHashes {
		if h == wanted {
			cred.BackupHashes = append(cred.BackupHashes[:i], cred.BackupHashes[i+1:]...)
			if err := s.store.Put(ctx, cred); err != nil {
				return fmt.Errorf("twofactor store: %w", err)
			}
			if s.log != nil {
				s.log.Append(ctx, audit.Event{
					PrincipalID: principalID,
					Kind:        "twofactor.backup_code_used",
					Severity:    audit.SeverityMedium,
					Metadata:    map[string]string{"remaining": fmt.Sprintf("%d", len(cred.BackupHashes))},
				})
			}
			return nil
		}
	}
	return ErrInvalidCode
}

// Enabled reports whether the principal has a confirmed second factor.
func (s *Service) Enabled(ctx context.Context, principalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.store.Get(ctx, principalID)
	return err == nil && cred.Enabled
}

// RemainingBackupCodes reports how many backup codes are still unused.
func (s *Service) RemainingBackupCodes(ctx context.Context, principalID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.store.Get(ctx, principalID)
	if err != nil {
		return 0
	}
	return len(cred.BackupHashes)
}

// Disable removes the second factor. Audit history is untouched; only the
// credential itself is erased.
func (s *Service) Disable(ctx context.Context, principalID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.getCredential(ctx, principalID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, principalID); err != nil {
		return fmt.Errorf("twofactor store: %w", err)
	}
	if s.log != nil {
		s.log.Append(ctx, audit.Event{
			PrincipalID: principalID,
			Kind:        "twofactor.disabled",
			Severity:    audit.SeverityMedium,
			Metadata:    map[string]string{"method": cred.Method, "actor_id": actorID},
		})
	}
	return nil
}

func (s *Service) getCredential(ctx context.Context, principalID string) (Credential, error) {
	cred, err := s.store.Get(ctx, principalID)
	if errors.Is(err, ErrStoreNotFound) {
		return Credential{}, ErrNotEnrolled
	}
	if err != nil {
		return Credential{}, fmt.Errorf("twofactor store: %w", err)
	}
	return cred, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
