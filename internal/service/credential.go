// Package service provides the credential vault's business logic, delegating
// persistence to repository interfaces.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atinyakov/credvault/internal/metrics"
	"github.com/atinyakov/credvault/internal/models"
	"github.com/atinyakov/credvault/internal/policy"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Field length limits, counted in characters.
const (
	MaxAccountNameLen     = 200
	MaxAccountUsernameLen = 200
	MaxPasswordLen        = 1000
)

// CredentialRepository defines the persistence operations needed by the CredentialService.
type CredentialRepository interface {
	// Create stores a new credential.
	Create(ctx context.Context, c models.Credential) error
	// ListByOwner returns the owner's credentials ordered by UpdatedAt descending.
	ListByOwner(ctx context.Context, ownerID string) ([]models.Credential, error)
	// GetByID returns the credential with id or ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Credential, error)
	// Mutate applies fn to the current record while holding it exclusively.
	Mutate(ctx context.Context, id string, fn func(*models.Credential) error) (*models.Credential, error)
	// DeleteIf removes the record if check passes, holding it exclusively.
	DeleteIf(ctx context.Context, id string, check func(*models.Credential) error) error
}

// Cipher encrypts passwords at rest.
type Cipher interface {
	Encrypt(plaintext string) (models.CipherPayload, error)
	Decrypt(payload models.CipherPayload) (string, error)
}

// AuditRecorder records reveals without blocking.
type AuditRecorder interface {
	Record(ctx context.Context, credentialID, userID, ip string)
}

// RateLimiter counts attempts per key.
type RateLimiter interface {
	Allow(key string) policy.Decision
	Name() string
}

// CredentialService implements create, list, get, update, delete and reveal
// for credentials owned by a single user.
type CredentialService struct {
	repo    CredentialRepository
	cipher  Cipher
	audit   AuditRecorder
	limiter RateLimiter

	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// CredentialOption configures a CredentialService.
type CredentialOption func(*CredentialService)

// WithLogger sets the logger used for internal faults.
func WithLogger(log *zap.Logger) CredentialOption {
	return func(s *CredentialService) { s.log = log }
}

// WithMetrics records reveal outcomes on m.
func WithMetrics(m *metrics.Metrics) CredentialOption {
	return func(s *CredentialService) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CredentialOption {
	return func(s *CredentialService) { s.now = now }
}

// NewCredentialService constructs a CredentialService. revealLimiter guards Reveal.
func NewCredentialService(repo CredentialRepository, cipher Cipher, audit AuditRecorder, revealLimiter RateLimiter, opts ...CredentialOption) *CredentialService {
	s := &CredentialService{
		repo:    repo,
		cipher:  cipher,
		audit:   audit,
		limiter: revealLimiter,
		log:     zap.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timestamp returns the current time at storage precision.
func (s *CredentialService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// nextUpdatedAt keeps UpdatedAt strictly increasing even if the clock stalls
// or steps back.
func nextUpdatedAt(prev, now time.Time) time.Time {
	if floor := prev.Add(time.Microsecond); now.Before(floor) {
		return floor
	}
	return now
}

func checkLen(errs *[]string, field, value string, max int) {
	n := utf8.RuneCountInString(value)
	switch {
	case n == 0:
		*errs = append(*errs, fmt.Sprintf("%q is not allowed to be empty", field))
	case n > max:
		*errs = append(*errs, fmt.Sprintf("%q length must be less than or equal to %d characters long", field, max))
	}
}

func validationFailure(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Message: strings.Join(errs, ", ")}
}

// Create encrypts the password and stores a new credential owned by ownerID.
func (s *CredentialService) Create(ctx context.Context, ownerID string, in models.CredentialInput) (*models.Credential, error) {
	var errs []string
	checkLen(&errs, "accountName", in.AccountName, MaxAccountNameLen)
	checkLen(&errs, "accountUsername", in.AccountUsername, MaxAccountUsernameLen)
	checkLen(&errs, "passwordPlain", in.PasswordPlain, MaxPasswordLen)
	if err := validationFailure(errs); err != nil {
		return nil, err
	}

	payload, err := s.cipher.Encrypt(in.PasswordPlain)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	c := models.Credential{
		ID:              s.newID(),
		AccountName:     in.AccountName,
		AccountUsername: in.AccountUsername,
		Password:        payload,
		OwnerID:         ownerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns the owner's credentials, most recently updated first.
func (s *CredentialService) List(ctx context.Context, ownerID string) ([]models.Credential, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Get returns a credential the caller owns. Unknown ids yield ErrNotFound
// before ownership is checked.
func (s *CredentialService) Get(ctx context.Context, callerID, id string) (*models.Credential, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.AuthorizeOwnerAccess(callerID, c.OwnerID); err != nil {
		return nil, err
	}
	return c, nil
}

// Update applies the fields present in patch and refreshes UpdatedAt. A new
// password is encrypted with a fresh IV.
func (s *CredentialService) Update(ctx context.Context, callerID, id string, patch models.CredentialPatch) (*models.Credential, error) {
	if patch.Empty() {
		return nil, &ValidationError{Message: `"value" must have at least 1 key`}
	}
	var errs []string
	if patch.AccountName != nil {
		checkLen(&errs, "accountName", *patch.AccountName, MaxAccountNameLen)
	}
	if patch.AccountUsername != nil {
		checkLen(&errs, "accountUsername", *patch.AccountUsername, MaxAccountUsernameLen)
	}
	if patch.PasswordPlain != nil {
		checkLen(&errs, "passwordPlain", *patch.PasswordPlain, MaxPasswordLen)
	}
	if err := validationFailure(errs); err != nil {
		return nil, err
	}

	return s.repo.Mutate(ctx, id, func(c *models.Credential) error {
		if err := policy.AuthorizeOwnerAccess(callerID, c.OwnerID); err != nil {
			return err
		}
		if patch.AccountName != nil {
			c.AccountName = *patch.AccountName
		}
		if patch.AccountUsername != nil {
			c.AccountUsername = *patch.AccountUsername
		}
		if patch.PasswordPlain != nil {
			payload, err := s.cipher.Encrypt(*patch.PasswordPlain)
			if err != nil {
				return err
			}
			c.Password = payload
		}
		c.UpdatedAt = nextUpdatedAt(c.UpdatedAt, s.timestamp())
		return nil
	})
}

// Delete removes a credential the caller owns.
func (s *CredentialService) Delete(ctx context.Context, callerID, id string) error {
	return s.repo.DeleteIf(ctx, id, func(c *models.Credential) error {
		return policy.AuthorizeOwnerAccess(callerID, c.OwnerID)
	})
}

// Reveal decrypts and returns the password of a credential the caller owns.
// Steps run in a fixed order: rate check, fetch, ownership, decrypt, audit.
// A rejected step ends the call with no further side effects.
func (s *CredentialService) Reveal(ctx context.Context, callerID, id, ip string) (string, error) {
	plain, err := s.reveal(ctx, callerID, id, ip)
	s.metrics.RecordReveal(OutcomeOf(err).String())
	return plain, err
}

func (s *CredentialService) reveal(ctx context.Context, callerID, id, ip string) (string, error) {
	if d := s.limiter.Allow(callerID); !d.Allowed {
		s.metrics.RecordRateLimited(s.limiter.Name())
		return "", d.Err()
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if err := policy.AuthorizeOwnerAccess(callerID, c.OwnerID); err != nil {
		return "", err
	}

	// Last point at which a cancelled request may abort.
	if err := ctx.Err(); err != nil {
		return "", err
	}
	plain, err := s.cipher.Decrypt(c.Password)
	if err != nil {
		s.log.Error("failed to decrypt credential",
			zap.String("credential_id", c.ID),
			zap.Error(err),
		)
		return "", err
	}

	s.audit.Record(ctx, c.ID, callerID, ip)
	return plain, nil
}
