package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atinyakov/credvault/internal/auth"
	"github.com/atinyakov/credvault/internal/models"
	"github.com/atinyakov/credvault/internal/repository"
	"github.com/google/uuid"
)

// UserRepository defines the persistence operations
// required by the authentication service.
type UserRepository interface {
	// CreateUser stores a new user. A taken username or email yields repository.ErrUserExists.
	CreateUser(ctx context.Context, u models.User) error
	// GetUserByEmail returns the user or repository.ErrNotFound.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// TokenIssuer signs bearer tokens for authenticated users.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, error)
}

// Registration is the input of Register.
type Registration struct {
	Username string
	Email    string
	Password string
}

// Session is the result of a successful login.
type Session struct {
	Token string
	User  models.User
}

// AuthService registers users and exchanges passwords for tokens.
type AuthService struct {
	repo   UserRepository
	tokens TokenIssuer
	now    func() time.Time
}

// NewAuthService constructs a new AuthService using the provided repository and token issuer.
func NewAuthService(repo UserRepository, tokens TokenIssuer) *AuthService {
	return &AuthService{repo: repo, tokens: tokens, now: time.Now}
}

func validateRegistration(r Registration) error {
	var errs []string
	if n := utf8.RuneCountInString(r.Username); n < 3 || n > 50 {
		errs = append(errs, `"username" length must be between 3 and 50 characters`)
	}
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		errs = append(errs, `"email" must be a valid email`)
	}
	if n := utf8.RuneCountInString(r.Password); n < 8 || n > 128 {
		errs = append(errs, `"password" length must be between 8 and 128 characters`)
	}
	return validationFailure(errs)
}

// Register hashes the password with Argon2id and stores a new user.
func (s *AuthService) Register(ctx context.Context, r Registration) (*models.User, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if err := validateRegistration(r); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(r.Password)
	if err != nil {
		return nil, err
	}

	u := models.User{
		ID:           uuid.NewString(),
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return &u, nil
}

// Login verifies the password and issues a token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, &ValidationError{Message: `"email" and "password" are required`}
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	if err := auth.VerifyPassword(password, u.PasswordHash); err != nil {
		if errors.Is(err, auth.ErrMismatchedHash) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	token, err := s.tokens.Issue(auth.Identity{ID: u.ID, Email: u.Email, Username: u.Username})
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: *u}, nil
}
