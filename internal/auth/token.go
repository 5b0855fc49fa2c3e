package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// ErrInvalidToken covers malformed, forged and expired tokens alike.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller carried in a token.
type Identity struct {
	ID       string
	Email    string
	Username string
}

type claims struct {
	jwt.Claims
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// TokenManager issues and verifies HS256 JWTs.
type TokenManager struct {
	key    []byte
	ttl    time.Duration
	signer jose.Signer
	now    func() time.Time
}

// NewTokenManager creates a manager signing with secret. Tokens expire after ttl.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	key := []byte(secret)
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return &TokenManager{key: key, ttl: ttl, signer: signer, now: time.Now}, nil
}

// Issue returns a signed token for id.
func (m *TokenManager) Issue(id Identity) (string, error) {
	now := m.now()
	c := claims{
		Claims: jwt.Claims{
			Subject:  id.ID,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Email:    id.Email,
		Username: id.Username,
	}
	token, err := jwt.Signed(m.signer).Claims(c).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and expiry of token and returns its identity.
func (m *TokenManager) Verify(token string) (Identity, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	var c claims
	if err := parsed.Claims(m.key, &c); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if err := c.ValidateWithLeeway(jwt.Expected{Time: m.now()}, 0); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if c.Subject == "" || c.Expiry == nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{ID: c.Subject, Email: c.Email, Username: c.Username}, nil
}
