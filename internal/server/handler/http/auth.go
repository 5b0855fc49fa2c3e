// Package http provides the HTTP handlers and router of the credential vault.
package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/atinyakov/credvault/internal/models"
	"github.com/atinyakov/credvault/internal/service"
	"go.uber.org/zap"
)

// AuthService defines the interface for authentication operations
// required by the HTTP handlers.
type AuthService interface {
	// Register creates a new user.
	Register(ctx context.Context, r service.Registration) (*models.User, error)
	// Login verifies the password and returns a session with a bearer token.
	Login(ctx context.Context, email, password string) (*service.Session, error)
}

// AuthValidator turns auth request bodies into service inputs.
type AuthValidator interface {
	Registration(body io.Reader) (service.Registration, error)
	Login(body io.Reader) (email, password string, err error)
}

// AuthHandler handles HTTP requests for user registration and login.
type AuthHandler struct {
	// AuthService performs the underlying authentication operations.
	AuthService AuthService
	Validator   AuthValidator
	Logger      *zap.Logger
}

type userResponse struct {
	ID        string     `json:"_id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (h *AuthHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// Register handles POST /auth/register. It answers 201 with the new user,
// or 409 if the username or email is taken.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	reg, err := h.Validator.Registration(r.Body)
	if err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}

	u, err := h.AuthService.Register(r.Context(), reg)
	if err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: &u.CreatedAt,
	})
}

// Login handles POST /auth/login and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	email, password, err := h.Validator.Login(r.Body)
	if err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}

	sess, err := h.AuthService.Login(r.Context(), email, password)
	if err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: sess.Token,
		User:  userResponse{ID: sess.User.ID, Username: sess.User.Username, Email: sess.User.Email},
	})
}
