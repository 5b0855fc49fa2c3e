package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/atinyakov/credvault/internal/middleware"
	"github.com/atinyakov/credvault/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const revealRateLimitMessage = "Too many reveal attempts. Please try again later."

// CredentialService defines the credential operations required by the CredentialHandler.
type CredentialService interface {
	Create(ctx context.Context, ownerID string, in models.CredentialInput) (*models.Credential, error)
	List(ctx context.Context, ownerID string) ([]models.Credential, error)
	Update(ctx context.Context, callerID, id string, patch models.CredentialPatch) (*models.Credential, error)
	Delete(ctx context.Context, callerID, id string) error
	Reveal(ctx context.Context, callerID, id, ip string) (string, error)
}

// CredentialValidator turns request bodies into service inputs.
type CredentialValidator interface {
	CredentialInput(body io.Reader) (models.CredentialInput, error)
	CredentialPatch(body io.Reader) (models.CredentialPatch, error)
}

// CredentialHandler handles the /password endpoints.
type CredentialHandler struct {
	Service   CredentialService
	Validator CredentialValidator
	Logger    *zap.Logger
}

// credentialResponse is the only representation of a credential sent to
// clients. It never carries password material.
type credentialResponse struct {
	ID              string    `json:"_id"`
	AccountName     string    `json:"accountName"`
	AccountUsername string    `json:"accountUsername"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Encrypted       bool      `json:"encrypted"`
}

func toResponse(c models.Credential) credentialResponse {
	return credentialResponse{
		ID:              c.ID,
		AccountName:     c.AccountName,
		AccountUsername: c.AccountUsername,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		Encrypted:       true,
	}
}

func (h *CredentialHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// Create handles POST /password.
func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, err := h.Validator.CredentialInput(r.Body)
	if err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}

	c, err := h.Service.Create(r.Context(), middleware.GetUserIDFromContext(r.Context()), in)
	if err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(*c))
}

// List handles GET /password.
func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	creds, err := h.Service.List(r.Context(), middleware.GetUserIDFromContext(r.Context()))
	if err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}

	list := make([]credentialResponse, 0, len(creds))
	for _, c := range creds {
		list = append(list, toResponse(c))
	}
	writeJSON(w, http.StatusOK, list)
}

// Reveal handles GET /password/{id}/reveal.
func (h *CredentialHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plain, err := h.Service.Reveal(ctx, middleware.GetUserIDFromContext(ctx), chi.URLParam(r, "id"), middleware.ClientIP(r))
	if err != nil {
		fail(w, r, h.logger(), err, revealRateLimitMessage)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"passwordPlain": plain})
}

// Update handles PUT /password/{id}.
func (h *CredentialHandler) Update(w http.ResponseWriter, r *http.Request) {
	patch, err := h.Validator.CredentialPatch(r.Body)
	if err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}

	ctx := r.Context()
	c, err := h.Service.Update(ctx, middleware.GetUserIDFromContext(ctx), chi.URLParam(r, "id"), patch)
	if err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(*c))
}

// Delete handles DELETE /password/{id}.
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Service.Delete(ctx, middleware.GetUserIDFromContext(ctx), chi.URLParam(r, "id")); err != nil {
		fail(w, r, h.logger(), err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
