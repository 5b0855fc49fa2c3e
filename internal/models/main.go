// Package models defines the core data structures for users, credentials and audit entries.
package models

import "time"

// User represents an application user with credentials.
type User struct {
	// ID is the unique identifier for the user.
	ID string
	// Username is the display name chosen by the user.
	Username string
	// Email is the login identifier of the user.
	Email string
	// PasswordHash is the encoded Argon2id hash of the user's login password.
	PasswordHash string
	// CreatedAt is the registration time.
	CreatedAt time.Time
}

// CipherPayload is the encrypted form of a secret string.
// All fields are hex-encoded.
type CipherPayload struct {
	// IV is the per-encryption initialization vector.
	IV string `json:"iv"`
	// Content is the encrypted secret.
	Content string `json:"content"`
	// Tag is the authentication tag; empty for payloads written in CBC mode.
	Tag string `json:"tag,omitempty"`
}

// Credential is a named account credential owned by a single user.
type Credential struct {
	// ID is the unique identifier for the credential.
	ID string `json:"_id"`
	// AccountName is the display label, e.g. "github".
	AccountName string `json:"accountName"`
	// AccountUsername is the login used on the stored account.
	AccountUsername string `json:"accountUsername"`
	// Password holds the encrypted password. It is never serialized.
	Password CipherPayload `json:"-"`
	// OwnerID is the identity of the creating user. Immutable after creation.
	OwnerID string `json:"-"`
	// CreatedAt is the creation time.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt advances on every accepted mutation.
	UpdatedAt time.Time `json:"updatedAt"`
}

// CredentialInput carries the fields required to create a credential.
type CredentialInput struct {
	AccountName     string
	AccountUsername string
	PasswordPlain   string
}

// CredentialPatch carries a partial update. Nil fields are left unchanged.
type CredentialPatch struct {
	AccountName     *string
	AccountUsername *string
	PasswordPlain   *string
}

// Empty reports whether the patch changes nothing.
func (p CredentialPatch) Empty() bool {
	return p.AccountName == nil && p.AccountUsername == nil && p.PasswordPlain == nil
}

// AuditAction defines the set of recorded actions.
type AuditAction string

const (
	// ActionReveal is recorded when a credential's password is decrypted for its owner.
	ActionReveal AuditAction = "reveal"
)

// AuditLogEntry is an append-only record of a sensitive action.
type AuditLogEntry struct {
	ID           string      `json:"_id"`
	CredentialID string      `json:"credentialId"`
	UserID       string      `json:"userId"`
	Action       AuditAction `json:"action"`
	Timestamp    time.Time   `json:"at"`
	IPAddress    string      `json:"ip"`
}
