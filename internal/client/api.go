// Package client implements the command-line side of the credential vault:
// the HTTP API client, interactive prompts and local session storage.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotLoggedIn is returned by calls that need a token when none is set.
var ErrNotLoggedIn = errors.New("not logged in, run `login` first")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status     int
	Message    string
	RetryAfter string
}

func (e *APIError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("%s (HTTP %d, retry after %ss)", e.Message, e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// Credential is the server's metadata view of a stored credential.
type Credential struct {
	ID              string    `json:"_id"`
	AccountName     string    `json:"accountName"`
	AccountUsername string    `json:"accountUsername"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CredentialFields is the body of create and update requests. Nil fields are
// omitted, which leaves them unchanged on update.
type CredentialFields struct {
	AccountName     *string `json:"accountName,omitempty"`
	AccountUsername *string `json:"accountUsername,omitempty"`
	PasswordPlain   *string `json:"passwordPlain,omitempty"`
}

// Empty reports whether no field is set.
func (f CredentialFields) Empty() bool {
	return f.AccountName == nil && f.AccountUsername == nil && f.PasswordPlain == nil
}

// User is the account returned by register and login.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// API talks to a credential vault server.
type API struct {
	BaseURL string
	HTTP    *http.Client
	// Token is sent as a bearer token when set.
	Token string
}

// NewAPI returns an API for baseURL using httpClient.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &API{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient}
}

func (a *API) do(ctx context.Context, method, path string, in, out any, authenticated bool) error {
	if authenticated && a.Token == "" {
		return ErrNotLoggedIn
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
		var eb struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &eb) == nil && eb.Message != "" {
			apiErr.Message = eb.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Register creates an account.
func (a *API) Register(ctx context.Context, username, email, password string) (*User, error) {
	var u User
	in := map[string]string{"username": username, "email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/auth/register", in, &u, false); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login exchanges email and password for a token and stores it on a.
func (a *API) Login(ctx context.Context, email, password string) (*User, error) {
	var out struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	in := map[string]string{"email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/auth/login", in, &out, false); err != nil {
		return nil, err
	}
	a.Token = out.Token
	return &out.User, nil
}

// List returns the caller's credentials, most recently updated first.
func (a *API) List(ctx context.Context) ([]Credential, error) {
	var list []Credential
	if err := a.do(ctx, http.MethodGet, "/password", nil, &list, true); err != nil {
		return nil, err
	}
	return list, nil
}

// Create stores a new credential.
func (a *API) Create(ctx context.Context, f CredentialFields) (*Credential, error) {
	var c Credential
	if err := a.do(ctx, http.MethodPost, "/password", f, &c, true); err != nil {
		return nil, err
	}
	return &c, nil
}

// Update changes the set fields of credential id.
func (a *API) Update(ctx context.Context, id string, f CredentialFields) (*Credential, error) {
	var c Credential
	if err := a.do(ctx, http.MethodPut, "/password/"+url.PathEscape(id), f, &c, true); err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete removes credential id.
func (a *API) Delete(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/password/"+url.PathEscape(id), nil, nil, true)
}

// Reveal returns the plaintext password of credential id.
func (a *API) Reveal(ctx context.Context, id string) (string, error) {
	var out struct {
		PasswordPlain string `json:"passwordPlain"`
	}
	if err := a.do(ctx, http.MethodGet, "/password/"+url.PathEscape(id)+"/reveal", nil, &out, true); err != nil {
		return "", err
	}
	return out.PasswordPlain, nil
}
