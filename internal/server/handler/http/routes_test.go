package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/credvault/internal/audit"
	"github.com/atinyakov/credvault/internal/auth"
	"github.com/atinyakov/credvault/internal/crypto"
	"github.com/atinyakov/credvault/internal/metrics"
	"github.com/atinyakov/credvault/internal/policy"
	"github.com/atinyakov/credvault/internal/repository"
	"github.com/atinyakov/credvault/internal/service"
	"github.com/atinyakov/credvault/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testKey     = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testOrigin  = "http://localhost:8080"
	jwtSecret   = "0123456789abcdef0123456789abcdef"
	revealLimit = 3
	authLimit   = 6
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testServer struct {
	handler http.Handler
	audits  *repository.MemoryAuditRepository
	rec     *audit.Recorder
	clock   *testClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

// newTestServerWith lets configure adjust the router config before the router is built.
func newTestServerWith(t *testing.T, configure func(*RouterConfig)) *testServer {
	t.Helper()

	cipher, err := crypto.New(testKey, crypto.ModeGCM)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager(jwtSecret, time.Hour)
	require.NoError(t, err)
	v, err := validation.New()
	require.NoError(t, err)

	clk := &testClock{t: time.Now()}
	m := metrics.New(prometheus.NewRegistry())
	audits := repository.NewMemoryAuditRepository()
	rec := audit.NewRecorder(audits, zap.NewNop(), audit.WithMetrics(m))
	t.Cleanup(rec.Close)

	revealLimiter := policy.NewLimiter(revealLimit, 15*time.Minute, policy.WithClock(clk.Now), policy.WithName("reveal"))
	authLimiter := policy.NewLimiter(authLimit, 15*time.Minute, policy.WithClock(clk.Now), policy.WithName("auth"))

	creds := service.NewCredentialService(repository.NewMemoryCredentialRepository(), cipher, rec, revealLimiter,
		service.WithMetrics(m))
	users := service.NewAuthService(repository.NewMemoryUserRepository(), tokens)

	cfg := RouterConfig{
		Auth:           &AuthHandler{AuthService: users, Validator: v},
		Credentials:    &CredentialHandler{Service: creds, Validator: v},
		Verifier:       tokens,
		AuthLimiter:    authLimiter,
		Metrics:        m,
		MetricsEnabled: true,
		FrontendURL:    testOrigin,
	}
	if configure != nil {
		configure(&cfg)
	}
	h := NewRouter(cfg)
	return &testServer{handler: h, audits: audits, rec: rec, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// signup registers and logs in a user, returning the bearer token.
func (s *testServer) signup(t *testing.T, username string) string {
	t.Helper()
	email := username + "@example.com"
	rec := s.do(t, http.MethodPost, "/auth/register", "",
		`{"username":"`+username+`","email":"`+email+`","password":"correct horse"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/login", "", `{"email":"`+email+`","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.Token)
	return sess.Token
}

func (s *testServer) create(t *testing.T, token, body string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/password", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c struct {
		ID string `json:"_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return c.ID
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouter_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":true,"message":"Not found"}`, rec.Body.String())
}

func TestRouter_PasswordRequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/password", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/password", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_RegisterConflictAndBadLogin(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice")

	rec := s.do(t, http.MethodPost, "/auth/register", "",
		`{"username":"alice","email":"other@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":true,"message":"User with that email or username already exists"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/login", "", `{"email":"alice@example.com","password":"wrong horse"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":true,"message":"Invalid credentials"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/login", "", `{"email":"nobody@example.com","password":"wrong horse"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_CredentialLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "alice")

	rec := s.do(t, http.MethodPost, "/password", token,
		`{"accountName":"github","accountUsername":"alice","passwordPlain":"s3cr3t"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "s3cr3t")
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["_id"].(string)
	assert.Equal(t, true, created["encrypted"])

	rec = s.do(t, http.MethodGet, "/password", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["_id"])
	assert.NotContains(t, rec.Body.String(), "s3cr3t")

	rec = s.do(t, http.MethodGet, "/password/"+id+"/reveal", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"passwordPlain":"s3cr3t"}`, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/password/"+id, token, `{"password":"n3w"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "github", updated["accountName"])
	assert.Equal(t, "alice", updated["accountUsername"])

	rec = s.do(t, http.MethodGet, "/password/"+id+"/reveal", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"passwordPlain":"n3w"}`, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/password/"+id, token, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/password/"+id, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/password/"+id+"/reveal", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.rec.Close()
	entries, err := s.audits.ListByCredential(t.Context(), id)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRouter_OwnershipIsolation(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")

	id := s.create(t, alice, `{"accountName":"github","accountUsername":"alice","passwordPlain":"s3cr3t"}`)

	rec := s.do(t, http.MethodGet, "/password/"+id+"/reveal", bob, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":true,"message":"Forbidden"}`, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/password/"+id, bob, `{"accountName":"x"}`).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/password/"+id, bob, "").Code)

	rec = s.do(t, http.MethodGet, "/password", bob, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/password/"+id+"/reveal", alice, "")
	assert.JSONEq(t, `{"passwordPlain":"s3cr3t"}`, rec.Body.String())
}

func TestRouter_RevealRateLimit(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "alice")
	id := s.create(t, token, `{"accountName":"github","accountUsername":"alice","passwordPlain":"s3cr3t"}`)

	for i := 0; i < revealLimit; i++ {
		rec := s.do(t, http.MethodGet, "/password/"+id+"/reveal", token, "")
		require.Equal(t, http.StatusOK, rec.Code, "reveal %d", i+1)
	}

	rec := s.do(t, http.MethodGet, "/password/"+id+"/reveal", token, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":true,"message":"Too many reveal attempts. Please try again later."}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	s.clock.Advance(15*time.Minute + time.Second)
	rec = s.do(t, http.MethodGet, "/password/"+id+"/reveal", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_AuthRateLimit(t *testing.T) {
	s := newTestServer(t)
	body := `{"email":"nobody@example.com","password":"whatever1"}`

	for i := 0; i < authLimit; i++ {
		rec := s.do(t, http.MethodPost, "/auth/login", "", body)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/auth/login", "", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":true,"message":"Too many auth attempts. Please try again later."}`, rec.Body.String())
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))
}

func TestRouter_RejectsNonJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("username=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/password", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, testOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "alice")
	id := s.create(t, token, `{"accountName":"github","accountUsername":"alice","passwordPlain":"s3cr3t"}`)
	s.do(t, http.MethodGet, "/password/"+id+"/reveal", token, "")

	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `credvault_reveal_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), "credvault_http_requests_total")
}

func loginFrom(s *testServer, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"nobody@example.com","password":"whatever1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)
	req.Header.Set("X-Real-IP", forwardedFor)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRouter_AuthRateLimit_IgnoresForwardedHeaders(t *testing.T) {
	s := newTestServer(t)

	limited := 0
	for i := 0; i < 50; i++ {
		if loginFrom(s, "192.0.2.1:1234", fmt.Sprintf("203.0.113.%d", i)) == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 50-authLimit, limited)
}

func TestRouter_AuthRateLimit_TrustProxy(t *testing.T) {
	s := newTestServerWith(t, func(cfg *RouterConfig) { cfg.TrustProxy = true })

	for i := 0; i < authLimit+2; i++ {
		code := loginFrom(s, "10.0.0.1:1234", fmt.Sprintf("203.0.113.%d", i))
		assert.Equal(t, http.StatusUnauthorized, code, "request %d", i+1)
	}
}

func TestRouter_RevealAuditUsesSocketAddress(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "alice")
	id := s.create(t, token, `{"accountName":"github","accountUsername":"alice","passwordPlain":"s3cr3t"}`)

	req := httptest.NewRequest(http.MethodGet, "/password/"+id+"/reveal", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	s.rec.Close()
	entries, err := s.audits.ListByCredential(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "192.0.2.1", entries[0].IPAddress)
}

func TestRouter_MetricsUnmatchedPathsShareLabel(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 20; i++ {
		s.do(t, http.MethodGet, fmt.Sprintf("/random-%d", i), "", "")
	}

	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "/random-")
	assert.Contains(t, body, `route="unmatched"`)
}
