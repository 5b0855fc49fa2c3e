package http

import (
	"net/http"

	"github.com/atinyakov/credvault/internal/metrics"
	"github.com/atinyakov/credvault/internal/middleware"
	"github.com/atinyakov/credvault/internal/policy"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// MaxBodyBytes caps every request body.
const MaxBodyBytes = 1 << 20

const authRateLimitMessage = "Too many auth attempts. Please try again later."

// RouterConfig carries the dependencies of NewRouter.
type RouterConfig struct {
	Auth        *AuthHandler
	Credentials *CredentialHandler
	// Verifier checks bearer tokens on the /password routes.
	Verifier middleware.TokenVerifier
	// AuthLimiter throttles /auth by client IP.
	AuthLimiter *policy.Limiter
	// Metrics, when non-nil, records request metrics. MetricsEnabled also
	// mounts its handler on /metrics.
	Metrics        *metrics.Metrics
	MetricsEnabled bool
	// FrontendURL is the only origin allowed by CORS.
	FrontendURL string
	// TrustProxy takes the client IP from X-Forwarded-For, X-Real-IP or
	// True-Client-IP. Enable it only behind a proxy that overwrites them.
	TrustProxy bool
	Logger     *zap.Logger
}

// NewRouter constructs the HTTP handler of the credential vault.
//
// Routes:
//
//	GET    /health               → liveness probe
//	GET    /metrics              → Prometheus metrics (when enabled)
//	POST   /auth/register        → Auth.Register (rate limited per IP)
//	POST   /auth/login           → Auth.Login (rate limited per IP)
//	POST   /password             → Credentials.Create
//	GET    /password             → Credentials.List
//	GET    /password/{id}/reveal → Credentials.Reveal
//	PUT    /password/{id}        → Credentials.Update
//	DELETE /password/{id}        → Credentials.Delete
//
// Every /password route requires a bearer token.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	if cfg.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(middleware.WithRequestLogging(logger, cfg.Metrics))
	r.Use(chiMiddleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chiMiddleware.RequestSize(MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))
		if cfg.AuthLimiter != nil {
			r.Use(middleware.RateLimit(cfg.AuthLimiter, cfg.Metrics, authRateLimitMessage))
		}
		r.Post("/register", cfg.Auth.Register)
		r.Post("/login", cfg.Auth.Login)
	})

	r.Route("/password", func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.Verifier))
		r.Use(chiMiddleware.AllowContentType("application/json"))

		r.Post("/", cfg.Credentials.Create)
		r.Get("/", cfg.Credentials.List)
		r.Get("/{id}/reveal", cfg.Credentials.Reveal)
		r.Put("/{id}", cfg.Credentials.Update)
		r.Delete("/{id}", cfg.Credentials.Delete)
	})

	return r
}

// securityHeaders sets the response headers browsers use to harden API responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}
