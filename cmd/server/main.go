// Package main initializes and starts the credential vault HTTP server,
// setting up configuration, logging, the encryption key, storage, services,
// handlers and graceful shutdown.
package main

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/credvault/internal/audit"
	"github.com/atinyakov/credvault/internal/auth"
	"github.com/atinyakov/credvault/internal/config"
	"github.com/atinyakov/credvault/internal/crypto"
	"github.com/atinyakov/credvault/internal/db"
	"github.com/atinyakov/credvault/internal/keysource"
	"github.com/atinyakov/credvault/internal/logger"
	"github.com/atinyakov/credvault/internal/metrics"
	"github.com/atinyakov/credvault/internal/policy"
	"github.com/atinyakov/credvault/internal/repository"
	"github.com/atinyakov/credvault/internal/server/handler/http"
	"github.com/atinyakov/credvault/internal/service"
	"github.com/atinyakov/credvault/internal/validation"
	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// stores groups the repositories used by the services.
type stores struct {
	credentials service.CredentialRepository
	users       service.UserRepository
	audit       audit.Store
	close       func() error
}

func main() {
	// SafeExit wipes key material before exiting, whatever the exit code.
	// Signals are handled by run for graceful shutdown.
	memguard.SafeExit(realMain())
}

// realMain returns the process exit code so that deferred cleanup runs on
// every path.
func realMain() int {
	// Parse command-line, file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return 1
	}

	return serve(options, log.Log)
}

// serve validates options and runs the server until shutdown.
func serve(options *config.Options, zapLogger *zap.Logger) int {
	if err := options.Validate(); err != nil {
		zapLogger.Error("invalid configuration", zap.Error(err))
		return 1
	}

	if err := run(options, zapLogger); err != nil {
		zapLogger.Error("server stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

func run(options *config.Options, zapLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resolve the encryption key. The value itself is never logged.
	keyHex, err := keysource.Resolve(ctx, options)
	if err != nil {
		return fmt.Errorf("resolve encryption key from %s: %w", options.KeySource, err)
	}
	mode, err := crypto.ParseMode(options.CipherMode)
	if err != nil {
		return err
	}
	cipher, err := crypto.New(keyHex, mode)
	if err != nil {
		return err
	}
	zapLogger.Info("encryption key loaded",
		zap.String("source", options.KeySource),
		zap.String("mode", string(cipher.Mode())),
	)

	st, err := openStores(options.DatabaseDSN, zapLogger)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	authLimiter := policy.NewLimiter(options.AuthRateLimit, options.RateWindow, policy.WithName("auth"))
	revealLimiter := policy.NewLimiter(options.RevealRateLimit, options.RateWindow, policy.WithName("reveal"))
	policy.StartSweeper(ctx, sweepInterval, []*policy.Limiter{authLimiter, revealLimiter}, zapLogger)

	recorder := audit.NewRecorder(st.audit, zapLogger, audit.WithMetrics(m))
	defer recorder.Close()

	tokens, err := auth.NewTokenManager(options.JWTSecret, options.JWTExpiresIn)
	if err != nil {
		return err
	}

	credentialService := service.NewCredentialService(st.credentials, cipher, recorder, revealLimiter,
		service.WithLogger(zapLogger),
		service.WithMetrics(m),
	)
	authService := service.NewAuthService(st.users, tokens)

	v, err := validation.New()
	if err != nil {
		return err
	}

	router := http.NewRouter(http.RouterConfig{
		Auth:           &http.AuthHandler{AuthService: authService, Validator: v, Logger: zapLogger},
		Credentials:    &http.CredentialHandler{Service: credentialService, Validator: v, Logger: zapLogger},
		Verifier:       tokens,
		AuthLimiter:    authLimiter,
		Metrics:        m,
		MetricsEnabled: options.MetricsEnabled,
		FrontendURL:    options.FrontendURL,
		TrustProxy:     options.TrustProxy,
		Logger:         zapLogger,
	})

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if options.TLSCert != "" {
			zapLogger.Info("starting HTTPS server", zap.String("addr", options.Port))
			errCh <- server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
			return
		}
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Port))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zapLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStores returns PostgreSQL repositories when dsn is set and in-memory
// repositories otherwise.
func openStores(dsn string, zapLogger *zap.Logger) (*stores, error) {
	if dsn == "" {
		zapLogger.Warn("DATABASE_DSN is empty, using the in-memory store; data is lost on exit")
		return &stores{
			credentials: repository.NewMemoryCredentialRepository(),
			users:       repository.NewMemoryUserRepository(),
			audit:       repository.NewMemoryAuditRepository(),
			close:       func() error { return nil },
		}, nil
	}

	postgresDB, err := db.InitPostgres(dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot init database: %w", err)
	}
	if err := db.RunMigrations(postgresDB); err != nil {
		_ = postgresDB.Close()
		return nil, fmt.Errorf("cannot migrate database: %w", err)
	}
	return postgresStores(postgresDB), nil
}

func postgresStores(postgresDB *sql.DB) *stores {
	return &stores{
		credentials: repository.NewPostgresCredentialRepository(postgresDB),
		users:       repository.NewPostgresUserRepository(postgresDB),
		audit:       repository.NewPostgresAuditRepository(postgresDB),
		close:       postgresDB.Close,
	}
}
