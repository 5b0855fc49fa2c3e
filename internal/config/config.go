// Package config provides functionality for managing configuration options
// for the application using command-line flags, a config file, a .env file
// and environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atinyakov/credvault/internal/crypto"
	"github.com/hengadev/errsx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Key sources understood by the keysource package.
const (
	KeySourceEnv   = "env"
	KeySourceAWS   = "aws"
	KeySourceVault = "vault"
)

// Options holds the configuration values for the application.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `yaml:"address"`

	// DatabaseDSN holds the database connection string. Empty selects the in-memory store.
	DatabaseDSN string `yaml:"database_dsn"`

	// Config is the path to the Config file.
	Config string `yaml:"-"`

	// EncryptionKey is the 64-hex-character AES-256 key when KeySource is "env".
	EncryptionKey string `yaml:"aes_secret_key"`
	// KeySource selects where the encryption key is read from: env, aws or vault.
	KeySource string `yaml:"key_source"`
	// AWSSecretID names the Secrets Manager secret holding the key.
	AWSSecretID string `yaml:"aws_secret_id"`
	// AWSRegion overrides the default AWS region.
	AWSRegion string `yaml:"aws_region"`
	// VaultPath is the KV v2 read path, e.g. "secret/data/credvault".
	VaultPath string `yaml:"vault_path"`
	// VaultField is the field inside the KV v2 secret that holds the key.
	VaultField string `yaml:"vault_field"`
	// CipherMode is the mode used for new encryptions: cbc or gcm.
	CipherMode string `yaml:"cipher_mode"`

	// JWTSecret signs and verifies bearer tokens.
	JWTSecret string `yaml:"jwt_secret"`
	// JWTExpiresIn is the lifetime of issued tokens.
	JWTExpiresIn time.Duration `yaml:"jwt_expires_in"`

	// RateWindow is the length of a rate-limit window.
	RateWindow time.Duration `yaml:"rate_window"`
	// AuthRateLimit is the number of register/login attempts per window and network origin.
	AuthRateLimit int `yaml:"auth_rate_limit"`
	// RevealRateLimit is the number of reveal attempts per window and caller.
	RevealRateLimit int `yaml:"reveal_rate_limit"`

	// LogLevel is the zap level name.
	LogLevel string `yaml:"log_level"`
	// MetricsEnabled mounts the Prometheus handler on /metrics.
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	// FrontendURL is the only origin allowed by CORS.
	FrontendURL string `yaml:"frontend_url"`
	// TrustProxy honours X-Forwarded-For and X-Real-IP when deriving the client IP.
	TrustProxy bool `yaml:"trust_proxy"`
}

// Default returns the options used when nothing else is configured.
func Default() *Options {
	return &Options{
		Port:            "localhost:4000",
		Config:          "config.yaml",
		KeySource:       KeySourceEnv,
		VaultField:      "aes_secret_key",
		CipherMode:      string(crypto.ModeCBC),
		JWTExpiresIn:    7 * 24 * time.Hour,
		RateWindow:      15 * time.Minute,
		AuthRateLimit:   20,
		RevealRateLimit: 30,
		LogLevel:        "info",
		FrontendURL:     "http://localhost:8080",
	}
}

// options holds the current configuration values.
var options = Default()

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Port, "a", options.Port, "run on ip:port server")
	flag.StringVar(&options.DatabaseDSN, "d", "", "db address (empty: in-memory store)")
	flag.StringVar(&options.Config, "config", options.Config, "path to config file")
	flag.StringVar(&options.Config, "c", options.Config, "path to config file (shorthand)")
	flag.StringVar(&options.KeySource, "key-source", options.KeySource, "encryption key source: env | aws | vault")
	flag.StringVar(&options.CipherMode, "cipher-mode", options.CipherMode, "cipher mode for new secrets: cbc | gcm")
	flag.StringVar(&options.LogLevel, "log-level", options.LogLevel, "log level")
	flag.BoolVar(&options.MetricsEnabled, "metrics", false, "expose Prometheus metrics on /metrics")
	flag.BoolVar(&options.TrustProxy, "trust-proxy", false, "take client IPs from X-Forwarded-For (only behind a trusted proxy)")
}

// Parse parses the command-line flags, the .env file, the config file and
// environment variables, in that order of increasing priority. It returns a
// pointer to the Options struct containing the parsed configuration values.
func Parse() *Options {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("error while reading .env file: %v", err)
	}

	// Override flags with environment variables if set
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if err := options.LoadFile(options.Config); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("error while parsing config file: %v", err)
		}
	}

	if err := options.ApplyEnv(os.Getenv); err != nil {
		log.Fatalf("error while reading environment: %v", err)
	}

	return options
}

// LoadFile merges a YAML (or JSON) config file into o.
func (o *Options) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides o with the environment variables that are set.
func (o *Options) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	if port := getenv("PORT"); port != "" {
		o.Port = ":" + port
	}
	str("SERVER_ADDRESS", &o.Port)
	str("DATABASE_DSN", &o.DatabaseDSN)
	str("AES_SECRET_KEY", &o.EncryptionKey)
	str("KEY_SOURCE", &o.KeySource)
	str("AWS_SECRET_ID", &o.AWSSecretID)
	str("AWS_REGION", &o.AWSRegion)
	str("VAULT_KV_PATH", &o.VaultPath)
	str("VAULT_KV_FIELD", &o.VaultField)
	str("CIPHER_MODE", &o.CipherMode)
	str("JWT_SECRET", &o.JWTSecret)
	str("LOG_LEVEL", &o.LogLevel)
	str("TLS_CERT", &o.TLSCert)
	str("TLS_KEY", &o.TLSKey)
	str("FRONTEND_URL", &o.FrontendURL)

	errs := errsx.Map{}
	if v := getenv("JWT_EXPIRES_IN"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			errs.Set("JWT_EXPIRES_IN", err)
		}
		o.JWTExpiresIn = d
	}
	if v := getenv("RATE_WINDOW"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			errs.Set("RATE_WINDOW", err)
		}
		o.RateWindow = d
	}
	if v := getenv("AUTH_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs.Set("AUTH_RATE_LIMIT", err)
		}
		o.AuthRateLimit = n
	}
	if v := getenv("REVEAL_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs.Set("REVEAL_RATE_LIMIT", err)
		}
		o.RevealRateLimit = n
	}
	if v := getenv("METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs.Set("METRICS_ENABLED", err)
		}
		o.MetricsEnabled = b
	}
	if v := getenv("TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs.Set("TRUST_PROXY", err)
		}
		o.TrustProxy = b
	}
	return errs.AsError()
}

// ParseDuration accepts Go durations ("168h", "90m") as well as the
// jsonwebtoken-style values found in existing .env files: a bare number of
// seconds ("3600") or a whole number of days or weeks ("7d", "2w").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	units := map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour}
	for suffix, unit := range units {
		if num, ok := strings.CutSuffix(s, suffix); ok {
			n, err := strconv.ParseInt(num, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			return time.Duration(n) * unit, nil
		}
	}
	return time.ParseDuration(s)
}

// minJWTSecretLen is the HS256 key size in bytes.
const minJWTSecretLen = 32

// Validate reports every invalid option at once. The key itself is checked here
// only for the env source; other sources are checked after retrieval.
func (o *Options) Validate() error {
	errs := errsx.Map{}

	if o.Port == "" {
		errs.Set("address", "must not be empty")
	}

	switch o.KeySource {
	case KeySourceEnv:
		if o.EncryptionKey == "" {
			errs.Set("aes_secret_key", "AES_SECRET_KEY is not set")
		} else if _, err := crypto.New(o.EncryptionKey, crypto.ModeCBC); err != nil {
			errs.Set("aes_secret_key", err)
		}
	case KeySourceAWS:
		if o.AWSSecretID == "" {
			errs.Set("aws_secret_id", "required when key_source is aws")
		}
	case KeySourceVault:
		if o.VaultPath == "" {
			errs.Set("vault_path", "required when key_source is vault")
		}
		if o.VaultField == "" {
			errs.Set("vault_field", "required when key_source is vault")
		}
	default:
		errs.Set("key_source", fmt.Sprintf("unknown key source %q", o.KeySource))
	}

	if _, err := crypto.ParseMode(o.CipherMode); err != nil {
		errs.Set("cipher_mode", err)
	}
	if len(o.JWTSecret) < minJWTSecretLen {
		errs.Set("jwt_secret", fmt.Sprintf("must be at least %d bytes", minJWTSecretLen))
	}
	if o.JWTExpiresIn <= 0 {
		errs.Set("jwt_expires_in", "must be positive")
	}
	if o.RateWindow <= 0 {
		errs.Set("rate_window", "must be positive")
	}
	if o.AuthRateLimit <= 0 {
		errs.Set("auth_rate_limit", "must be positive")
	}
	if o.RevealRateLimit <= 0 {
		errs.Set("reveal_rate_limit", "must be positive")
	}
	if (o.TLSCert == "") != (o.TLSKey == "") {
		errs.Set("tls", "tls_cert and tls_key must be set together")
	}

	return errs.AsError()
}
