// Package keysource resolves the hex-encoded AES key from the configured
// source: the environment, AWS Secrets Manager or HashiCorp Vault KV v2.
// Resolved values are returned to the caller only and are never logged.
package keysource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atinyakov/credvault/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
)

// ErrKeyNotFound is returned when the source holds no usable key value.
var ErrKeyNotFound = errors.New("encryption key not found")

// Source fetches the hex-encoded key.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// Static returns a fixed value, used for the env source.
type Static string

// Fetch returns the static value.
func (s Static) Fetch(context.Context) (string, error) {
	if s == "" {
		return "", ErrKeyNotFound
	}
	return string(s), nil
}

// secretsManagerClient is the subset of the Secrets Manager API used here.
type secretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecret reads the key from the SecretString of a Secrets Manager secret.
type AWSSecret struct {
	client   secretsManagerClient
	secretID string
}

// NewAWSSecret builds a Secrets Manager source using the default AWS credential chain.
func NewAWSSecret(ctx context.Context, secretID, region string) (*AWSSecret, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &AWSSecret{client: secretsmanager.NewFromConfig(cfg), secretID: secretID}, nil
}

// Fetch reads the current version of the secret.
func (s *AWSSecret) Fetch(ctx context.Context) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", s.secretID, err)
	}
	value := strings.TrimSpace(aws.ToString(out.SecretString))
	if value == "" {
		return "", fmt.Errorf("secret %q: %w", s.secretID, ErrKeyNotFound)
	}
	return value, nil
}

// vaultReader is the subset of the Vault logical API used here.
type vaultReader interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// VaultKV reads the key from a field of a KV v2 secret.
type VaultKV struct {
	logical vaultReader
	path    string
	field   string
}

// NewVaultKV builds a Vault source configured from VAULT_ADDR, VAULT_TOKEN and
// the other standard Vault environment variables.
func NewVaultKV(path, field string) (*VaultKV, error) {
	client, err := vault.NewClient(vault.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	return &VaultKV{logical: client.Logical(), path: path, field: field}, nil
}

// Fetch reads the secret at path and returns field from its data map.
func (v *VaultKV) Fetch(ctx context.Context) (string, error) {
	secret, err := v.logical.ReadWithContext(ctx, v.path)
	if err != nil {
		return "", fmt.Errorf("read vault path %q: %w", v.path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault path %q: %w", v.path, ErrKeyNotFound)
	}

	// KV v2 wraps the actual data in a "data" key
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("vault path %q: invalid KV v2 secret format", v.path)
	}
	value, ok := data[v.field].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("vault path %q field %q: %w", v.path, v.field, ErrKeyNotFound)
	}
	return strings.TrimSpace(value), nil
}

// FromOptions selects the source named by opts.KeySource.
func FromOptions(ctx context.Context, opts *config.Options) (Source, error) {
	switch opts.KeySource {
	case "", config.KeySourceEnv:
		return Static(opts.EncryptionKey), nil
	case config.KeySourceAWS:
		return NewAWSSecret(ctx, opts.AWSSecretID, opts.AWSRegion)
	case config.KeySourceVault:
		return NewVaultKV(opts.VaultPath, opts.VaultField)
	default:
		return nil, fmt.Errorf("unknown key source %q", opts.KeySource)
	}
}

// Resolve builds the configured source and fetches the key.
func Resolve(ctx context.Context, opts *config.Options) (string, error) {
	src, err := FromOptions(ctx, opts)
	if err != nil {
		return "", err
	}
	return src.Fetch(ctx)
}
