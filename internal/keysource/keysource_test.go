package keysource

import (
	"context"
	"errors"
	"testing"

	"github.com/atinyakov/credvault/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeSecretsManager struct {
	gotID string
	out   *secretsmanager.GetSecretValueOutput
	err   error
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.gotID = aws.ToString(in.SecretId)
	return f.out, f.err
}

type fakeVault struct {
	gotPath string
	secret  *vault.Secret
	err     error
}

func (f *fakeVault) ReadWithContext(_ context.Context, path string) (*vault.Secret, error) {
	f.gotPath = path
	return f.secret, f.err
}

func TestStatic(t *testing.T) {
	v, err := Static(hexKey).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hexKey, v)

	_, err = Static("").Fetch(context.Background())
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAWSSecret_Fetch(t *testing.T) {
	fake := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(hexKey + "\n")}}
	src := &AWSSecret{client: fake, secretID: "credvault/aes"}

	v, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hexKey, v)
	assert.Equal(t, "credvault/aes", fake.gotID)
}

func TestAWSSecret_Errors(t *testing.T) {
	src := &AWSSecret{client: &fakeSecretsManager{err: errors.New("access denied")}, secretID: "x"}
	_, err := src.Fetch(context.Background())
	assert.ErrorContains(t, err, "access denied")

	src = &AWSSecret{client: &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{}}, secretID: "x"}
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestVaultKV_Fetch(t *testing.T) {
	fake := &fakeVault{secret: &vault.Secret{Data: map[string]interface{}{
		"data": map[string]interface{}{"aes_secret_key": hexKey},
	}}}
	src := &VaultKV{logical: fake, path: "secret/data/credvault", field: "aes_secret_key"}

	v, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hexKey, v)
	assert.Equal(t, "secret/data/credvault", fake.gotPath)
}

func TestVaultKV_Errors(t *testing.T) {
	cases := []struct {
		name   string
		vault  *fakeVault
		wantIs error
	}{
		{"read error", &fakeVault{err: errors.New("sealed")}, nil},
		{"missing secret", &fakeVault{}, ErrKeyNotFound},
		{"not kv v2", &fakeVault{secret: &vault.Secret{Data: map[string]interface{}{"aes_secret_key": hexKey}}}, nil},
		{"missing field", &fakeVault{secret: &vault.Secret{Data: map[string]interface{}{
			"data": map[string]interface{}{"other": "x"},
		}}}, ErrKeyNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &VaultKV{logical: tc.vault, path: "p", field: "aes_secret_key"}
			_, err := src.Fetch(context.Background())
			require.Error(t, err)
			if tc.wantIs != nil {
				assert.ErrorIs(t, err, tc.wantIs)
			}
		})
	}
}

func TestResolve_Env(t *testing.T) {
	opts := config.Default()
	opts.EncryptionKey = hexKey
	v, err := Resolve(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, hexKey, v)
}

func TestFromOptions_Unknown(t *testing.T) {
	opts := config.Default()
	opts.KeySource = "hsm"
	_, err := FromOptions(context.Background(), opts)
	assert.Error(t, err)
}
