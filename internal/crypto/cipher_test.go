package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/atinyakov/credvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	otherKey = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	fixedIV  = "a0a1a2a3a4a5a6a7a8a9aaabacadaeaf"
)

func newTestCipher(t *testing.T, key string, mode Mode) *Cipher {
	t.Helper()
	c, err := New(key, mode)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadKeys(t *testing.T) {
	cases := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"too short", testKey[:62]},
		{"too long", testKey + "00"},
		{"not hex", strings.Repeat("zz", 32)},
		{"whitespace", " " + testKey[1:]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.key, ModeCBC)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestNew_UnknownMode(t *testing.T) {
	_, err := New(testKey, Mode("ecb"))
	require.Error(t, err)
}

func TestCipher_NilKeyIsConfigurationError(t *testing.T) {
	var c *Cipher
	_, err := c.Encrypt("x")
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = c.Decrypt(models.CipherPayload{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestEncrypt_MatchesAES256CBCVector(t *testing.T) {
	c := newTestCipher(t, testKey, ModeCBC)
	iv, _ := hex.DecodeString(fixedIV)
	c.random = bytes.NewReader(iv)

	p, err := c.Encrypt("s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, fixedIV, p.IV)
	assert.Equal(t, "cb40348b88ea991164907b6ca4fcba14", p.Content)
	assert.Empty(t, p.Tag)
}

func TestDecrypt_ExistingCBCPayload(t *testing.T) {
	c := newTestCipher(t, testKey, ModeCBC)
	got, err := c.Decrypt(models.CipherPayload{
		IV:      fixedIV,
		Content: "b913d5c107e6b99a9c5278e464f4172bb128be8672fd000384fc022b0610a465",
	})
	require.NoError(t, err)
	assert.Equal(t, "correct horse battery staple", got)
}

func TestRoundTrip(t *testing.T) {
	plaintexts := []string{"", "a", "s3cr3t", "exactly16bytes!!", strings.Repeat("x", 1000), "пароль", "🔐 key"}
	for _, mode := range []Mode{ModeCBC, ModeGCM} {
		c := newTestCipher(t, testKey, mode)
		for _, p := range plaintexts {
			payload, err := c.Encrypt(p)
			require.NoError(t, err)
			got, err := c.Decrypt(payload)
			require.NoError(t, err, "mode %s", mode)
			assert.Equal(t, p, got, "mode %s", mode)
		}
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	for _, mode := range []Mode{ModeCBC, ModeGCM} {
		c := newTestCipher(t, testKey, mode)
		a, err := c.Encrypt("same plaintext")
		require.NoError(t, err)
		b, err := c.Encrypt("same plaintext")
		require.NoError(t, err)

		assert.NotEqual(t, a.IV, b.IV)
		assert.NotEqual(t, a.Content, b.Content)
		assert.Len(t, a.IV, IVSize*2)
	}
}

func TestEncrypt_GCMCarriesTag(t *testing.T) {
	c := newTestCipher(t, testKey, ModeGCM)
	p, err := c.Encrypt("s3cr3t")
	require.NoError(t, err)
	assert.Len(t, p.Tag, tagSize*2)
	assert.Len(t, p.Content, len("s3cr3t")*2)
}

func TestDecrypt_ReadsBothModes(t *testing.T) {
	cbc := newTestCipher(t, testKey, ModeCBC)
	gcm := newTestCipher(t, testKey, ModeGCM)

	p, err := cbc.Encrypt("legacy")
	require.NoError(t, err)
	got, err := gcm.Decrypt(p)
	require.NoError(t, err)
	assert.Equal(t, "legacy", got)

	p, err = gcm.Encrypt("upgraded")
	require.NoError(t, err)
	got, err = cbc.Decrypt(p)
	require.NoError(t, err)
	assert.Equal(t, "upgraded", got)
}

func TestDecrypt_Failures(t *testing.T) {
	c := newTestCipher(t, testKey, ModeCBC)
	good := models.CipherPayload{IV: fixedIV, Content: "cb40348b88ea991164907b6ca4fcba14"}

	gcm := newTestCipher(t, testKey, ModeGCM)
	sealed, err := gcm.Encrypt("s3cr3t")
	require.NoError(t, err)
	tampered := sealed
	tampered.Tag = strings.Repeat("0", tagSize*2)

	cases := []struct {
		name    string
		payload models.CipherPayload
	}{
		{"iv not hex", models.CipherPayload{IV: "zz", Content: good.Content}},
		{"short iv", models.CipherPayload{IV: fixedIV[:16], Content: good.Content}},
		{"content not hex", models.CipherPayload{IV: fixedIV, Content: "xyz"}},
		{"truncated content", models.CipherPayload{IV: fixedIV, Content: good.Content[:30]}},
		{"empty content", models.CipherPayload{IV: fixedIV}},
		{"bad tag length", models.CipherPayload{IV: sealed.IV, Content: sealed.Content, Tag: "00"}},
		{"forged tag", tampered},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Decrypt(tc.payload)
			assert.ErrorIs(t, err, ErrDecryption)
			assert.Empty(t, got)
		})
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	wrong := newTestCipher(t, otherKey, ModeCBC)
	_, err := wrong.Decrypt(models.CipherPayload{IV: fixedIV, Content: "cb40348b88ea991164907b6ca4fcba14"})
	assert.ErrorIs(t, err, ErrDecryption)

	c := newTestCipher(t, testKey, ModeGCM)
	p, err := c.Encrypt("s3cr3t")
	require.NoError(t, err)
	_, err = newTestCipher(t, otherKey, ModeGCM).Decrypt(p)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_ErrorDoesNotLeakPayload(t *testing.T) {
	c := newTestCipher(t, otherKey, ModeCBC)
	content := "cb40348b88ea991164907b6ca4fcba14"
	_, err := c.Decrypt(models.CipherPayload{IV: fixedIV, Content: content})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), content)
	assert.NotContains(t, err.Error(), fixedIV)
	assert.NotContains(t, err.Error(), otherKey)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestEncrypt_RandomFailure(t *testing.T) {
	c := newTestCipher(t, testKey, ModeCBC)
	c.random = failingReader{}
	_, err := c.Encrypt("s3cr3t")
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeCBC, m)

	m, err = ParseMode(" GCM ")
	require.NoError(t, err)
	assert.Equal(t, ModeGCM, m)

	_, err = ParseMode("ctr")
	assert.Error(t, err)
}

func TestGenerateKeyHex(t *testing.T) {
	a, err := GenerateKeyHex()
	require.NoError(t, err)
	b, err := GenerateKeyHex()
	require.NoError(t, err)

	assert.Len(t, a, KeySize*2)
	assert.NotEqual(t, a, b)
	_, err = New(a, ModeCBC)
	assert.NoError(t, err)
}
