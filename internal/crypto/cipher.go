// Package crypto provides symmetric encryption of secret strings with a
// process-wide AES-256 key held in a memguard enclave.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/atinyakov/credvault/internal/models"
	"github.com/awnumar/memguard"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the length of the initialization vector generated for every encryption.
	IVSize = 16
	// tagSize is the GCM authentication tag length.
	tagSize = 16
)

var (
	// ErrConfiguration is returned when the key is absent or not 64 hex characters.
	ErrConfiguration = errors.New("invalid AES key: must be 64 hex characters (32 bytes)")
	// ErrEncryption is returned when a payload could not be produced.
	ErrEncryption = errors.New("encryption failed")
	// ErrDecryption is returned for any undecryptable payload. It never carries
	// ciphertext, plaintext fragments or key material.
	ErrDecryption = errors.New("decryption failed")
)

var keyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Mode selects the block cipher mode used for new encryptions.
type Mode string

const (
	// ModeCBC is AES-256-CBC with PKCS#7 padding.
	ModeCBC Mode = "cbc"
	// ModeGCM is AES-256-GCM with a 16-byte nonce; payloads carry a tag.
	ModeGCM Mode = "gcm"
)

// ParseMode converts a configuration value into a Mode. Empty means CBC.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCBC:
		return ModeCBC, nil
	case ModeGCM:
		return ModeGCM, nil
	default:
		return "", fmt.Errorf("unknown cipher mode %q", s)
	}
}

// Cipher encrypts and decrypts secret strings. It is safe for concurrent use;
// the key is immutable after construction.
type Cipher struct {
	key    *memguard.Enclave
	mode   Mode
	random io.Reader
}

// New validates keyHex and seals the decoded key into an enclave.
// The decoded key bytes are wiped once copied.
func New(keyHex string, mode Mode) (*Cipher, error) {
	if !keyPattern.MatchString(keyHex) {
		return nil, ErrConfiguration
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != KeySize {
		return nil, ErrConfiguration
	}
	if mode == "" {
		mode = ModeCBC
	}
	if mode != ModeCBC && mode != ModeGCM {
		return nil, fmt.Errorf("unknown cipher mode %q", mode)
	}
	return &Cipher{
		key:    memguard.NewEnclave(raw),
		mode:   mode,
		random: rand.Reader,
	}, nil
}

// Mode returns the mode used for new encryptions.
func (c *Cipher) Mode() Mode {
	return c.mode
}

// block opens the enclave and builds the AES block cipher.
func (c *Cipher) block() (cipher.Block, error) {
	if c == nil || c.key == nil {
		return nil, ErrConfiguration
	}
	key, err := c.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer key.Destroy()
	return aes.NewCipher(key.Bytes())
}

// Encrypt encrypts plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (models.CipherPayload, error) {
	block, err := c.block()
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return models.CipherPayload{}, err
		}
		return models.CipherPayload{}, fmt.Errorf("%w: %w", ErrEncryption, err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return models.CipherPayload{}, fmt.Errorf("%w: generate iv: %w", ErrEncryption, err)
	}

	if c.mode == ModeGCM {
		aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
		if err != nil {
			return models.CipherPayload{}, fmt.Errorf("%w: %w", ErrEncryption, err)
		}
		sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
		ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
		return models.CipherPayload{
			IV:      hex.EncodeToString(iv),
			Content: hex.EncodeToString(ct),
			Tag:     hex.EncodeToString(tag),
		}, nil
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return models.CipherPayload{
		IV:      hex.EncodeToString(iv),
		Content: hex.EncodeToString(out),
	}, nil
}

// Decrypt reverses Encrypt. A payload with a tag is opened as GCM, otherwise CBC,
// regardless of the mode configured for new encryptions.
func (c *Cipher) Decrypt(payload models.CipherPayload) (string, error) {
	block, err := c.block()
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return "", err
		}
		return "", ErrDecryption
	}

	iv, err := hex.DecodeString(payload.IV)
	if err != nil || len(iv) != IVSize {
		return "", ErrDecryption
	}
	content, err := hex.DecodeString(payload.Content)
	if err != nil {
		return "", ErrDecryption
	}

	var plain []byte
	if payload.Tag != "" {
		plain, err = openGCM(block, iv, content, payload.Tag)
	} else {
		plain, err = openCBC(block, iv, content)
	}
	if err != nil || !utf8.Valid(plain) {
		return "", ErrDecryption
	}
	return string(plain), nil
}

func openGCM(block cipher.Block, iv, content []byte, tagHex string) ([]byte, error) {
	tag, err := hex.DecodeString(tagHex)
	if err != nil || len(tag) != tagSize {
		return nil, ErrDecryption
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, ErrDecryption
	}
	sealed := make([]byte, 0, len(content)+len(tag))
	sealed = append(sealed, content...)
	sealed = append(sealed, tag...)
	plain, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

func openCBC(block cipher.Block, iv, content []byte) ([]byte, error) {
	if len(content) == 0 || len(content)%aes.BlockSize != 0 {
		return nil, ErrDecryption
	}
	out := make([]byte, len(content))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, content)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrDecryption
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, ErrDecryption
	}
	want := bytes.Repeat([]byte{byte(n)}, n)
	if subtle.ConstantTimeCompare(b[len(b)-n:], want) != 1 {
		return nil, ErrDecryption
	}
	return b[:len(b)-n], nil
}
