// Package secrets provides authenticated encryption for stored OAuth
// credentials. Tokens are never persisted in plaintext: the store layer
// round-trips every access and refresh token through this package.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Key and format constants for AES-256-GCM.
const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32
	// nonceSize is the GCM nonce length in bytes.
	nonceSize = 12
	// tagSize is the GCM authentication tag length in bytes.
	tagSize = 16
	// fieldCount is the number of colon-separated fields in the stored form.
	fieldCount = 3
)

// Sentinel errors for ciphertext validation.
var (
	ErrBadKeyLength   = errors.New("secrets: encryption key must be 32 bytes")
	ErrMalformed      = errors.New("secrets: malformed ciphertext")
	ErrAuthentication = errors.New("secrets: ciphertext authentication failed")
)

// Cipher encrypts and decrypts short secrets using AES-256-GCM.
// The stored form is "ivHex:authTagHex:cipherHex" so a row is
// self-describing and the tag can be inspected without decrypting.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrBadKeyLength, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: creating GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// NewFromHex creates a Cipher from a hex-encoded key, the form the
// ENCRYPTION_KEY environment variable carries (64 hex characters).
func NewFromHex(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("secrets: decoding hex key: %w", err)
	}

	return New(key)
}

// Encrypt seals plaintext with a fresh random nonce and returns the
// "ivHex:authTagHex:cipherHex" stored form.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: generating nonce: %w", err)
	}

	// Seal appends the 16-byte tag to the ciphertext; split it back out
	// so the stored form keeps the tag as its own field.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	body := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(body), nil
}

// Decrypt opens a stored "ivHex:authTagHex:cipherHex" value.
// Returns ErrMalformed for structurally invalid input and
// ErrAuthentication when the tag does not verify (wrong key or tampering).
func (c *Cipher) Decrypt(stored string) (string, error) {
	parts := strings.Split(stored, ":")
	if len(parts) != fieldCount {
		return "", fmt.Errorf("%w: expected %d fields, got %d", ErrMalformed, fieldCount, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad nonce", ErrMalformed)
	}

	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: bad auth tag", ErrMalformed)
	}

	body, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext body", ErrMalformed)
	}

	plaintext, err := c.aead.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		return "", ErrAuthentication
	}

	return string(plaintext), nil
}
