// Package crypto implements payload encryption at rest for queued events.
//
// Algorithm: AES-256-GCM with a random 12-byte nonce per encryption. The key
// is either a 64-character hex string decoding to 256 bits, or an arbitrary
// passphrase from which a 256-bit key is derived with HKDF-SHA256. Ciphertext
// is base64-encoded nonce||sealed for storage in a text column.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize      = 32
	hexKeyLength = 64

	derivationSalt = "beacon-payload-encryption"
	derivationInfo = "payload-encryption-v1"
)

var (
	// ErrInvalidKey is returned when the configured key is empty or cannot
	// be decoded into a 256-bit secret.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrDecryptFailed is returned for corrupt, truncated, or mismatched
	// ciphertext. Callers treat this as "not encrypted" or log-and-drop.
	ErrDecryptFailed = errors.New("decryption failed")
)

// PayloadCipher encrypts and decrypts event payloads with one fixed key.
type PayloadCipher struct {
	aead cipher.AEAD
}

// NewPayloadCipher builds a cipher from the configured key string.
// A 64-char hex key is used directly; any other non-empty string is treated
// as a passphrase and stretched with HKDF. Empty keys fail with ErrInvalidKey.
func NewPayloadCipher(key string) (*PayloadCipher, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	var secret []byte
	if len(key) == hexKeyLength {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed hex key: %v", ErrInvalidKey, err)
		}
		secret = decoded
	} else {
		derived, err := deriveKey(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		secret = derived
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &PayloadCipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (p *PayloadCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := p.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It fails closed: any malformed or tampered
// input returns ErrDecryptFailed rather than partial plaintext.
func (p *PayloadCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrDecryptFailed)
	}

	nonceSize := p.aead.NonceSize()
	if len(raw) < nonceSize+p.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptFailed)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// deriveKey stretches a passphrase into a 256-bit key with HKDF-SHA256.
func deriveKey(passphrase string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(passphrase), []byte(derivationSalt), []byte(derivationInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
