package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ecommind/engine/internal/domain"
)

const (
	// minSecretLen is the minimum accepted server-side secret length in bytes
	minSecretLen = 32
	// gcmIVSize is the standard 96-bit GCM nonce size
	gcmIVSize = 12
	// gcmTagSize is the standard 128-bit GCM authentication tag size
	gcmTagSize = 16

	// hkdfInfo domain-separates the vault key from other uses of the secret
	hkdfInfo = "ecommind-token-vault"
)

// EncryptedToken is the persisted token format: hex-encoded ciphertext,
// initialization vector and GCM authentication tag
type EncryptedToken struct {
	Cipher string `json:"cipher"`
	IV     string `json:"iv"`
	Tag    string `json:"tag"`
}

// Vault encrypts and decrypts OAuth tokens with AES-256-GCM.
// The key is derived from the server-side secret via HKDF-SHA256 so the raw
// secret never acts as a cipher key directly.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a hex-encoded server-side secret.
// The decoded secret must be at least 32 bytes.
func New(hexSecret string) (*Vault, error) {
	secret, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault secret: %w", err)
	}
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("vault secret too short: need at least %d bytes, got %d", minSecretLen, len(secret))
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt encrypts a plaintext token with a fresh random IV per call
func (v *Vault) Encrypt(plaintext string) (EncryptedToken, error) {
	iv := make([]byte, gcmIVSize)
	if _, err := rand.Read(iv); err != nil {
		return EncryptedToken{}, fmt.Errorf("failed to generate IV: %w", err)
	}

	// Seal appends the tag to the ciphertext; split them for storage
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	cipherBytes := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return EncryptedToken{
		Cipher: hex.EncodeToString(cipherBytes),
		IV:     hex.EncodeToString(iv),
		Tag:    hex.EncodeToString(tag),
	}, nil
}

// Decrypt verifies the authentication tag and returns the plaintext token.
// Any tamper, wrong key, or malformed input fails closed with
// domain.ErrDecryptFailed; cipher internals are never surfaced.
func (v *Vault) Decrypt(token EncryptedToken) (string, error) {
	cipherBytes, err := hex.DecodeString(token.Cipher)
	if err != nil {
		return "", domain.ErrDecryptFailed
	}
	iv, err := hex.DecodeString(token.IV)
	if err != nil || len(iv) != gcmIVSize {
		return "", domain.ErrDecryptFailed
	}
	tag, err := hex.DecodeString(token.Tag)
	if err != nil || len(tag) != gcmTagSize {
		return "", domain.ErrDecryptFailed
	}

	plaintext, err := v.aead.Open(nil, iv, append(cipherBytes, tag...), nil)
	if err != nil {
		return "", domain.ErrDecryptFailed
	}

	return string(plaintext), nil
}

// IsDecryptError reports whether err is the vault's fail-closed error
func IsDecryptError(err error) bool {
	return errors.Is(err, domain.ErrDecryptFailed)
}
