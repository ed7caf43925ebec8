// Package security seals provider tokens at rest with AES-GCM. Every token is
// bound to its (tenant, user, provider, table) context through the AEAD
// associated data, so a ciphertext copied to another row does not open.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-wearables/core"
)

const (
	NonceSize = 12
	tagSize   = 16
)

type Option func(*TokenCipher)

// WithRandReader replaces the nonce source. Tests use it for determinism.
func WithRandReader(reader io.Reader) Option {
	return func(c *TokenCipher) {
		if reader != nil {
			c.rand = reader
		}
	}
}

// TokenCipher encrypts with the keyring primary key and decrypts with any
// key still in the keyring.
type TokenCipher struct {
	keyring *Keyring
	rand    io.Reader
}

func NewTokenCipher(keyring *Keyring, opts ...Option) (*TokenCipher, error) {
	if keyring == nil {
		return nil, fmt.Errorf("security: keyring is required")
	}
	c := &TokenCipher{keyring: keyring, rand: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// NewTokenCipherFromKey builds a single-key cipher.
func NewTokenCipherFromKey(keyID string, keyMaterial []byte, opts ...Option) (*TokenCipher, error) {
	keyring, err := NewKeyring(keyID, keyMaterial)
	if err != nil {
		return nil, err
	}
	return NewTokenCipher(keyring, opts...)
}

func (c *TokenCipher) KeyID() string {
	if c == nil || c.keyring == nil {
		return ""
	}
	return c.keyring.PrimaryID()
}

// Encrypt returns base64(nonce || ciphertext || tag) with a fresh nonce.
func (c *TokenCipher) Encrypt(plaintext string, credentialContext core.CredentialContext) (string, error) {
	if c == nil || c.keyring == nil {
		return "", core.NewConfigurationError("security: token cipher is not configured")
	}
	aead, err := newAEAD(c.keyring.primary().key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", core.NewInternalError(err, "security: nonce generation failed")
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), credentialContext.AAD())
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt fails with a decryption error for wrong keys, wrong contexts and
// tampered data. Malformed input is reported as bad input.
func (c *TokenCipher) Decrypt(encoded string, credentialContext core.CredentialContext) (string, error) {
	if c == nil || c.keyring == nil {
		return "", core.NewConfigurationError("security: token cipher is not configured")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", core.NewBadInputError("security: ciphertext is not valid base64")
	}
	if len(raw) < NonceSize+tagSize {
		return "", core.NewBadInputError("security: ciphertext is too short")
	}
	nonce, sealed := raw[:NonceSize], raw[NonceSize:]
	aad := credentialContext.AAD()

	for _, version := range c.keyring.versions() {
		aead, err := newAEAD(version.key)
		if err != nil {
			return "", err
		}
		plaintext, openErr := aead.Open(nil, nonce, sealed, aad)
		if openErr == nil {
			return string(plaintext), nil
		}
	}
	return "", core.NewDecryptionFailedError("security: token authentication failed")
}

// EncryptToken seals access and refresh tokens independently. An empty
// refresh token stays empty.
func (c *TokenCipher) EncryptToken(token core.DecryptedToken, credentialContext core.CredentialContext) (core.EncryptedToken, error) {
	access, err := c.Encrypt(token.AccessToken, credentialContext)
	if err != nil {
		return core.EncryptedToken{}, err
	}
	out := core.EncryptedToken{AccessToken: access, KeyID: c.KeyID()}
	if token.RefreshToken != "" {
		refresh, err := c.Encrypt(token.RefreshToken, credentialContext)
		if err != nil {
			return core.EncryptedToken{}, err
		}
		out.RefreshToken = refresh
	}
	return out, nil
}

func (c *TokenCipher) DecryptToken(token core.EncryptedToken, credentialContext core.CredentialContext) (core.DecryptedToken, error) {
	access, err := c.Decrypt(token.AccessToken, credentialContext)
	if err != nil {
		return core.DecryptedToken{}, err
	}
	out := core.DecryptedToken{AccessToken: access}
	if strings.TrimSpace(token.RefreshToken) != "" {
		refresh, err := c.Decrypt(token.RefreshToken, credentialContext)
		if err != nil {
			return core.DecryptedToken{}, err
		}
		out.RefreshToken = refresh
	}
	return out, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, core.NewConfigurationError("security: invalid encryption key")
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, core.NewConfigurationError("security: gcm initialisation failed")
	}
	return aead, nil
}

// normalizeKey uses 16/24/32 byte keys as-is and derives anything else with SHA-256.
func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

// KeyFromBase64 decodes base64 key material, as typically held in env vars.
func KeyFromBase64(value string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, core.NewConfigurationError("security: encryption key is not valid base64")
	}
	return decoded, nil
}

var _ core.TokenCipher = (*TokenCipher)(nil)
