package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/systmms/bootcfg/internal/secure"
)

// EnvelopePrefix marks a value as ciphertext produced by a Cipher.
const EnvelopePrefix = "enc:v1:"

// Cipher encrypts and decrypts secret values.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// ErrMalformedEnvelope is returned for values that carry the prefix but
// cannot be decoded.
var ErrMalformedEnvelope = errors.New("malformed encrypted value")

// IsEnvelope reports whether s is an encrypted value.
func IsEnvelope(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), EnvelopePrefix)
}

// EncodeEnvelope wraps ciphertext for storage in an environment variable.
func EncodeEnvelope(ciphertext []byte) string {
	return EnvelopePrefix + base64.StdEncoding.EncodeToString(ciphertext)
}

// DecodeEnvelope unwraps a value produced by EncodeEnvelope.
func DecodeEnvelope(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, EnvelopePrefix) {
		return nil, ErrMalformedEnvelope
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, EnvelopePrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return data, nil
}

// Argon2id parameters for passphrase keys.
const (
	saltSize      = 16
	argonTime     = 1
	argonMemory   = 64 * 1024
	argonThreads  = 4
	derivedKeyLen = chacha20poly1305.KeySize
)

// PassphraseCipher is XChaCha20-Poly1305 under a key derived from a
// passphrase with Argon2id. Ciphertext layout is salt | nonce | sealed.
type PassphraseCipher struct {
	passphrase *secure.Sealed

	mu   sync.Mutex
	keys map[string][]byte
}

// NewPassphraseCipher keeps passphrase sealed in guarded memory and wipes
// the slice.
func NewPassphraseCipher(passphrase []byte) (*PassphraseCipher, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	return &PassphraseCipher{
		passphrase: secure.Seal(passphrase),
		keys:       make(map[string][]byte),
	}, nil
}

func (c *PassphraseCipher) key(salt []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if k, ok := c.keys[string(salt)]; ok {
		return k, nil
	}
	var k []byte
	err := c.passphrase.Use(func(pass []byte) error {
		k = argon2.IDKey(pass, salt, argonTime, argonMemory, argonThreads, derivedKeyLen)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open passphrase: %w", err)
	}
	c.keys[string(salt)] = k
	return k, nil
}

// Encrypt implements Cipher.
func (c *PassphraseCipher) Encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := c.key(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt implements Cipher.
func (c *PassphraseCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: too short", ErrMalformedEnvelope)
	}
	salt := ciphertext[:saltSize]
	nonce := ciphertext[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	sealed := ciphertext[saltSize+chacha20poly1305.NonceSizeX:]

	key, err := c.key(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.New("decryption failed: wrong key or corrupted value")
	}
	return plaintext, nil
}
