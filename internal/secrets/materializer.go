// Package secrets reveals and conceals values of secret fields.
//
// A secret field holds either plaintext or an "enc:v1:" envelope. Envelopes
// are decrypted with a Cipher that is built on first use, so a process
// without a decryption key only fails when it actually meets ciphertext.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/internal/logging"
	"github.com/systmms/bootcfg/pkg/backend"
)

// ErrPlaintextSecret is returned when plaintext is found but only encrypted
// values are accepted.
var ErrPlaintextSecret = errors.New("secret is not encrypted")

// CipherFactory builds a cipher from a passphrase.
type CipherFactory func(passphrase []byte) (Cipher, error)

// Materializer is the boundary secret values cross in plaintext.
type Materializer struct {
	keys             KeySource
	factory          CipherFactory
	requireEncrypted bool
	logger           *logging.Logger

	mu     sync.Mutex
	cipher Cipher
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithCipher injects a ready cipher; no key source is consulted.
func WithCipher(c Cipher) Option {
	return func(m *Materializer) {
		m.cipher = c
	}
}

// WithKeySource sets where the passphrase comes from.
func WithKeySource(ks KeySource) Option {
	return func(m *Materializer) {
		m.keys = ks
	}
}

// WithCipherFactory replaces the default XChaCha20-Poly1305 cipher.
func WithCipherFactory(f CipherFactory) Option {
	return func(m *Materializer) {
		m.factory = f
	}
}

// RequireEncrypted rejects secret values without an envelope.
func RequireEncrypted(require bool) Option {
	return func(m *Materializer) {
		m.requireEncrypted = require
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Materializer) {
		m.logger = l
	}
}

// New creates a Materializer. Without options it accepts plaintext and fails
// on any envelope.
func New(opts ...Option) *Materializer {
	m := &Materializer{
		factory: func(passphrase []byte) (Cipher, error) {
			return NewPassphraseCipher(passphrase)
		},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// getCipher returns the cipher, building it from the key source on first use.
// A missing key is a ConfigError. Failures are not cached.
func (m *Materializer) getCipher(ctx context.Context) (Cipher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cipher != nil {
		return m.cipher, nil
	}
	if m.keys == nil {
		return nil, apperrors.ConfigError{
			Field:      "secrets.key_source",
			Message:    "encrypted secret found but no decryption key is configured",
			Suggestion: "Set secrets.key_source in bootcfg.yaml or export BOOTCFG_KEY",
		}
	}

	passphrase, err := m.keys.Key(ctx)
	if err != nil {
		return nil, apperrors.ConfigError{
			Field:      "secrets.key_source",
			Value:      m.keys.Describe(),
			Message:    fmt.Sprintf("cannot load decryption key: %v", err),
			Suggestion: "Provide the key or re-encrypt the secrets with 'bootcfg encrypt'",
		}
	}

	c, err := m.factory(passphrase)
	if err != nil {
		return nil, apperrors.ConfigError{
			Field:   "secrets.key_source",
			Value:   m.keys.Describe(),
			Message: fmt.Sprintf("cannot build cipher: %v", err),
		}
	}
	m.logger.Debug("secret cipher initialised from %s", m.keys.Describe())
	m.cipher = c
	return c, nil
}

// Reveal turns a raw secret field value into a sealed Secret.
//
// Plaintext passes through unless RequireEncrypted is set. Errors wrapping a
// ConfigError are fatal; anything else means this one value is unusable.
func (m *Materializer) Reveal(ctx context.Context, raw string) (backend.Secret, error) {
	if !IsEnvelope(raw) {
		if m.requireEncrypted {
			return backend.Secret{}, ErrPlaintextSecret
		}
		return backend.NewSecret(raw), nil
	}

	c, err := m.getCipher(ctx)
	if err != nil {
		return backend.Secret{}, err
	}

	ciphertext, err := DecodeEnvelope(raw)
	if err != nil {
		return backend.Secret{}, err
	}
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		return backend.Secret{}, err
	}
	return backend.NewSecretBytes(plaintext), nil
}

// Conceal encrypts plaintext into an envelope.
func (m *Materializer) Conceal(ctx context.Context, plaintext string) (string, error) {
	c, err := m.getCipher(ctx)
	if err != nil {
		return "", err
	}
	ciphertext, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt value: %w", err)
	}
	return EncodeEnvelope(ciphertext), nil
}

// Ready reports whether a cipher is available without failing.
func (m *Materializer) Ready(ctx context.Context) error {
	_, err := m.getCipher(ctx)
	return err
}
