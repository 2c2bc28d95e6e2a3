package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// ErrNoKey is returned by a KeySource that has no key to offer.
var ErrNoKey = errors.New("no decryption key available")

// KeySource yields the passphrase used to build the default cipher.
type KeySource interface {
	Key(ctx context.Context) ([]byte, error)
	Describe() string
}

// EnvKey reads the passphrase from an environment variable.
type EnvKey string

// Key implements KeySource.
func (k EnvKey) Key(context.Context) ([]byte, error) {
	v, ok := os.LookupEnv(string(k))
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrNoKey, string(k))
	}
	return []byte(v), nil
}

// Describe implements KeySource.
func (k EnvKey) Describe() string { return "env:" + string(k) }

// SnapshotKey reads the passphrase from an environment snapshot, so a key
// delivered by a dotenv file or a remote source counts. The process
// environment is consulted when the snapshot does not carry it.
type SnapshotKey struct {
	Name    string
	Environ func() map[string]string
}

// Key implements KeySource.
func (k SnapshotKey) Key(ctx context.Context) ([]byte, error) {
	if k.Environ != nil {
		if v := k.Environ()[k.Name]; v != "" {
			return []byte(v), nil
		}
	}
	return EnvKey(k.Name).Key(ctx)
}

// Describe implements KeySource.
func (k SnapshotKey) Describe() string { return "env:" + k.Name }

// StaticKey is a fixed passphrase.
type StaticKey []byte

// Key implements KeySource.
func (k StaticKey) Key(context.Context) ([]byte, error) {
	if len(k) == 0 {
		return nil, ErrNoKey
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out, nil
}

// Describe implements KeySource.
func (k StaticKey) Describe() string { return "static" }

// KeyringKey reads the passphrase from the OS keyring.
type KeyringKey struct {
	Service string
	User    string
}

// Key implements KeySource.
func (k KeyringKey) Key(context.Context) ([]byte, error) {
	secret, err := keyring.Get(k.Service, k.User)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("%w: no keyring entry %s/%s", ErrNoKey, k.Service, k.User)
		}
		return nil, fmt.Errorf("keyring lookup failed: %w", err)
	}
	return []byte(secret), nil
}

// Describe implements KeySource.
func (k KeyringKey) Describe() string { return "keyring:" + k.Service + "/" + k.User }

// StoreKeyringKey saves passphrase under service/user.
func StoreKeyringKey(service, user, passphrase string) error {
	return keyring.Set(service, user, passphrase)
}
