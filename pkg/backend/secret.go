package backend

import (
	"github.com/systmms/bootcfg/internal/secure"
)

const redacted = "[REDACTED]"

// Secret is a revealed secret field value. The plaintext stays sealed in
// guarded memory and is never printed or serialized.
type Secret struct {
	sealed *secure.Sealed
}

// NewSecret seals plaintext. The caller should not keep other copies.
func NewSecret(plaintext string) Secret {
	return Secret{sealed: secure.SealString(plaintext)}
}

// Reveal returns the plaintext.
func (s Secret) Reveal() (string, error) {
	if s.sealed == nil {
		return "", nil
	}
	return s.sealed.Reveal()
}

// IsZero reports whether the secret holds no value.
func (s Secret) IsZero() bool {
	return s.sealed == nil || s.sealed.Len() == 0
}

// Destroy drops the sealed value.
func (s Secret) Destroy() {
	if s.sealed != nil {
		s.sealed.Destroy()
	}
}

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// MarshalJSON implements json.Marshaler without exposing the value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalYAML implements yaml.Marshaler without exposing the value.
func (s Secret) MarshalYAML() (interface{}, error) {
	return redacted, nil
}

// MarshalText implements encoding.TextMarshaler without exposing the value.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// NewSecretBytes seals plaintext and wipes the slice.
func NewSecretBytes(plaintext []byte) Secret {
	return Secret{sealed: secure.Seal(plaintext)}
}
