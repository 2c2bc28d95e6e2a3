package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Sealed holds a secret value encrypted at rest in memory.
//
// The plaintext lives in a memguard enclave (XSalsa20Poly1305 under a
// session key kept in guarded, mlocked pages) and is only decrypted for the
// duration of Reveal. An empty value is represented without an enclave since
// memguard refuses to seal zero bytes.
type Sealed struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	empty     bool
	destroyed bool
}

// Seal copies data into a new enclave and wipes data.
func Seal(data []byte) *Sealed {
	if len(data) == 0 {
		return &Sealed{empty: true}
	}
	// NewEnclave wipes the source slice once the data is encrypted.
	return &Sealed{enclave: memguard.NewEnclave(data)}
}

// SealString seals a copy of s. The string itself cannot be wiped.
func SealString(s string) *Sealed {
	return Seal([]byte(s))
}

// Reveal decrypts the value and returns a copy of the plaintext as a string.
// A destroyed value reveals as "".
func (s *Sealed) Reveal() (string, error) {
	var out string
	err := s.Use(func(plain []byte) error {
		out = string(plain)
		return nil
	})
	return out, err
}

// Use decrypts the value into a short-lived locked buffer and passes its
// bytes to fn. The slice is wiped when fn returns and must not be retained.
// A destroyed or empty value passes an empty slice.
func (s *Sealed) Use(fn func(plain []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.empty {
		return fn(nil)
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Len reports the plaintext length without decrypting.
func (s *Sealed) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.empty {
		return 0
	}
	return s.enclave.Size()
}

// Destroy drops the enclave. Idempotent.
func (s *Sealed) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}

// Purge wipes every memguard session key and buffer. Call it on exit.
func Purge() {
	memguard.Purge()
}
