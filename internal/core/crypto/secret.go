package crypto

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
)

var (
	processKeyOnce sync.Once
	processKey     []byte
	processKeyErr  error
)

func sealingKey() ([]byte, error) {
	processKeyOnce.Do(func() {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			processKeyErr = fmt.Errorf("generate sealing key: %w", err)
			return
		}
		processKey = key
	})
	return processKey, processKeyErr
}

// Secret is an opaque credential handle. The plaintext never leaves the
// handle except inside the callback passed to Reveal.
type Secret struct {
	sealed []byte
}

// NewSecret seals plaintext. The caller should drop its own copy.
func NewSecret(plaintext []byte) (*Secret, error) {
	key, err := sealingKey()
	if err != nil {
		return nil, err
	}
	sealed, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}
	return &Secret{sealed: sealed}, nil
}

// Reveal opens the secret, passes the plaintext to fn and zeroes it afterwards.
// fn must not retain the slice.
func (s *Secret) Reveal(fn func(plaintext []byte) error) error {
	if s == nil || s.sealed == nil {
		return fn(nil)
	}
	key, err := sealingKey()
	if err != nil {
		return err
	}
	plaintext, err := Decrypt(s.sealed, key)
	if err != nil {
		return fmt.Errorf("open secret: %w", err)
	}
	defer clear(plaintext)
	return fn(plaintext)
}

// IsEmpty reports whether the handle holds nothing.
func (s *Secret) IsEmpty() bool {
	return s == nil || s.sealed == nil
}

// String keeps secrets out of logs and fmt output.
func (s *Secret) String() string {
	return "[redacted]"
}

// GoString covers %#v.
func (s *Secret) GoString() string {
	return "crypto.Secret{[redacted]}"
}

// LogValue keeps secrets out of slog output.
func (s *Secret) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}
