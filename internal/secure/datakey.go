package secure

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// KeySize is the length of an AES-256 data key.
const KeySize = 32

var (
	// ErrKeySize is returned when key material is not exactly KeySize bytes.
	ErrKeySize = errors.New("data key must be 32 bytes")

	// ErrDestroyed is returned when a destroyed DataKey is used.
	ErrDestroyed = errors.New("data key has been destroyed")
)

// DataKey is plaintext AES-256 key material kept in a memguard enclave.
// It lives for the duration of one operation and is never persisted.
type DataKey struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex
	// destroyed allows idempotent Destroy calls and rejects use after destroy
	destroyed bool
}

// NewDataKey moves b into protected memory. b is wiped on success; on
// error it is left untouched.
func NewDataKey(b []byte) (*DataKey, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrKeySize, len(b))
	}

	// NewEnclave encrypts the data and wipes the source slice
	return &DataKey{enclave: memguard.NewEnclave(b)}, nil
}

// Use decrypts the key into a locked buffer and passes its bytes to fn. The
// buffer is destroyed when fn returns, so fn must not retain the slice.
func (k *DataKey) Use(fn func(key []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.destroyed {
		return ErrDestroyed
	}

	locked, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open data key enclave: %w", err)
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Destroy drops the enclave. It is safe to call more than once.
//
// For complete cleanup of all memguard data at process exit, call
// memguard.Purge() from main.
func (k *DataKey) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	k.enclave = nil
	k.destroyed = true
}

// String implements fmt.Stringer and never reveals key material.
func (k *DataKey) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v.
func (k *DataKey) GoString() string {
	return "[REDACTED]"
}

// Format makes every verb, including %x and %v, print the redaction marker.
func (k *DataKey) Format(f fmt.State, verb rune) {
	_, _ = f.Write([]byte("[REDACTED]"))
}
