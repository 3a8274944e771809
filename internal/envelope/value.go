package envelope

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Prefix marks a value as encrypted.
	Prefix = "secure:"

	ivDelimiter = "$"
	ivSize      = 16
)

// Value is a decoded encrypted value, either Current or Legacy.
type Value interface {
	// Encode renders the value back to its secure:-prefixed text form.
	Encode() string
	isValue()
}

// Current carries its own random IV.
type Current struct {
	IV         []byte
	Ciphertext []byte
}

func (Current) isValue() {}

func (v Current) Encode() string {
	return Prefix + hex.EncodeToString(v.IV) + ivDelimiter + hex.EncodeToString(v.Ciphertext)
}

// Legacy is the deprecated encoding with a key-derived IV.
type Legacy struct {
	Ciphertext []byte
}

func (Legacy) isValue() {}

func (v Legacy) Encode() string {
	return Prefix + hex.EncodeToString(v.Ciphertext)
}

// IsEncrypted reports whether s carries the secure: prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// IsLegacy reports whether s is a secure: value in the deprecated encoding
// without an IV.
func IsLegacy(s string) bool {
	return IsEncrypted(s) && !strings.Contains(strings.TrimPrefix(s, Prefix), ivDelimiter)
}

// ParseValue decodes a secure:-prefixed string. Dispatch is on the first '$';
// ciphertext hex never contains one, so anything after it belongs to the
// ciphertext field.
func ParseValue(s string) (Value, error) {
	if !IsEncrypted(s) {
		return nil, &DecryptionError{Reason: "value is not secure:-prefixed"}
	}
	body := strings.TrimPrefix(s, Prefix)

	ivHex, ctHex, current := strings.Cut(body, ivDelimiter)
	if !current {
		ct, err := decodeHex(body, "ciphertext")
		if err != nil {
			return nil, err
		}
		return Legacy{Ciphertext: ct}, nil
	}

	iv, err := decodeHex(ivHex, "iv")
	if err != nil {
		return nil, err
	}
	if len(iv) != ivSize {
		return nil, &DecryptionError{Reason: fmt.Sprintf("iv must be %d bytes, got %d", ivSize, len(iv))}
	}
	// An empty plaintext encrypts to an empty ciphertext.
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, &DecryptionError{Reason: "malformed ciphertext hex", Err: err}
	}
	return Current{IV: iv, Ciphertext: ct}, nil
}

func decodeHex(s, field string) ([]byte, error) {
	if s == "" {
		return nil, &DecryptionError{Reason: "empty " + field}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &DecryptionError{Reason: "malformed " + field + " hex", Err: err}
	}
	return b, nil
}
