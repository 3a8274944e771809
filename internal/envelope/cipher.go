package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/systmms/kmsenv/internal/secure"
)

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

// AESCTR exposes Encrypt and Decrypt as methods.
type AESCTR struct{}

func (AESCTR) Encrypt(plaintext string, key []byte) (string, error) { return Encrypt(plaintext, key) }
func (AESCTR) Decrypt(encoded string, key []byte) (string, error)   { return Decrypt(encoded, key) }

// Encrypt encrypts plaintext with AES-256-CTR under key and a fresh random IV.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != secure.KeySize {
		return "", fmt.Errorf("%w: got %d", secure.ErrKeySize, len(key))
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	ct := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ct, []byte(plaintext))

	return Current{IV: iv, Ciphertext: ct}.Encode(), nil
}

// Decrypt decodes a secure:-prefixed value and decrypts it with key.
//
// CTR has no integrity check, so a wrong key usually yields garbage rather
// than an error. Output that is not valid UTF-8 is reported as a
// DecryptionError.
func Decrypt(encoded string, key []byte) (string, error) {
	if len(key) != secure.KeySize {
		return "", &DecryptionError{Reason: "invalid data key", Err: fmt.Errorf("%w: got %d", secure.ErrKeySize, len(key))}
	}

	v, err := ParseValue(encoded)
	if err != nil {
		return "", err
	}

	var (
		aesKey = key
		iv     []byte
		ct     []byte
	)
	switch v := v.(type) {
	case Current:
		iv, ct = v.IV, v.Ciphertext
	case Legacy:
		aesKey, iv = legacyKeyIV(key)
		ct = v.Ciphertext
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", &DecryptionError{Reason: "failed to create cipher", Err: err}
	}
	pt := make([]byte, len(ct))
	cipher.NewCTR(block, iv).XORKeyStream(pt, ct)

	if !utf8.Valid(pt) {
		return "", &DecryptionError{Reason: "plaintext is not valid UTF-8 (wrong data key?)"}
	}
	return string(pt), nil
}

// legacyKeyIV derives the cipher key and IV the way the deprecated
// password-based mode did: OpenSSL EVP_BytesToKey with MD5, no salt and a
// single round, using the data key bytes as the password.
func legacyKeyIV(password []byte) (key, iv []byte) {
	const keyLen, ivLen = 32, ivSize

	var (
		derived []byte
		prev    []byte
	)
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}
