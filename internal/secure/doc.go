// Package secure holds plaintext data keys in protected memory.
//
// A DataKey wraps a memguard enclave, so the 32 bytes of AES-256 key material
// returned by KMS are:
//
//   - Encrypted at rest in memory (XSalsa20Poly1305)
//   - Protected from swapping via mlock
//   - Wiped from the buffer they were handed in from
//
// The key is only ever exposed inside DataKey.Use, for the duration of a
// single callback:
//
//	key, err := secure.NewDataKey(plaintext) // plaintext is wiped
//	if err != nil {
//	    return err
//	}
//	defer key.Destroy()
//
//	err = key.Use(func(b []byte) error {
//	    return encryptSomething(b)
//	})
//
// A DataKey formats as [REDACTED] with every fmt verb, so accidentally
// passing one to a logger does not leak it.
//
// # Platform Behavior
//
// Memory locking behavior varies by platform:
//
//   - Linux: Requires RLIMIT_MEMLOCK to be set appropriately
//   - macOS: Works out of the box
//   - Windows: Uses VirtualLock
//
// It does NOT protect against attackers with root access to the running
// process or hardware-level attacks.
package secure
