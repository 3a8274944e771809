// Package envelope encrypts and decrypts individual secret values with a
// plaintext data key.
//
// The data key is protected by a KMS master key and unwrapped once per
// operation; every value is then encrypted locally with AES-256-CTR. Values
// are stored as
//
//	secure:<ivHex>$<ciphertextHex>
//
// where the IV is 16 fresh random bytes per call. Files written by older
// versions carry the legacy form
//
//	secure:<ciphertextHex>
//
// whose IV was derived from the key itself. Legacy values are still decoded
// but never produced; callers use IsLegacy to flag values that need
// re-encrypting.
package envelope
