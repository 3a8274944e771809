// Package store implements the secrets-file operations Initialize, Add,
// Show and Decrypt, plus Environ which decrypts an environment for a child
// process.
//
// Each operation is a straight line: at most one KMS round-trip, one read,
// an in-memory transform, and at most one write. Any failure returns before
// the write, so a file is never left half-updated by this package.
//
// There is no locking. Two processes running Add against the same file at
// the same time each read the same snapshot and the last writer wins,
// silently dropping the other's entries. Callers that need concurrent
// writers must serialise them externally.
//
// Re-running Initialize replaces KMS_DATA_KEY but does not re-encrypt
// existing secure: values, which then no longer decrypt. Initialize reports
// how many such values it left behind.
package store
