package store

import (
	"errors"
	"fmt"

	"github.com/systmms/kmsenv/internal/envfile"
)

// ErrMissingDataKey matches any *MissingDataKeyError via errors.Is.
var ErrMissingDataKey = errors.New(envfile.DataKeyName + " not found")

// MissingDataKeyError is returned when an operation needs KMS_DATA_KEY and
// the file does not have one.
type MissingDataKeyError struct {
	Path string
}

func (e *MissingDataKeyError) Error() string {
	return fmt.Sprintf("%s not found in %s", envfile.DataKeyName, e.Path)
}

func (e *MissingDataKeyError) Is(target error) bool {
	return target == ErrMissingDataKey
}

// IOError wraps a failed read or write of the secrets file.
type IOError struct {
	Op   string // read, write
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
