package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/systmms/kmsenv/internal/envelope"
	"github.com/systmms/kmsenv/internal/envfile"
	"github.com/systmms/kmsenv/internal/kms"
	"github.com/systmms/kmsenv/internal/store"
)

// Exit codes, one per error class.
const (
	ExitOK            = 0
	ExitGeneric       = 1
	ExitFormat        = 2
	ExitMissingKey    = 3
	ExitKeyManagement = 4
	ExitDecryption    = 5
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ExitCode maps err onto the process exit code for its class. Errors that
// carry their own code, such as a child process exit, keep it. Decryption is
// checked before key management because a rejected data key carries both.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) && coder.ExitCode() > 0 {
		return coder.ExitCode()
	}

	var (
		formatErr *envfile.FormatError
		decErr    *envelope.DecryptionError
		kmErr     *kms.KeyManagementError
	)
	switch {
	case errors.As(err, &formatErr):
		return ExitFormat
	case errors.Is(err, store.ErrMissingDataKey):
		return ExitMissingKey
	case errors.As(err, &decErr):
		return ExitDecryption
	case errors.As(err, &kmErr):
		return ExitKeyManagement
	}
	return ExitGeneric
}

// Explain wraps store errors in a UserError with a suggestion. Errors that
// are already user-facing are returned unchanged.
func Explain(err error) error {
	if err == nil {
		return nil
	}

	var (
		userErr   UserError
		configErr ConfigError
		formatErr *envfile.FormatError
		decErr    *envelope.DecryptionError
		kmErr     *kms.KeyManagementError
	)
	switch {
	case errors.As(err, &userErr), errors.As(err, &configErr):
		return err

	case errors.As(err, &formatErr):
		return UserError{
			Message:    "Malformed secrets file",
			Details:    err.Error(),
			Suggestion: "Every non-blank line must be KEY=VALUE",
			Err:        err,
		}

	case errors.Is(err, store.ErrMissingDataKey):
		return UserError{
			Message:    err.Error(),
			Suggestion: "Run 'kmsenv init --key-id <kms-key>' first",
			Err:        err,
		}

	case errors.As(err, &decErr):
		suggestion := "Check that the file was initialized with a key you can decrypt with"
		if decErr.Key != "" && decErr.Key != envfile.DataKeyName {
			suggestion = fmt.Sprintf("%s may have been encrypted under an earlier data key; re-add it", decErr.Key)
		}
		return UserError{
			Message:    "Decryption failed",
			Details:    err.Error(),
			Suggestion: suggestion,
			Err:        err,
		}

	case errors.As(err, &kmErr):
		return UserError{
			Message:    "KMS request failed",
			Details:    err.Error(),
			Suggestion: kmsSuggestion(kmErr),
			Err:        err,
		}

	case errors.Is(err, fs.ErrNotExist):
		return UserError{
			Message:    "File not found",
			Details:    err.Error(),
			Suggestion: "Check --file, or run 'kmsenv init' to create it",
			Err:        err,
		}

	case errors.Is(err, fs.ErrPermission):
		return UserError{
			Message:    "Permission denied",
			Details:    err.Error(),
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}
	return err
}

func kmsSuggestion(err *kms.KeyManagementError) string {
	switch err.Kind {
	case kms.KindNotFound:
		return "Verify the key id or alias and the region. List keys with: 'aws kms list-aliases'"
	case kms.KindPermissionDenied:
		return fmt.Sprintf("Check AWS credentials and IAM permissions for kms:%s, or whether the key is disabled", err.Op)
	case kms.KindThrottled:
		return "AWS rate limit exceeded. Wait a moment and try again"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "credentials") {
		return "Configure AWS credentials: 'aws configure', set AWS_PROFILE, or pass --access-key-id/--secret-access-key"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network, --region and --endpoint"
	}
	return "Try again; if it persists run 'kmsenv doctor'"
}
