package kms

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"
)

// Kind classifies a remote key-management failure.
type Kind int

const (
	KindTransient Kind = iota
	KindNotFound
	KindPermissionDenied
	KindThrottled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindPermissionDenied:
		return "permission-denied"
	case KindThrottled:
		return "throttled"
	default:
		return "transient"
	}
}

// Sentinels matched by errors.Is against a *KeyManagementError.
var (
	ErrNotFound         = errors.New("kms key not found")
	ErrPermissionDenied = errors.New("kms permission denied")
	ErrThrottled        = errors.New("kms request throttled")
	ErrTransient        = errors.New("kms request failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindThrottled:
		return ErrThrottled
	default:
		return ErrTransient
	}
}

// KeyManagementError wraps a failed KMS call. It is never retried locally.
type KeyManagementError struct {
	Op    string // GenerateDataKey, Decrypt, DescribeKey
	KeyID string
	Kind  Kind
	Err   error
}

func (e *KeyManagementError) Error() string {
	target := ""
	if e.KeyID != "" {
		target = fmt.Sprintf(" for key %s", e.KeyID)
	}
	return fmt.Sprintf("kms %s%s failed (%s): %v", e.Op, target, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the SDK error.
func (e *KeyManagementError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

func newKeyManagementError(op, keyID string, err error) *KeyManagementError {
	return &KeyManagementError{Op: op, KeyID: keyID, Kind: classify(err), Err: err}
}

// classify maps SDK errors onto Kind. Modeled exceptions are checked first,
// then the generic API error code for the ones KMS does not model.
func classify(err error) Kind {
	var (
		notFound    *types.NotFoundException
		disabled    *types.DisabledException
		invalidArn  *types.InvalidArnException
		limit       *types.LimitExceededException
		unavailable *types.KeyUnavailableException
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &invalidArn):
		return KindNotFound
	case errors.As(err, &disabled):
		return KindPermissionDenied
	case errors.As(err, &limit):
		return KindThrottled
	case errors.As(err, &unavailable):
		return KindTransient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException",
			"ExpiredTokenException", "UnauthorizedOperation":
			return KindPermissionDenied
		case "ThrottlingException", "Throttling", "TooManyRequestsException", "RequestLimitExceeded":
			return KindThrottled
		}
	}
	return KindTransient
}

// isRejection reports whether KMS refused to decrypt the blob itself, as
// opposed to failing to answer.
func isRejection(err error) bool {
	var (
		invalidCiphertext *types.InvalidCiphertextException
		incorrectKey      *types.IncorrectKeyException
		invalidState      *types.KMSInvalidStateException
		invalidUsage      *types.InvalidKeyUsageException
	)
	if errors.As(err, &invalidCiphertext) || errors.As(err, &incorrectKey) ||
		errors.As(err, &invalidState) || errors.As(err, &invalidUsage) {
		return true
	}
	switch classify(err) {
	case KindNotFound, KindPermissionDenied:
		return true
	}
	return false
}
