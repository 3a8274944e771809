// Package kms is the thin contract kmsenv needs from a remote master-key
// service: mint a data key, and unwrap a protected data key.
//
// Every call is one round-trip. Retries are disabled on the SDK client so a
// throttled or failing request is surfaced to the caller immediately.
package kms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/systmms/kmsenv/internal/awsclient"
	"github.com/systmms/kmsenv/internal/envelope"
	"github.com/systmms/kmsenv/internal/envfile"
	"github.com/systmms/kmsenv/internal/logging"
	"github.com/systmms/kmsenv/internal/metrics"
	"github.com/systmms/kmsenv/internal/secure"
)

// Adapter generates and unwraps data keys.
type Adapter interface {
	GenerateDataKey(ctx context.Context, keyID string) (*GeneratedKey, error)
	DecryptDataKey(ctx context.Context, blob []byte) (*secure.DataKey, error)
}

// GeneratedKey is a freshly minted data key in both forms.
type GeneratedKey struct {
	// ProtectedBlob is the data key encrypted under the master key; safe to persist.
	ProtectedBlob []byte
	// Plaintext must be destroyed by the caller.
	Plaintext *secure.DataKey
	// Region is derived from the master key ARN, empty when unknown.
	Region string
	// KeyID is the resolved master key identifier reported by KMS.
	KeyID string
}

// ClientAPI is the subset of *kms.Client used here. It allows mocking in tests.
type ClientAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// AWSAdapter implements Adapter on AWS KMS.
type AWSAdapter struct {
	client  ClientAPI
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures an AWSAdapter.
type Option func(*AWSAdapter)

// WithClient sets a custom KMS client (for testing)
func WithClient(client ClientAPI) Option {
	return func(a *AWSAdapter) {
		a.client = client
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *logging.Logger) Option {
	return func(a *AWSAdapter) {
		a.logger = logger
	}
}

// WithMetrics records every KMS call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *AWSAdapter) {
		a.metrics = m
	}
}

// NewAWSAdapter creates an adapter. Without WithClient a real KMS client is
// built from awsOpts.
func NewAWSAdapter(ctx context.Context, awsOpts awsclient.Options, opts ...Option) (*AWSAdapter, error) {
	a := &AWSAdapter{logger: logging.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	if a.client != nil {
		return a, nil
	}

	cfg, err := awsclient.LoadConfig(ctx, awsOpts)
	if err != nil {
		return nil, err
	}
	a.client = kms.NewFromConfig(cfg, func(o *kms.Options) {
		o.RetryMaxAttempts = 1
		if awsOpts.Endpoint != "" {
			o.BaseEndpoint = aws.String(awsOpts.Endpoint)
		}
	})
	return a, nil
}

// GenerateDataKey mints a new AES-256 data key under keyID.
func (a *AWSAdapter) GenerateDataKey(ctx context.Context, keyID string) (*GeneratedKey, error) {
	a.logger.Debug("generating data key under %s", keyID)

	out, err := a.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	a.metrics.ObserveKMSCall("GenerateDataKey", err)
	if err != nil {
		return nil, newKeyManagementError("GenerateDataKey", keyID, err)
	}
	if len(out.CiphertextBlob) == 0 {
		return nil, &KeyManagementError{Op: "GenerateDataKey", KeyID: keyID, Err: fmt.Errorf("empty ciphertext blob in response")}
	}

	plaintext, err := secure.NewDataKey(out.Plaintext)
	if err != nil {
		return nil, &KeyManagementError{Op: "GenerateDataKey", KeyID: keyID, Err: err}
	}

	resolved := aws.ToString(out.KeyId)
	if resolved == "" {
		resolved = keyID
	}

	return &GeneratedKey{
		ProtectedBlob: out.CiphertextBlob,
		Plaintext:     plaintext,
		Region:        regionOf(resolved, keyID),
		KeyID:         resolved,
	}, nil
}

// DecryptDataKey unwraps a protected data key. Rejections by KMS and blobs
// that do not unwrap to 32 bytes are DecryptionErrors; throttling and other
// service failures are KeyManagementErrors.
func (a *AWSAdapter) DecryptDataKey(ctx context.Context, blob []byte) (*secure.DataKey, error) {
	if len(blob) == 0 {
		return nil, &envelope.DecryptionError{Key: envfile.DataKeyName, Reason: "empty protected data key"}
	}

	out, err := a.client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	a.metrics.ObserveKMSCall("Decrypt", err)
	if err != nil {
		kmErr := newKeyManagementError("Decrypt", "", err)
		if isRejection(err) {
			return nil, &envelope.DecryptionError{Key: envfile.DataKeyName, Reason: "master key rejected the data key", Err: kmErr}
		}
		return nil, kmErr
	}
	a.logger.Debug("data key unwrapped by %s", aws.ToString(out.KeyId))

	key, err := secure.NewDataKey(out.Plaintext)
	if err != nil {
		return nil, &envelope.DecryptionError{Key: envfile.DataKeyName, Reason: "unexpected data key length", Err: err}
	}
	return key, nil
}

// KeyInfo summarises DescribeKey for diagnostics.
type KeyInfo struct {
	KeyID   string
	ARN     string
	State   string
	Enabled bool
	Region  string
}

// DescribeKey looks up the master key. It backs the doctor command.
func (a *AWSAdapter) DescribeKey(ctx context.Context, keyID string) (*KeyInfo, error) {
	out, err := a.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	a.metrics.ObserveKMSCall("DescribeKey", err)
	if err != nil {
		return nil, newKeyManagementError("DescribeKey", keyID, err)
	}
	if out.KeyMetadata == nil {
		return nil, &KeyManagementError{Op: "DescribeKey", KeyID: keyID, Kind: KindNotFound, Err: fmt.Errorf("no key metadata in response")}
	}

	md := out.KeyMetadata
	keyARN := aws.ToString(md.Arn)
	return &KeyInfo{
		KeyID:   aws.ToString(md.KeyId),
		ARN:     keyARN,
		State:   string(md.KeyState),
		Enabled: md.Enabled,
		Region:  regionOf(keyARN, keyID),
	}, nil
}

// regionOf returns the region of the first identifier that is an ARN.
func regionOf(ids ...string) string {
	for _, id := range ids {
		if !arn.IsARN(id) {
			continue
		}
		parsed, err := arn.Parse(id)
		if err == nil && parsed.Region != "" {
			return parsed.Region
		}
	}
	return ""
}
