package kms_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/kmsenv/internal/awsclient"
	"github.com/systmms/kmsenv/internal/envelope"
	"github.com/systmms/kmsenv/internal/kms"
	"github.com/systmms/kmsenv/internal/metrics"
	"github.com/systmms/kmsenv/tests/fakes"
)

const testKeyARN = "arn:aws:kms:eu-west-1:123456789012:key/1234abcd-12ab-34cd-56ef-1234567890ab"

func newAdapter(t *testing.T, fake *fakes.FakeKMSClient, opts ...kms.Option) *kms.AWSAdapter {
	t.Helper()

	opts = append([]kms.Option{kms.WithClient(fake)}, opts...)
	a, err := kms.NewAWSAdapter(context.Background(), awsclient.Options{}, opts...)
	require.NoError(t, err)
	return a
}

func TestGenerateDataKey(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKMSClient()
	fake.AddKey(testKeyARN, "alias/app")
	a := newAdapter(t, fake)

	gen, err := a.GenerateDataKey(context.Background(), "alias/app")
	require.NoError(t, err)
	defer gen.Plaintext.Destroy()

	assert.NotEmpty(t, gen.ProtectedBlob)
	assert.Equal(t, "eu-west-1", gen.Region)
	assert.Equal(t, testKeyARN, gen.KeyID)

	// The protected blob unwraps to the same plaintext
	again, err := a.DecryptDataKey(context.Background(), gen.ProtectedBlob)
	require.NoError(t, err)
	defer again.Destroy()

	var first, second []byte
	require.NoError(t, gen.Plaintext.Use(func(b []byte) error { first = bytes.Clone(b); return nil }))
	require.NoError(t, again.Use(func(b []byte) error { second = bytes.Clone(b); return nil }))
	assert.Len(t, first, 32)
	assert.Equal(t, first, second)
}

func TestGenerateDataKey_RegionUnknown(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKMSClient()
	fake.GenerateDataKeyFunc = func(ctx context.Context, params *awskms.GenerateDataKeyInput) (*awskms.GenerateDataKeyOutput, error) {
		return &awskms.GenerateDataKeyOutput{
			CiphertextBlob: []byte("blob"),
			Plaintext:      bytes.Repeat([]byte{1}, 32),
		}, nil
	}
	a := newAdapter(t, fake)

	gen, err := a.GenerateDataKey(context.Background(), "alias/app")
	require.NoError(t, err)
	defer gen.Plaintext.Destroy()

	assert.Empty(t, gen.Region)
	assert.Equal(t, "alias/app", gen.KeyID)
}

func TestGenerateDataKey_RegionFromRequestedARN(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKMSClient()
	fake.GenerateDataKeyFunc = func(ctx context.Context, params *awskms.GenerateDataKeyInput) (*awskms.GenerateDataKeyOutput, error) {
		return &awskms.GenerateDataKeyOutput{
			CiphertextBlob: []byte("blob"),
			KeyId:          aws.String("1234abcd"),
			Plaintext:      bytes.Repeat([]byte{1}, 32),
		}, nil
	}
	a := newAdapter(t, fake)

	gen, err := a.GenerateDataKey(context.Background(), "arn:aws:kms:ap-south-1:123456789012:alias/app")
	require.NoError(t, err)
	defer gen.Plaintext.Destroy()

	assert.Equal(t, "ap-south-1", gen.Region)
}

func TestGenerateDataKey_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind kms.Kind
		sentinel error
	}{
		{
			name:     "not found",
			err:      &types.NotFoundException{Message: aws.String("nope")},
			wantKind: kms.KindNotFound,
			sentinel: kms.ErrNotFound,
		},
		{
			name:     "access denied",
			err:      &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"},
			wantKind: kms.KindPermissionDenied,
			sentinel: kms.ErrPermissionDenied,
		},
		{
			name:     "disabled key",
			err:      &types.DisabledException{Message: aws.String("disabled")},
			wantKind: kms.KindPermissionDenied,
			sentinel: kms.ErrPermissionDenied,
		},
		{
			name:     "throttled",
			err:      &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"},
			wantKind: kms.KindThrottled,
			sentinel: kms.ErrThrottled,
		},
		{
			name:     "limit exceeded",
			err:      &types.LimitExceededException{Message: aws.String("limit")},
			wantKind: kms.KindThrottled,
			sentinel: kms.ErrThrottled,
		},
		{
			name:     "transient",
			err:      &types.KMSInternalException{Message: aws.String("oops")},
			wantKind: kms.KindTransient,
			sentinel: kms.ErrTransient,
		},
		{
			name:     "network",
			err:      errors.New("dial tcp: connection refused"),
			wantKind: kms.KindTransient,
			sentinel: kms.ErrTransient,
		},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := fakes.NewFakeKMSClient()
			fake.AddKey(testKeyARN)
			fake.AddError(fakes.OpGenerateDataKey, tt.err)
			a := newAdapter(t, fake)

			_, err := a.GenerateDataKey(context.Background(), testKeyARN)
			require.Error(t, err)

			var kmErr *kms.KeyManagementError
			require.ErrorAs(t, err, &kmErr)
			assert.Equal(t, tt.wantKind, kmErr.Kind)
			assert.Equal(t, "GenerateDataKey", kmErr.Op)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), testKeyARN)
			assert.Equal(t, 1, fake.CallCount(fakes.OpGenerateDataKey), "no local retry")
		})
	}
}

func TestGenerateDataKey_UnknownKey(t *testing.T) {
	t.Parallel()

	a := newAdapter(t, fakes.NewFakeKMSClient())

	_, err := a.GenerateDataKey(context.Background(), "alias/missing")
	assert.ErrorIs(t, err, kms.ErrNotFound)
}

func TestDecryptDataKey_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "invalid ciphertext", err: &types.InvalidCiphertextException{Message: aws.String("bad")}},
		{name: "incorrect key", err: &types.IncorrectKeyException{Message: aws.String("wrong key")}},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDeniedException"}},
		{name: "revoked key", err: &types.KMSInvalidStateException{Message: aws.String("pending deletion")}},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := fakes.NewFakeKMSClient()
			fake.AddError(fakes.OpDecrypt, tt.err)
			a := newAdapter(t, fake)

			_, err := a.DecryptDataKey(context.Background(), []byte("blob"))
			var de *envelope.DecryptionError
			require.ErrorAs(t, err, &de)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecryptDataKey_ServiceFailuresAreKeyManagementErrors(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKMSClient()
	fake.AddError(fakes.OpDecrypt, &smithy.GenericAPIError{Code: "ThrottlingException"})
	a := newAdapter(t, fake)

	_, err := a.DecryptDataKey(context.Background(), []byte("blob"))

	var de *envelope.DecryptionError
	assert.False(t, errors.As(err, &de))
	assert.ErrorIs(t, err, kms.ErrThrottled)
}

func TestDecryptDataKey_Malformed(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKMSClient()
	fake.AddDataKey([]byte("short"), []byte("only-16-bytes!!!"), testKeyARN)
	a := newAdapter(t, fake)

	_, err := a.DecryptDataKey(context.Background(), nil)
	var de *envelope.DecryptionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 0, fake.CallCount(fakes.OpDecrypt))

	_, err = a.DecryptDataKey(context.Background(), []byte("short"))
	require.ErrorAs(t, err, &de)
	assert.Contains(t, err.Error(), "32 bytes")

	_, err = a.DecryptDataKey(context.Background(), []byte("never-issued"))
	require.ErrorAs(t, err, &de)
}

func TestDescribeKey(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKMSClient()
	fake.AddKey(testKeyARN, "alias/app")
	a := newAdapter(t, fake)

	info, err := a.DescribeKey(context.Background(), "alias/app")
	require.NoError(t, err)
	assert.Equal(t, testKeyARN, info.ARN)
	assert.Equal(t, "1234abcd-12ab-34cd-56ef-1234567890ab", info.KeyID)
	assert.Equal(t, "eu-west-1", info.Region)
	assert.True(t, info.Enabled)
	assert.Equal(t, "Enabled", info.State)

	_, err = a.DescribeKey(context.Background(), "alias/other")
	assert.ErrorIs(t, err, kms.ErrNotFound)
}

func TestAdapterRecordsMetrics(t *testing.T) {
	t.Parallel()

	fake := fakes.NewFakeKMSClient()
	fake.AddKey(testKeyARN)
	m := metrics.New()
	a := newAdapter(t, fake, kms.WithMetrics(m))

	gen, err := a.GenerateDataKey(context.Background(), testKeyARN)
	require.NoError(t, err)
	gen.Plaintext.Destroy()
	_, err = a.DecryptDataKey(context.Background(), []byte("unknown"))
	require.Error(t, err)

	expected := `
# HELP kmsenv_kms_calls_total Remote KMS calls by call and result
# TYPE kmsenv_kms_calls_total counter
kmsenv_kms_calls_total{call="Decrypt",result="error"} 1
kmsenv_kms_calls_total{call="GenerateDataKey",result="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "kmsenv_kms_calls_total"))
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not-found", kms.KindNotFound.String())
	assert.Equal(t, "permission-denied", kms.KindPermissionDenied.String())
	assert.Equal(t, "throttled", kms.KindThrottled.String())
	assert.Equal(t, "transient", kms.KindTransient.String())
}
