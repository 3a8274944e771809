package fakes

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// KMSAPI defines the interface for AWS KMS operations
// This matches the subset of methods used by kms.AWSAdapter
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// STSAPI defines the interface for AWS STS operations used by doctor
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Operation names accepted by FakeKMSClient.AddError
const (
	OpGenerateDataKey = "GenerateDataKey"
	OpDecrypt         = "Decrypt"
	OpDescribeKey     = "DescribeKey"
)

// FakeKMSClient is an in-memory KMS. Data keys it generates can be decrypted
// again by the same instance.
type FakeKMSClient struct {
	mu sync.Mutex

	// Keys maps key ids and aliases to key ARNs
	Keys map[string]string
	// Errors maps operation names to errors to return
	Errors map[string]error
	// GenerateDataKeyFunc allows custom behavior for GenerateDataKey
	GenerateDataKeyFunc func(ctx context.Context, params *kms.GenerateDataKeyInput) (*kms.GenerateDataKeyOutput, error)
	// DecryptFunc allows custom behavior for Decrypt
	DecryptFunc func(ctx context.Context, params *kms.DecryptInput) (*kms.DecryptOutput, error)
	// DescribeKeyFunc allows custom behavior for DescribeKey
	DescribeKeyFunc func(ctx context.Context, params *kms.DescribeKeyInput) (*kms.DescribeKeyOutput, error)

	blobs map[string]dataKey
	calls map[string]int
}

type dataKey struct {
	keyARN    string
	plaintext []byte
}

// NewFakeKMSClient creates a new mock KMS client
func NewFakeKMSClient() *FakeKMSClient {
	return &FakeKMSClient{
		Keys:   make(map[string]string),
		Errors: make(map[string]error),
		blobs:  make(map[string]dataKey),
		calls:  make(map[string]int),
	}
}

// AddKey registers a master key under one or more identifiers
func (f *FakeKMSClient) AddKey(keyARN string, aliases ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Keys[keyARN] = keyARN
	for _, a := range aliases {
		f.Keys[a] = keyARN
	}
}

// AddDataKey seeds a protected blob that decrypts to plaintext
func (f *FakeKMSClient) AddDataKey(blob, plaintext []byte, keyARN string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.blobs[string(blob)] = dataKey{keyARN: keyARN, plaintext: append([]byte(nil), plaintext...)}
}

// AddError configures the mock to return an error for an operation
func (f *FakeKMSClient) AddError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Errors[op] = err
}

// CallCount returns how many times op was invoked
func (f *FakeKMSClient) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *FakeKMSClient) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++
	return f.Errors[op]
}

// GenerateDataKey mocks the GenerateDataKey operation
func (f *FakeKMSClient) GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	if err := f.begin(OpGenerateDataKey); err != nil {
		return nil, err
	}
	if f.GenerateDataKeyFunc != nil {
		return f.GenerateDataKeyFunc(ctx, params)
	}

	keyID := aws.ToString(params.KeyId)

	f.mu.Lock()
	defer f.mu.Unlock()

	keyARN, ok := f.Keys[keyID]
	if !ok {
		return nil, &types.NotFoundException{
			Message: aws.String(fmt.Sprintf("Key '%s' does not exist", keyID)),
		}
	}
	if params.KeySpec != types.DataKeySpecAes256 {
		return nil, fmt.Errorf("fake kms: unsupported key spec %q", params.KeySpec)
	}

	plaintext := make([]byte, 32)
	if _, err := rand.Read(plaintext); err != nil {
		return nil, err
	}
	blob := make([]byte, 64)
	if _, err := rand.Read(blob); err != nil {
		return nil, err
	}
	f.blobs[string(blob)] = dataKey{keyARN: keyARN, plaintext: plaintext}

	// Callers may wipe Plaintext, so hand out a copy
	return &kms.GenerateDataKeyOutput{
		CiphertextBlob: blob,
		KeyId:          aws.String(keyARN),
		Plaintext:      append([]byte(nil), plaintext...),
	}, nil
}

// Decrypt mocks the Decrypt operation
func (f *FakeKMSClient) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if err := f.begin(OpDecrypt); err != nil {
		return nil, err
	}
	if f.DecryptFunc != nil {
		return f.DecryptFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dk, ok := f.blobs[string(params.CiphertextBlob)]
	if !ok {
		return nil, &types.InvalidCiphertextException{
			Message: aws.String("The ciphertext refers to a customer master key that does not exist"),
		}
	}

	return &kms.DecryptOutput{
		KeyId:     aws.String(dk.keyARN),
		Plaintext: append([]byte(nil), dk.plaintext...),
	}, nil
}

// DescribeKey mocks the DescribeKey operation
func (f *FakeKMSClient) DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	if err := f.begin(OpDescribeKey); err != nil {
		return nil, err
	}
	if f.DescribeKeyFunc != nil {
		return f.DescribeKeyFunc(ctx, params)
	}

	keyID := aws.ToString(params.KeyId)

	f.mu.Lock()
	defer f.mu.Unlock()

	keyARN, ok := f.Keys[keyID]
	if !ok {
		return nil, &types.NotFoundException{
			Message: aws.String(fmt.Sprintf("Key '%s' does not exist", keyID)),
		}
	}

	shortID := keyARN
	if i := strings.LastIndex(keyARN, "/"); i >= 0 {
		shortID = keyARN[i+1:]
	}

	return &kms.DescribeKeyOutput{
		KeyMetadata: &types.KeyMetadata{
			KeyId:    aws.String(shortID),
			Arn:      aws.String(keyARN),
			KeyState: types.KeyStateEnabled,
			Enabled:  true,
		},
	}, nil
}

// FakeSTSClient is a mock implementation of STSAPI
type FakeSTSClient struct {
	Account string
	ARN     string
	UserID  string
	Err     error
}

// GetCallerIdentity mocks the GetCallerIdentity operation
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.ARN),
		UserId:  aws.String(f.UserID),
	}, nil
}
