// Package awsclient loads the AWS SDK configuration shared by the KMS and
// STS clients.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Options selects region and credentials. Zero values fall through to the
// SDK default chain (env vars, shared config, IMDS).
type Options struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Endpoint overrides the service endpoint, e.g. for LocalStack
	Endpoint string
}

// HasStaticCredentials reports whether both halves of a static key pair are set.
func (o Options) HasStaticCredentials() bool {
	return o.AccessKeyID != "" && o.SecretAccessKey != ""
}

// Validate rejects half-specified static credentials.
func (o Options) Validate() error {
	if (o.AccessKeyID == "") != (o.SecretAccessKey == "") {
		return fmt.Errorf("access key id and secret access key must be given together")
	}
	return nil
}

// LoadConfig builds an aws.Config from opts.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	if err := opts.Validate(); err != nil {
		return aws.Config{}, err
	}

	var configOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.HasStaticCredentials() {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
