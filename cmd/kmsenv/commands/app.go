package commands

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/systmms/kmsenv/internal/awsclient"
	"github.com/systmms/kmsenv/internal/config"
	"github.com/systmms/kmsenv/internal/kms"
	"github.com/systmms/kmsenv/internal/metrics"
	"github.com/systmms/kmsenv/internal/store"
)

// STSAPI is the subset of the STS client used by doctor.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// GlobalFlags are the persistent flags shared by every command.
type GlobalFlags struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// App carries what commands need beyond their own flags. The client fields
// replace the real AWS clients when set.
type App struct {
	Config  *config.Config
	Flags   GlobalFlags
	Metrics *metrics.Metrics

	KMSClient kms.ClientAPI
	STSClient STSAPI

	Getenv  func(string) string
	Environ func() []string
}

func (a *App) getenv(key string) string {
	if a.Getenv != nil {
		return a.Getenv(key)
	}
	return os.Getenv(key)
}

func (a *App) environ() []string {
	if a.Environ != nil {
		return a.Environ()
	}
	return os.Environ()
}

// settings merges command flags with the global flags, environment and
// configuration file.
func (a *App) settings(keyID, file string) config.Settings {
	return a.Config.Resolve(config.Overrides{
		KeyID:    keyID,
		File:     file,
		Region:   a.Flags.Region,
		Profile:  a.Flags.Profile,
		Endpoint: a.Flags.Endpoint,
	}, a.getenv)
}

func (a *App) awsOptions(s config.Settings) awsclient.Options {
	return awsclient.Options{
		Region:          s.Region,
		Profile:         s.Profile,
		AccessKeyID:     a.Flags.AccessKeyID,
		SecretAccessKey: a.Flags.SecretAccessKey,
		Endpoint:        s.Endpoint,
	}
}

func (a *App) adapter(ctx context.Context, s config.Settings) (*kms.AWSAdapter, error) {
	opts := []kms.Option{
		kms.WithLogger(a.Config.Logger),
		kms.WithMetrics(a.Metrics),
	}
	if a.KMSClient != nil {
		opts = append(opts, kms.WithClient(a.KMSClient))
	}
	return kms.NewAWSAdapter(ctx, a.awsOptions(s), opts...)
}

func (a *App) store(ctx context.Context, s config.Settings) (*store.Store, error) {
	adapter, err := a.adapter(ctx, s)
	if err != nil {
		return nil, err
	}
	return store.New(adapter,
		store.WithLogger(a.Config.Logger),
		store.WithMetrics(a.Metrics),
	), nil
}

func (a *App) sts(ctx context.Context, s config.Settings) (STSAPI, error) {
	if a.STSClient != nil {
		return a.STSClient, nil
	}
	awsOpts := a.awsOptions(s)
	cfg, err := awsclient.LoadConfig(ctx, awsOpts)
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(cfg, func(o *sts.Options) {
		if awsOpts.Endpoint != "" {
			o.BaseEndpoint = aws.String(awsOpts.Endpoint)
		}
	}), nil
}
