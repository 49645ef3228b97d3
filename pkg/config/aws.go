package config

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/theory-cloud/tabletheory/pkg/session"

	"github.com/theory-cloud/redrive"
)

// loadOptions turns the aws section into SDK load options. Static credentials are meant
// for local endpoints such as DynamoDB Local.
func (c AWSConfig) loadOptions() []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(c.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	}
	return opts
}

// LoadAWS resolves an aws.Config from the default chain plus the aws section.
func (c Config) LoadAWS(ctx context.Context) (aws.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, c.AWS.loadOptions()...)
	if err != nil {
		return aws.Config{}, redrive.NewFatalConfigurationError("load aws config", err)
	}
	if endpoint := strings.TrimSpace(c.AWS.Endpoint); endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}
	return cfg, nil
}

// TableSession is the TableTheory session for the configured region and endpoint.
func (c Config) TableSession() session.Config {
	region := strings.TrimSpace(c.AWS.Region)
	if region == "" {
		region = "us-east-1"
	}
	return session.Config{
		Region:           region,
		Endpoint:         strings.TrimSpace(c.AWS.Endpoint),
		AWSConfigOptions: c.AWS.loadOptions(),
	}
}
