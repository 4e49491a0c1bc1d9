// Package cloud loads the shared AWS configuration used by the S3, SQS,
// DynamoDB and Lambda adapters.
package cloud

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rotisserie/eris"
)

// Options selects region, optional static credentials and an optional
// endpoint override (localstack, MinIO).
type Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Load resolves an aws.Config from the default chain, overriding region and
// credentials when given.
func Load(ctx context.Context, o Options) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if o.Region != "" {
		opts = append(opts, awsconfig.WithRegion(o.Region))
	}
	if o.AccessKeyID != "" && o.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, eris.Wrap(err, "cloud: load aws config")
	}
	return cfg, nil
}

// BaseEndpoint returns the endpoint override as an *string for client
// options, or nil when unset.
func (o Options) BaseEndpoint() *string {
	if o.Endpoint == "" {
		return nil
	}
	return aws.String(o.Endpoint)
}
