package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/keywheel/keywheel"
)

// AWSResolver resolves secrets from AWS Secrets Manager. The secret name is
// the configured prefix followed by the credential id.
type AWSResolver struct {
	client *secretsmanager.Client
	prefix string
}

var _ keywheel.Resolver = (*AWSResolver)(nil)

// NewAWSResolver creates an AWSResolver using the default credential chain.
func NewAWSResolver(ctx context.Context, cfg keywheel.AWSConfig) (*AWSResolver, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	acfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("keywheel: aws config: %w", err)
	}

	return &AWSResolver{
		client: secretsmanager.NewFromConfig(acfg),
		prefix: cfg.Prefix,
	}, nil
}

// Resolve fetches the secret value from Secrets Manager.
func (r *AWSResolver) Resolve(ctx context.Context, credentialID string) (string, error) {
	name := r.prefix + credentialID

	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("aws %s: %w", name, keywheel.ErrSecretNotFound)
		}
		return "", fmt.Errorf("keywheel: aws get secret %s: %w", name, err)
	}

	v := aws.ToString(out.SecretString)
	if v == "" {
		return "", fmt.Errorf("aws %s: %w", name, keywheel.ErrSecretNotFound)
	}
	return v, nil
}

// Name returns "aws".
func (r *AWSResolver) Name() string { return "aws" }
