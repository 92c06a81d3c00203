package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	secretsmanagertypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"go.uber.org/zap"
)

const awsPreviousStage = "AWSPREVIOUS"

// AWSConfig contains configuration for the AWS Secrets Manager backend
type AWSConfig struct {
	Region string
	// Optional: AWS profile name (for local development)
	Profile string
	// Optional: Custom endpoint (for LocalStack testing)
	Endpoint string
	CacheTTL time.Duration
}

// AWSSecretsManager implements ports.SecretStore on AWS Secrets Manager.
type AWSSecretsManager struct {
	client *secretsmanager.Client
	logger *zap.Logger
	cache  *secretCache
}

// NewAWSSecretsManager loads the default credential chain and creates the backend.
func NewAWSSecretsManager(ctx context.Context, cfg AWSConfig, logger *zap.Logger) (*AWSSecretsManager, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOptions []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	logger.Info("AWS Secrets Manager backend initialized",
		zap.String("region", cfg.Region),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)

	return &AWSSecretsManager{
		client: secretsmanager.NewFromConfig(awsConfig, clientOptions...),
		logger: logger,
		cache:  newSecretCache(cfg.CacheTTL),
	}, nil
}

// GetSecret returns the AWSCURRENT version.
func (a *AWSSecretsManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached := a.cache.get(path); cached != nil {
		return cached, nil
	}

	secret, err := a.fetch(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(path)})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", path, err)
	}
	a.cache.set(path, secret)
	return secret, nil
}

// GetPreviousSecret returns the AWSPREVIOUS version, or nil if the secret was never rotated.
func (a *AWSSecretsManager) GetPreviousSecret(ctx context.Context, path string) (*ports.Secret, error) {
	key := path + "#" + awsPreviousStage
	if cached := a.cache.get(key); cached != nil {
		return cached, nil
	}

	secret, err := a.fetch(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(path),
		VersionStage: aws.String(awsPreviousStage),
	})
	if err != nil {
		var notFound *secretsmanagertypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get previous secret %s: %w", path, err)
	}
	a.cache.set(key, secret)
	return secret, nil
}

func (a *AWSSecretsManager) fetch(ctx context.Context, input *secretsmanager.GetSecretValueInput) (*ports.Secret, error) {
	start := time.Now()
	result, err := a.client.GetSecretValue(ctx, input)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Secret retrieved from AWS Secrets Manager",
		zap.String("secret_id", aws.ToString(input.SecretId)),
		zap.String("stage", aws.ToString(input.VersionStage)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &ports.Secret{
		Value:   aws.ToString(result.SecretString),
		Version: aws.ToString(result.VersionId),
	}, nil
}

var _ ports.SecretStore = (*AWSSecretsManager)(nil)
