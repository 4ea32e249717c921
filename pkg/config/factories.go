package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/swarmsync/internal/logger"
	"github.com/marmos91/swarmsync/pkg/engine"
	"github.com/marmos91/swarmsync/pkg/engine/local"
	"github.com/marmos91/swarmsync/pkg/share"
	"github.com/marmos91/swarmsync/pkg/share/badger"
	"github.com/marmos91/swarmsync/pkg/share/memory"
	shareS3 "github.com/marmos91/swarmsync/pkg/share/s3"
)

// CreateShareStore creates a share store based on configuration.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/share/memory (in-memory storage, ephemeral)
//   - "badger": Uses pkg/share/badger (BadgerDB storage, persistent)
//   - "s3": Uses pkg/share/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Share store configuration
//
// Returns:
//   - share.Store: Initialized share store
//   - error: Configuration or initialization error
func CreateShareStore(ctx context.Context, cfg *StoreConfig) (share.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewMemoryStore(), nil
	case "badger":
		return createBadgerShareStore(ctx, cfg.Badger)
	case "s3":
		return createS3ShareStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown share store type: %q (supported: memory, badger, s3)", cfg.Type)
	}
}

// createBadgerShareStore creates a BadgerDB-based persistent share store.
func createBadgerShareStore(ctx context.Context, options map[string]any) (share.Store, error) {
	type BadgerShareStoreOptions struct {
		DBPath string `mapstructure:"db_path"`
	}

	var storeOpts BadgerShareStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode badger share store options: %w", err)
	}

	if storeOpts.DBPath == "" {
		return nil, fmt.Errorf("badger share store: db_path is required")
	}

	store, err := badger.NewBadgerStore(ctx, badger.BadgerStoreConfig{
		DBPath: storeOpts.DBPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger share store: %w", err)
	}

	return store, nil
}

// createS3ShareStore creates an S3-based share store.
func createS3ShareStore(ctx context.Context, options map[string]any) (share.Store, error) {
	type S3ShareStoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeCfg S3ShareStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 share store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 share store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 share store: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Custom endpoint for MinIO, Localstack, etc.
	if storeCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               storeCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials if provided, otherwise the default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Retry harder than the AWS default of 3 for resilience against
	// transient S3 failures (502, 503, timeouts)
	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Path-style addressing for compatibility with MinIO/Localstack
		if storeCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	store, err := shareS3.NewS3Store(ctx, shareS3.S3StoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 share store: %w", err)
	}

	logger.Info("S3 share store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// CreateEngine creates a distribution engine based on configuration.
//
// Supported types:
//   - "local": in-process engine over a private hub; instances within one
//     process that should exchange content must share an engine
func CreateEngine(cfg *EngineConfig) (engine.Engine, error) {
	switch cfg.Type {
	case "local":
		return createLocalEngine(cfg.Local)
	default:
		return nil, fmt.Errorf("unknown engine type: %q (supported: local)", cfg.Type)
	}
}

func createLocalEngine(options map[string]any) (engine.Engine, error) {
	type LocalEngineOptions struct {
		// DownloadLimit caps sustained download throughput in bytes per
		// second; 0 means unlimited
		DownloadLimit uint64 `mapstructure:"download_limit"`
	}

	var engOpts LocalEngineOptions
	if err := mapstructure.Decode(options, &engOpts); err != nil {
		return nil, fmt.Errorf("failed to decode local engine options: %w", err)
	}

	var opts []local.Option
	if engOpts.DownloadLimit > 0 {
		opts = append(opts, local.WithDownloadLimit(engOpts.DownloadLimit))
	}
	return local.NewEngine(local.NewHub(), opts...), nil
}
