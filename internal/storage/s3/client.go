package s3

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
)

// ClientManager owns the AWS SDK client, the connection pool backing it,
// and (when enabled) the CargoShip transporter that accelerates large
// uploads with BBR/CUBIC-tuned concurrency.
type ClientManager struct {
	client      *s3.Client
	pool        *ConnectionPool
	transporter *cargoships3.Transporter
	config      *Config
	logger      *slog.Logger
}

// NewClientManager loads AWS credentials and builds an S3 client, pool, and
// optional CargoShip transporter for cfg.
func NewClientManager(ctx context.Context, cfg *Config, logger *slog.Logger) (*ClientManager, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
		if cfg.UseDualStack {
			o.EndpointOptions.UseDualStackEndpoint = aws.DualStackEndpointStateEnabled
		}
	})

	pool, err := NewConnectionPool(cfg.PoolSize, func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	var transporter *cargoships3.Transporter
	if cfg.EnableCargoShipOptimization {
		cargoConfig := awsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       awsconfig.StorageClassIntelligentTiering,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        cfg.PoolSize,
		}
		transporter = cargoships3.NewTransporter(client, cargoConfig)
		logger.Info("CargoShip S3 optimization enabled",
			"target_throughput", cfg.TargetThroughput,
			"chunk_size", "16MB",
			"concurrency", cfg.PoolSize)
	}

	return &ClientManager{
		client:      client,
		pool:        pool,
		transporter: transporter,
		config:      cfg,
		logger:      logger,
	}, nil
}

func (cm *ClientManager) GetClient() *s3.Client { return cm.client }

func (cm *ClientManager) GetPooledClient() *s3.Client { return cm.pool.Get() }

func (cm *ClientManager) ReturnPooledClient(client *s3.Client) { cm.pool.Put(client) }

func (cm *ClientManager) GetTransporter() *cargoships3.Transporter { return cm.transporter }

func (cm *ClientManager) GetPool() *ConnectionPool { return cm.pool }

func (cm *ClientManager) IsCargoShipEnabled() bool { return cm.transporter != nil }

func (cm *ClientManager) HealthCheck(ctx context.Context) error {
	client := cm.GetPooledClient()
	defer cm.ReturnPooledClient(client)

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cm.config.Bucket)})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

func (cm *ClientManager) Close() error {
	return cm.pool.Close()
}

func (cm *ClientManager) GetStats() PoolStats {
	return cm.pool.Stats()
}
