package factory

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/jakub-valenta/helpers/internal/storage/objectstore"
	"github.com/jakub-valenta/helpers/internal/storage/s3"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
)

func init() {
	Register("s3", buildS3)
}

func buildS3(ctx context.Context, params helper.Params, logger *slog.Logger, metrics observability.MetricsSink) (helper.StorageHelper, error) {
	cfg := s3.NewDefaultConfig()
	cfg.Bucket = params.String("bucket", "")
	cfg.Region = params.String("region", cfg.Region)
	cfg.Endpoint = params.String("endpoint", "")
	cfg.AccessKeyID = params.String("accessKey", "")
	cfg.SecretAccessKey = params.String("secretKey", "")
	cfg.ForcePathStyle = params.Bool("forcePathStyle", cfg.ForcePathStyle)
	cfg.EnableCargoShipOptimization = params.Bool("cargoship", cfg.EnableCargoShipOptimization)

	backend, err := s3.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	poolSize, _ := strconv.Atoi(params.String("poolSize", "8"))
	return objectstore.New(backend, poolSize, metrics), nil
}
