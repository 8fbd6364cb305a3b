package factory

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/jakub-valenta/helpers/internal/storage/objectstore"
	"github.com/jakub-valenta/helpers/internal/storage/swift"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
)

func init() {
	Register("swift", buildSwift)
}

func buildSwift(ctx context.Context, params helper.Params, _ *slog.Logger, metrics observability.MetricsSink) (helper.StorageHelper, error) {
	cfg := swift.Config{
		AuthURL:   params.String("authUrl", ""),
		UserName:  params.String("username", ""),
		ApiKey:    params.String("key", ""),
		Domain:    params.String("domain", ""),
		Tenant:    params.String("tenant", ""),
		Container: params.String("containerName", ""),
		Timeout:   params.Duration("timeout", 0),
	}

	backend, err := swift.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	poolSize, _ := strconv.Atoi(params.String("poolSize", "8"))
	return objectstore.New(backend, poolSize, metrics), nil
}
