package factory

import (
	"context"
	"log/slog"

	"github.com/jakub-valenta/helpers/internal/storage/posix"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
)

func init() {
	Register("posix", buildPosix)
}

func buildPosix(_ context.Context, params helper.Params, _ *slog.Logger, metrics observability.MetricsSink) (helper.StorageHelper, error) {
	cfg := posix.Config{
		MountPoint: params.String("mountPoint", "/"),
		Metrics:    metrics,
	}
	return posix.New(cfg), nil
}
