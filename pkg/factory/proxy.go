package factory

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/jakub-valenta/helpers/internal/storage/proxy"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
)

func init() {
	Register("proxy", buildProxy)
}

func buildProxy(ctx context.Context, params helper.Params, _ *slog.Logger, metrics observability.MetricsSink) (helper.StorageHelper, error) {
	transport, err := proxy.DialTCP(ctx, params.String("providerHostname", ""), params.Bool("useTLS", true))
	if err != nil {
		return nil, err
	}

	comm := proxy.NewCommunicator(transport, nil)
	poolSize, _ := strconv.Atoi(params.String("poolSize", "8"))
	return proxy.New(comm, proxy.Config{
		StorageID: params.String("storageId", ""),
		PoolSize:  poolSize,
		Metrics:   metrics,
	}), nil
}
