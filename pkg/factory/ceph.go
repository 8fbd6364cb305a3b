//go:build ceph

package factory

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/jakub-valenta/helpers/internal/storage/ceph"
	"github.com/jakub-valenta/helpers/internal/storage/objectstore"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
)

// go-ceph/rados links against librados via cgo, so the ceph backend is
// only compiled into binaries built with -tags ceph on a host that has the
// Ceph client libraries installed. Without the tag, ceph.go below (empty
// on this build) is never compiled, and ceph_stub.go registers "ceph" to
// fail clearly instead of the build failing to link.
func init() {
	Register("ceph", buildCeph)
}

func buildCeph(_ context.Context, params helper.Params, _ *slog.Logger, metrics observability.MetricsSink) (helper.StorageHelper, error) {
	cfg := ceph.Config{
		ClusterName: params.String("clusterName", "ceph"),
		MonHost:     params.String("monitorHostname", ""),
		PoolName:    params.String("poolName", ""),
		UserName:    params.String("username", ""),
		Key:         params.String("key", ""),
	}

	backend, err := ceph.New(cfg)
	if err != nil {
		return nil, err
	}

	poolSize, _ := strconv.Atoi(params.String("poolSize", "8"))
	return objectstore.New(backend, poolSize, metrics), nil
}
