//go:build !ceph

package factory

import (
	"context"
	"log/slog"

	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/helper"
	"github.com/jakub-valenta/helpers/pkg/observability"
)

func init() {
	Register("ceph", buildCephStub)
}

func buildCephStub(context.Context, helper.Params, *slog.Logger, observability.MetricsSink) (helper.StorageHelper, error) {
	return nil, errors.New("factory", "new", errors.NotSupported, "",
		"this binary was built without ceph support; rebuild with -tags ceph")
}
