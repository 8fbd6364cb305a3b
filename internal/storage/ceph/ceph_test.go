//go:build ceph

package ceph

import (
	"errors"
	"testing"

	"github.com/ceph/go-ceph/rados"

	helpererrors "github.com/jakub-valenta/helpers/pkg/errors"
)

func TestTranslateErrorMapsNotFound(t *testing.T) {
	t.Parallel()

	err := translateError(rados.ErrNotFound, "get", "missing")
	if helpererrors.KindOf(err) != helpererrors.NotFound {
		t.Errorf("KindOf() = %v, want NotFound", helpererrors.KindOf(err))
	}
	if helpererrors.IsRetryable(err) {
		t.Error("ErrNotFound should not be retryable")
	}
}

func TestTranslateErrorMapsPermissionDenied(t *testing.T) {
	t.Parallel()

	err := translateError(rados.ErrPermissionDenied, "put", "k")
	if helpererrors.KindOf(err) != helpererrors.PermissionDenied {
		t.Errorf("KindOf() = %v, want PermissionDenied", helpererrors.KindOf(err))
	}
}

func TestTranslateErrorDefaultsToIoError(t *testing.T) {
	t.Parallel()

	err := translateError(errors.New("rados: timeout"), "get", "k")
	if helpererrors.KindOf(err) != helpererrors.IoError {
		t.Errorf("KindOf() = %v, want IoError", helpererrors.KindOf(err))
	}
}

func TestNameIsCeph(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	if b.Name() != "ceph" {
		t.Errorf("Name() = %q, want ceph", b.Name())
	}
}

func TestMaxBatchKeysIsConservative(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	if b.MaxBatchKeys() != 1000 {
		t.Errorf("MaxBatchKeys() = %d, want 1000", b.MaxBatchKeys())
	}
}
