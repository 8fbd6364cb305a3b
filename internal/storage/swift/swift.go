// Package swift implements objectstore.Client against OpenStack Swift
// using ncw/swift, the same flat-key contract S3 satisfies: containers
// stand in for buckets, and Swift's own bulk-delete endpoint backs
// objectstore's batched Delete.
package swift

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ncw/swift/v2"

	"github.com/jakub-valenta/helpers/internal/storage/objectstore"
	"github.com/jakub-valenta/helpers/pkg/errors"
)

// Config holds the Swift authentication and container parameters a Factory
// extracts from helper.Params.
type Config struct {
	AuthURL   string
	UserName  string
	ApiKey    string
	Domain    string
	Tenant    string
	Container string
	Timeout   time.Duration
}

// Backend implements objectstore.Client against one Swift container.
type Backend struct {
	conn      *swift.Connection
	container string
}

// New authenticates against cfg.AuthURL and returns a Backend bound to
// cfg.Container.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	conn := &swift.Connection{
		UserName: cfg.UserName,
		ApiKey:   cfg.ApiKey,
		AuthUrl:  cfg.AuthURL,
		Domain:   cfg.Domain,
		Tenant:   cfg.Tenant,
		Timeout:  cfg.Timeout,
	}
	if err := conn.Authenticate(ctx); err != nil {
		return nil, errors.Wrap("swift", "authenticate", errors.HostUnreachable, "", err)
	}
	return &Backend{conn: conn, container: cfg.Container}, nil
}

func (b *Backend) Name() string { return "swift" }

// MaxBatchKeys matches Swift's bulk-delete request-body object limit,
// configured server-side but conventionally capped at 10000; this helper
// stays conservative and chunks at the same 1000 other backends use so a
// differently configured cluster never sees an oversized batch.
func (b *Backend) MaxBatchKeys() int { return 1000 }

func (b *Backend) Head(ctx context.Context, key string) (objectstore.ObjectInfo, error) {
	obj, _, err := b.conn.Object(ctx, b.container, key)
	if err != nil {
		return objectstore.ObjectInfo{}, translateError(err, "head", key)
	}
	return objectstore.ObjectInfo{
		Key:     key,
		Size:    obj.Bytes,
		ModTime: obj.LastModified.Unix(),
	}, nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, []string, error) {
	objs, err := b.conn.Objects(ctx, b.container, &swift.ObjectsOpts{
		Prefix:    prefix,
		Delimiter: '/',
	})
	if err != nil {
		return nil, nil, translateError(err, "list", prefix)
	}

	var objects []objectstore.ObjectInfo
	var dirs []string
	for _, o := range objs {
		if o.PseudoDirectory || strings.HasSuffix(o.Name, "/") {
			dirs = append(dirs, o.Name)
			continue
		}
		objects = append(objects, objectstore.ObjectInfo{
			Key:     o.Name,
			Size:    o.Bytes,
			ModTime: o.LastModified.Unix(),
		})
	}
	return objects, dirs, nil
}

func (b *Backend) Get(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	headers := swift.Headers{}
	if offset > 0 || length > 0 {
		if length > 0 {
			headers["Range"] = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
		} else {
			headers["Range"] = fmt.Sprintf("bytes=%d-", offset)
		}
	}

	var buf strings.Builder
	_, err := b.conn.ObjectGet(ctx, b.container, key, &buf, true, headers)
	if err != nil {
		return nil, translateError(err, "get", key)
	}
	return []byte(buf.String()), nil
}

func (b *Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.conn.ObjectPut(ctx, b.container, key, strings.NewReader(string(data)), true,
		"", "application/octet-stream", nil)
	if err != nil {
		return translateError(err, "put", key)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, keys []string) error {
	for _, chunk := range objectstore.ChunkKeys(keys, b.MaxBatchKeys()) {
		result, err := b.conn.BulkDelete(ctx, b.container, chunk)
		if err != nil {
			return translateError(err, "delete", strings.Join(chunk, ","))
		}
		if len(result.Errors) > 0 {
			first := result.Errors[chunk[0]]
			return errors.New("swift", "delete", errors.IoError, "", fmt.Sprintf(
				"%d of %d deletes failed, first: %v", len(result.Errors), len(chunk), first))
		}
	}
	return nil
}

func translateError(err error, op, key string) error {
	if err == swift.ObjectNotFound || err == swift.ContainerNotFound {
		return errors.Wrap("swift", op, errors.NotFound, "404", err).WithFileID(key).WithRetryable(false)
	}
	if err == swift.AuthorizationFailed {
		return errors.Wrap("swift", op, errors.PermissionDenied, "401", err).WithFileID(key).WithRetryable(false)
	}
	if se, ok := err.(*swift.Error); ok {
		code := errors.Code(strconv.Itoa(se.StatusCode))
		switch {
		case se.StatusCode == 404:
			return errors.Wrap("swift", op, errors.NotFound, code, err).WithFileID(key).WithRetryable(false)
		case se.StatusCode == 403 || se.StatusCode == 401:
			return errors.Wrap("swift", op, errors.PermissionDenied, code, err).WithFileID(key).WithRetryable(false)
		case se.StatusCode >= 500:
			return errors.Wrap("swift", op, errors.IoError, code, err).WithFileID(key).WithRetryable(true)
		}
	}
	return errors.Wrap("swift", op, errors.IoError, "", err).WithFileID(key)
}

func (b *Backend) Close() error { return nil }

var _ objectstore.Client = (*Backend)(nil)
