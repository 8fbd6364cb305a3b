// Package s3 implements objectstore.Client against AWS S3 (or an
// S3-compatible endpoint): plain aws-sdk-go-v2 calls for reads and
// metadata, with large/throughput-sensitive writes routed through
// cargoship's BBR/CUBIC-tuned transporter when enabled and falling back to
// a bare PutObject if that optimization errors.
package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/jakub-valenta/helpers/internal/storage/objectstore"
	"github.com/jakub-valenta/helpers/pkg/errors"
)

// Backend implements objectstore.Client against one S3 bucket.
type Backend struct {
	cm      *ClientManager
	bucket  string
	logger  *slog.Logger
	metrics MetricsCollector
}

// New builds a Backend for cfg, suitable for wrapping in
// objectstore.New(backend, poolSize, metrics) to get a full helper.StorageHelper.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cm, err := NewClientManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Backend{cm: cm, bucket: cfg.Bucket, logger: logger}, nil
}

func (b *Backend) Name() string { return "s3" }

func (b *Backend) MaxBatchKeys() int { return 1000 } // S3 DeleteObjects limit

func (b *Backend) Head(ctx context.Context, key string) (objectstore.ObjectInfo, error) {
	start := time.Now()
	client := b.cm.GetPooledClient()
	defer b.cm.ReturnPooledClient(client)

	result, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	b.metrics.record(time.Since(start), err != nil)
	if err != nil {
		b.metrics.recordError(err)
		return objectstore.ObjectInfo{}, b.translateError(err, "head", key)
	}

	return objectstore.ObjectInfo{
		Key:     key,
		Size:    aws.ToInt64(result.ContentLength),
		ModTime: aws.ToTime(result.LastModified).Unix(),
	}, nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, []string, error) {
	start := time.Now()
	client := b.cm.GetPooledClient()
	defer b.cm.ReturnPooledClient(client)

	var objects []objectstore.ObjectInfo
	var dirs []string
	var token *string

	for {
		result, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		b.metrics.record(time.Since(start), err != nil)
		if err != nil {
			b.metrics.recordError(err)
			return nil, nil, b.translateError(err, "list", prefix)
		}

		for _, obj := range result.Contents {
			objects = append(objects, objectstore.ObjectInfo{
				Key:     aws.ToString(obj.Key),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified).Unix(),
			})
		}
		for _, cp := range result.CommonPrefixes {
			dirs = append(dirs, aws.ToString(cp.Prefix))
		}

		if !aws.ToBool(result.IsTruncated) {
			break
		}
		token = result.NextContinuationToken
	}

	return objects, dirs, nil
}

func (b *Backend) Get(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	start := time.Now()
	client := b.cm.GetPooledClient()
	defer b.cm.ReturnPooledClient(client)

	var rangeHeader *string
	if offset > 0 || length > 0 {
		if length > 0 {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Range:  rangeHeader,
	})
	b.metrics.record(time.Since(start), err != nil)
	if err != nil {
		b.metrics.recordError(err)
		return nil, b.translateError(err, "get", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.Wrap("s3", "get", errors.IoError, "", err).WithFileID(key)
	}

	b.metrics.addDownloaded(int64(len(data)))

	return data, nil
}

// Put always ships the whole object in one call: offset==0 is the only
// mode objectstore.Handle ever uses, matching the spec's whole-object PUT
// invariant for flat object stores.
func (b *Backend) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	defer func() { b.metrics.record(time.Since(start), false) }()

	transporter := b.cm.GetTransporter()
	if transporter != nil {
		archive := cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: "INTELLIGENT_TIERING",
			Metadata:     map[string]string{"content-type": detectContentType(key)},
		}
		result, err := transporter.Upload(ctx, archive)
		if err == nil {
			b.logger.Debug("cargoship upload completed", "key", key, "size", len(data),
				"throughput", result.Throughput, "duration", result.Duration)
			b.metrics.addUploaded(int64(len(data)), true)
			return nil
		}
		b.logger.Warn("cargoship upload failed, falling back to plain PutObject", "key", key, "error", err)
		b.metrics.addCargoShipFallback()
	}

	client := b.cm.GetPooledClient()
	defer b.cm.ReturnPooledClient(client)

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(detectContentType(key)),
	})
	if err != nil {
		b.metrics.recordError(err)
		return b.translateError(err, "put", key)
	}
	b.metrics.addUploaded(int64(len(data)), false)
	return nil
}

// Delete issues S3's batch DeleteObjects, chunked to MaxBatchKeys per call
// since that is also the S3 API's own per-request limit.
func (b *Backend) Delete(ctx context.Context, keys []string) error {
	client := b.cm.GetPooledClient()
	defer b.cm.ReturnPooledClient(client)

	for _, chunk := range objectstore.ChunkKeys(keys, b.MaxBatchKeys()) {
		objs := make([]s3types.ObjectIdentifier, len(chunk))
		for i, k := range chunk {
			objs[i] = s3types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &s3types.Delete{Objects: objs},
		})
		if err != nil {
			b.metrics.recordError(err)
			return b.translateError(err, "delete", strings.Join(chunk, ","))
		}
	}
	return nil
}

// HealthCheck verifies the bucket is reachable with current credentials.
func (b *Backend) HealthCheck(ctx context.Context) error {
	return b.cm.HealthCheck(ctx)
}

// Metrics returns a snapshot of this backend's counters.
func (b *Backend) Metrics() BackendMetrics {
	return b.metrics.snapshot()
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	return b.cm.Close()
}

func (b *Backend) translateError(err error, op, key string) error {
	var nsk *s3types.NoSuchKey
	if stderrors.As(err, &nsk) {
		return errors.Wrap("s3", op, errors.NotFound, "NoSuchKey", err).WithFileID(key).WithRetryable(false)
	}
	var notFound *s3types.NotFound
	if stderrors.As(err, &notFound) {
		return errors.Wrap("s3", op, errors.NotFound, "NotFound", err).WithFileID(key).WithRetryable(false)
	}
	var nsb *s3types.NoSuchBucket
	if stderrors.As(err, &nsb) {
		return errors.Wrap("s3", op, errors.NotFound, "NoSuchBucket", err).WithFileID(key).WithRetryable(false)
	}
	return errors.Wrap("s3", op, errors.IoError, "", err).WithFileID(key)
}

func detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	case strings.HasSuffix(key, ".html"):
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

var _ objectstore.Client = (*Backend)(nil)
