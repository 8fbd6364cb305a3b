// Package s3 provides the objectstore.Client implementation for AWS S3 and
// S3-compatible endpoints (MinIO, Ceph RGW with force-path-style). The
// directory/attribute semantics above this client live in
// internal/storage/objectstore; this package only knows how to turn a key
// into an S3 API call.
package s3
