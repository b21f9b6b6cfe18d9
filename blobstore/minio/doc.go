// Package minio implements blobstore.Store for MinIO and other
// S3-compatible object stores reachable through the MinIO client.
// Conditional writes use SetMatchETag / SetMatchETagExcept preconditions.
package minio
