// Package blobstore abstracts the object store: bytes over keys with
// conditional PUT (if-match / if-none-match) and range GET.
//
// The engine treats every stored object except the manifest pointer as
// immutable: segments, index blobs, and versioned manifests are written
// once and never modified. Atomicity therefore reduces to the conditional
// overwrite of small pointer objects, which all backends must support.
//
// Backends: local filesystem (dev), in-memory (tests), and the s3 and
// minio subpackages for production object stores.
package blobstore
