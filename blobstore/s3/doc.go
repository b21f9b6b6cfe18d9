// Package s3 implements blobstore.Store on Amazon S3 (and API-compatible
// stores reachable through the AWS SDK).
//
// Conditional writes use the If-Match / If-None-Match preconditions of
// PutObject. For buckets or providers without precondition support the
// DynamoDB-backed PointerStore provides the same compare-and-swap
// semantics for the small pointer objects the publication protocol
// depends on.
package s3
