// Package elacsym is a multi-tenant, object-storage-first hybrid search
// engine. It provides first-stage retrieval over dense vector similarity,
// BM25 full-text, and attribute filters, with optional rank fusion.
//
// Object storage is the source of truth; compute nodes are stateless and
// cache hot data on local NVMe and RAM. Each namespace is an independent
// tenant with its own schema, write-ahead log, segment set, and versioned
// manifest.
//
// The root package defines the error taxonomy shared by all components.
// The engine itself is composed from the subpackages:
//
//	blobstore    object store adapter (local, s3, minio)
//	cache        two-tier RAM + NVMe cache
//	wal          per-namespace write-ahead log
//	codec        columnar segment payloads
//	quantization coarse/fine vector codes
//	ivf          centroid partitioning and posting lists
//	fts          per-segment BM25 full-text indexes
//	filter       attribute filter indexes and predicates
//	manifest     versioned read views and atomic publication
//	query        planner primitives and rank fusion
//	namespace    the per-tenant engine composing all of the above
//	routing      namespace-to-indexer ownership
package elacsym
