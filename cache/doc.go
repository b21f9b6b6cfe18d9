// Package cache keeps hot data resident to hide object-store latency.
//
// Two tiers: a small RAM tier for hot metadata (centroids, manifests,
// filter dictionaries) and a large NVMe tier for segment payloads and code
// slabs. Every cached key names an immutable object, so there is no
// invalidation path; manifest publication changes pointer keys instead.
//
// GetOrFetch coalesces concurrent misses with a per-key single flight so
// the backing fetch runs once per key regardless of fan-in.
package cache
