// Package ivf implements the partition index: coarse centroid clustering
// over a segment's vectors plus per-cluster posting lists of quantized
// codes.
//
// Queries probe the nprobe nearest centroids, scan their posting lists
// with the 1-bit coarse code to build a shortlist, and rerank the
// shortlist with the 8-bit fine code (or hand it to the caller for exact
// float rerank). Small parts skip clustering entirely and scan all codes.
// Indexes are built per segment and immutable; updates land as new
// segments.
package ivf
