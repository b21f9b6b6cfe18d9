// Package quantization compresses vectors into the two bit-budgets used by
// the retrieval path: a coarse 1-bit-per-dimension code scanned over
// posting lists, and a finer 8-bit-per-dimension code used to rerank the
// shortlist. Both estimators are deterministic, monotone-preserving proxies
// of the namespace metric; the optional exact rerank fetches raw vectors
// instead.
package quantization
