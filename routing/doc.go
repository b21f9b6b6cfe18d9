// Package routing assigns each namespace to exactly one indexer node via
// a stable hash of the namespace name over the cluster membership list.
// Only the owner writes and compacts; any query node reads. Writes landing
// on the wrong node are answered with a redirect naming the owner.
package routing
