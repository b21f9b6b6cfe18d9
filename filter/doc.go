// Package filter implements attribute predicates: the recursive
// expression grammar, compressed per-attribute filter indexes (roaring
// bitmaps for equality, sorted ranges for numeric comparisons), and
// evaluation down to per-segment row bitmaps.
//
// Unindexed attributes fall back to a scan of the relevant segment column
// only. Evaluation is exact: the returned rows are precisely those whose
// attributes satisfy the expression.
package filter
