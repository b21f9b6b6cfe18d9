package cache

import (
	"fmt"
	"strings"

	"github.com/lqhl/elacsym/model"
)

// Structured cache keys. The second segment is always the namespace so
// pinning can match on it.

// ManifestKey names a namespace's cached manifest document.
func ManifestKey(ns string, version uint64) string {
	return fmt.Sprintf("manifest:%s:%d", ns, version)
}

// SegmentKey names a segment's row payload.
func SegmentKey(ns string, seg model.SegmentID) string {
	return fmt.Sprintf("seg:%s:%s", ns, seg)
}

// VectorIndexKey names a segment's quantized vector index blob.
func VectorIndexKey(ns string, seg model.SegmentID) string {
	return fmt.Sprintf("vidx:%s:%s", ns, seg)
}

// CentroidsKey names a segment's centroid blob.
func CentroidsKey(ns string, seg model.SegmentID) string {
	return fmt.Sprintf("cent:%s:%s", ns, seg)
}

// FullTextKey names a segment's per-field full-text index blob.
func FullTextKey(ns string, seg model.SegmentID, field string) string {
	return fmt.Sprintf("ftidx:%s:%s:%s", ns, seg, field)
}

// FilterKey names a segment's per-attribute filter blob.
func FilterKey(ns string, seg model.SegmentID, attr string) string {
	return fmt.Sprintf("filt:%s:%s:%s", ns, seg, attr)
}

// PostingKey names one cluster's posting list within a segment.
func PostingKey(ns string, seg model.SegmentID, cluster int) string {
	return fmt.Sprintf("ilist:%s:%s:%d", ns, seg, cluster)
}

// namespaceOf extracts the namespace component of a structured key.
func namespaceOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
