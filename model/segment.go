package model

// SegmentID identifies an immutable segment within a namespace.
type SegmentID string

// SegmentEntry describes one segment inside a manifest: its row payload,
// index blobs, and the tombstones suppressing deleted rows.
type SegmentEntry struct {
	SegmentID SegmentID `json:"segment_id"`
	RowCount  int       `json:"row_count"`
	MinID     DocID     `json:"min_id"`
	MaxID     DocID     `json:"max_id"`

	// RowsKey is the object key of the columnar row payload.
	RowsKey string `json:"rows_key"`
	// VectorIndexKey and CentroidsKey locate the quantized vector index.
	// Empty when the segment carries no vectors.
	VectorIndexKey string `json:"vector_index_key,omitempty"`
	CentroidsKey   string `json:"centroids_key,omitempty"`
	// FullTextKeys maps full-text field name to its index blob key.
	FullTextKeys map[string]string `json:"full_text_keys,omitempty"`
	// FilterKeys maps indexed attribute name to its filter blob key.
	FilterKeys map[string]string `json:"filter_keys,omitempty"`

	// Tombstones lists suppressed document ids, sorted ascending.
	Tombstones []DocID `json:"tombstones,omitempty"`

	CreatedAtMillis int64 `json:"created_at_ms"`
	SizeBytes       int64 `json:"size_bytes,omitempty"`
}

// Contains reports whether id falls inside the segment's id range.
func (e *SegmentEntry) Contains(id DocID) bool {
	return id >= e.MinID && id <= e.MaxID
}

// IsTombstoned reports whether id is suppressed in this segment.
func (e *SegmentEntry) IsTombstoned(id DocID) bool {
	lo, hi := 0, len(e.Tombstones)
	for lo < hi {
		mid := (lo + hi) / 2
		if e.Tombstones[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(e.Tombstones) && e.Tombstones[lo] == id
}

// LiveCount returns the number of rows not suppressed by tombstones.
func (e *SegmentEntry) LiveCount() int {
	return e.RowCount - len(e.Tombstones)
}

// NamespaceStats is the aggregate stats block carried by the manifest.
type NamespaceStats struct {
	TotalDocs    int   `json:"total_docs"`
	TotalBytes   int64 `json:"total_size_bytes"`
	SegmentCount int   `json:"segment_count"`
}
