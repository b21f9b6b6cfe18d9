package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lqhl/elacsym/model"
)

// Manifest fully describes a read view of one namespace.
type Manifest struct {
	Version   uint64               `json:"version"`
	Namespace string               `json:"namespace"`
	Schema    model.Schema         `json:"schema"`
	Segments  []model.SegmentEntry `json:"segments"`
	// CentroidsKey optionally names a global partitioning blob shared by
	// segments. Per-segment centroids remain authoritative.
	CentroidsKey    string               `json:"centroids_key,omitempty"`
	Stats           model.NamespaceStats `json:"stats"`
	WALWatermark    uint64               `json:"wal_watermark"`
	UpdatedAtMillis int64                `json:"updated_at_ms"`
}

// New creates the initial (version 1) manifest for a namespace.
func New(namespace string, schema model.Schema) *Manifest {
	return &Manifest{
		Version:         1,
		Namespace:       namespace,
		Schema:          schema,
		UpdatedAtMillis: time.Now().UnixMilli(),
	}
}

// Clone deep-copies the manifest so writers can mutate a successor while
// readers hold the snapshot.
func (m *Manifest) Clone() *Manifest {
	out := *m
	out.Segments = make([]model.SegmentEntry, len(m.Segments))
	copy(out.Segments, m.Segments)
	for i := range out.Segments {
		seg := &out.Segments[i]
		if seg.Tombstones != nil {
			seg.Tombstones = append([]model.DocID(nil), seg.Tombstones...)
		}
		if seg.FullTextKeys != nil {
			fk := make(map[string]string, len(seg.FullTextKeys))
			for k, v := range seg.FullTextKeys {
				fk[k] = v
			}
			seg.FullTextKeys = fk
		}
		if seg.FilterKeys != nil {
			fk := make(map[string]string, len(seg.FilterKeys))
			for k, v := range seg.FilterKeys {
				fk[k] = v
			}
			seg.FilterKeys = fk
		}
	}
	return &out
}

// AddSegment appends a segment and refreshes the stats block.
func (m *Manifest) AddSegment(entry model.SegmentEntry) {
	m.Segments = append(m.Segments, entry)
	m.refreshStats()
}

// ReplaceSegments swaps out the named segments for the merged entry
// (compaction). Order of untouched segments is preserved.
func (m *Manifest) ReplaceSegments(retired map[model.SegmentID]bool, merged model.SegmentEntry) {
	out := m.Segments[:0]
	inserted := false
	for _, seg := range m.Segments {
		if retired[seg.SegmentID] {
			if !inserted {
				out = append(out, merged)
				inserted = true
			}
			continue
		}
		out = append(out, seg)
	}
	if !inserted {
		out = append(out, merged)
	}
	m.Segments = out
	m.refreshStats()
}

// ReplaceSegmentsWithNone drops the named segments entirely (compaction
// of segments whose rows were all tombstoned).
func (m *Manifest) ReplaceSegmentsWithNone(retired map[model.SegmentID]bool) {
	out := m.Segments[:0]
	for _, seg := range m.Segments {
		if !retired[seg.SegmentID] {
			out = append(out, seg)
		}
	}
	m.Segments = out
	m.refreshStats()
}

// MarkDeleted records tombstones for ids in the segments containing them.
// Unknown ids are ignored (delete of a missing document is a no-op).
func (m *Manifest) MarkDeleted(ids []model.DocID) {
	for _, id := range ids {
		for i := range m.Segments {
			seg := &m.Segments[i]
			if !seg.Contains(id) || seg.IsTombstoned(id) {
				continue
			}
			seg.Tombstones = insertSorted(seg.Tombstones, id)
		}
	}
	m.refreshStats()
}

func insertSorted(ids []model.DocID, id model.DocID) []model.DocID {
	lo, hi := 0, len(ids)
	for lo < hi {
		mid := (lo + hi) / 2
		if ids[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	ids = append(ids, 0)
	copy(ids[lo+1:], ids[lo:])
	ids[lo] = id
	return ids
}

func (m *Manifest) refreshStats() {
	var stats model.NamespaceStats
	for _, seg := range m.Segments {
		stats.TotalDocs += seg.LiveCount()
		stats.TotalBytes += seg.SizeBytes
	}
	stats.SegmentCount = len(m.Segments)
	m.Stats = stats
	m.UpdatedAtMillis = time.Now().UnixMilli()
}

// LiveDocCount returns the number of non-tombstoned documents.
func (m *Manifest) LiveDocCount() int {
	total := 0
	for _, seg := range m.Segments {
		total += seg.LiveCount()
	}
	return total
}

// Encode renders the manifest as JSON.
func (m *Manifest) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Decode parses a manifest JSON object.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Pointer is the content of manifests/current.txt.
type Pointer struct {
	Version      uint64 `json:"version"`
	WALWatermark uint64 `json:"wal_watermark"`
}

// EncodePointer renders the pointer object.
func EncodePointer(p Pointer) []byte {
	data, _ := json.Marshal(p)
	return data
}

// DecodePointer parses the pointer object.
func DecodePointer(data []byte) (Pointer, error) {
	var p Pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return Pointer{}, fmt.Errorf("decode manifest pointer: %w", err)
	}
	return p, nil
}

// VersionKey returns the object key of a manifest version, relative to
// the namespace prefix.
func VersionKey(ns string, version uint64) string {
	return fmt.Sprintf("%s/manifests/v%08d.json", ns, version)
}

// PointerKey returns the pointer object key.
func PointerKey(ns string) string {
	return fmt.Sprintf("%s/manifests/current.txt", ns)
}
