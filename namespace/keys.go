package namespace

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/lqhl/elacsym/model"
)

// Object key layout under the namespace prefix.

func rowsKey(ns string, seg model.SegmentID) string {
	return fmt.Sprintf("%s/segments/%s/rows.bin", ns, seg)
}

func vidxKey(ns string, seg model.SegmentID) string {
	return fmt.Sprintf("%s/segments/%s/vidx.bin", ns, seg)
}

func centroidsKey(ns string, seg model.SegmentID) string {
	return fmt.Sprintf("%s/segments/%s/centroids.bin", ns, seg)
}

func ftsKey(ns string, seg model.SegmentID, field string) string {
	return fmt.Sprintf("%s/segments/%s/fts/%s/index.bin", ns, seg, field)
}

func filterKey(ns string, seg model.SegmentID, attr string) string {
	return fmt.Sprintf("%s/segments/%s/filters/%s.bitmap", ns, seg, attr)
}

func walPrefix(ns string) string {
	return ns + "/wal/"
}

// upsertSegmentID derives the segment id for a WAL-logged upsert. It is a
// pure function of the namespace, the WAL sequence, and the batch ids, so
// replaying the same entry rebuilds the same segment and publication is
// idempotent.
func upsertSegmentID(ns string, seq uint64, docs []model.Document) model.SegmentID {
	h := xxhash.New()
	_, _ = h.WriteString(ns)
	_, _ = h.Write(u64le(seq))
	ids := make([]uint64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, uint64(d.ID))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		_, _ = h.Write(u64le(id))
	}
	return model.SegmentID(fmt.Sprintf("seg-%016x", h.Sum64()))
}

// compactionSegmentID derives the merged segment id from its inputs, so a
// retried compaction is a no-op once published.
func compactionSegmentID(ns string, inputs []model.SegmentID) model.SegmentID {
	sorted := make([]string, 0, len(inputs))
	for _, id := range inputs {
		sorted = append(sorted, string(id))
	}
	sort.Strings(sorted)
	h := xxhash.New()
	_, _ = h.WriteString(ns)
	for _, id := range sorted {
		_, _ = h.WriteString(id)
		_, _ = h.Write([]byte{0})
	}
	return model.SegmentID(fmt.Sprintf("cmp-%016x", h.Sum64()))
}

func u64le(v uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b[:]
}
