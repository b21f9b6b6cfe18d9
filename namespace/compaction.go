package namespace

import (
	"context"
	"sort"

	"github.com/lqhl/elacsym"
	"github.com/lqhl/elacsym/manifest"
	"github.com/lqhl/elacsym/model"
)

// ShouldCompact evaluates the compaction triggers against the current
// manifest.
func (ns *Namespace) ShouldCompact(ctx context.Context) (bool, error) {
	cfg := ns.deps.Compaction
	if !cfg.Enabled {
		return false, nil
	}
	m, err := ns.snapshot(ctx, manifest.Strong)
	if err != nil {
		return false, err
	}
	if cfg.MaxSegments > 0 && len(m.Segments) > cfg.MaxSegments {
		return true, nil
	}
	if cfg.MaxTotalDocs > 0 && m.LiveDocCount() > cfg.MaxTotalDocs {
		return true, nil
	}
	return false, nil
}

// Compact merges the smallest segments into one, rebuilding its indexes,
// and publishes a single replacing manifest version. Reads proceed
// against the prior manifest throughout; only the final swap takes the
// namespace's write permission. Retried compactions are no-ops once the
// deterministic output segment is published.
func (ns *Namespace) Compact(ctx context.Context) error {
	if ns.ReadOnly() {
		return elacsym.E(elacsym.KindInvalidRequest, "namespace %q is read-only on this node", ns.name)
	}
	cfg := ns.deps.Compaction
	batch := cfg.MergeBatch
	if batch <= 0 {
		batch = DefaultCompaction.MergeBatch
	}

	m, err := ns.snapshot(ctx, manifest.Strong)
	if err != nil {
		return err
	}
	if len(m.Segments) < 2 {
		return nil
	}

	// Select the smallest segments by live row count.
	selected := make([]model.SegmentEntry, len(m.Segments))
	copy(selected, m.Segments)
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].LiveCount() < selected[j].LiveCount()
	})
	if len(selected) > batch {
		selected = selected[:batch]
	}
	if len(selected) < 2 {
		return nil
	}

	inputs := make([]model.SegmentID, 0, len(selected))
	retired := make(map[model.SegmentID]bool, len(selected))
	for _, seg := range selected {
		inputs = append(inputs, seg.SegmentID)
		retired[seg.SegmentID] = true
	}
	mergedID := compactionSegmentID(ns.name, inputs)
	for _, seg := range m.Segments {
		if seg.SegmentID == mergedID {
			return nil // Retry of an already-published compaction.
		}
	}

	// Read the surviving rows of every input, applying tombstones.
	// Later segments supersede earlier ones for duplicated ids.
	byID := make(map[model.DocID]model.Document)
	for _, seg := range m.Segments {
		if !retired[seg.SegmentID] {
			continue
		}
		payload, err := ns.segmentPayload(ctx, &seg)
		if err != nil {
			return err
		}
		ids, err := payload.IDs()
		if err != nil {
			return elacsym.Wrap(elacsym.KindCorruption, err, "segment %s id column", seg.SegmentID)
		}
		live := make([]model.DocID, 0, len(ids))
		for _, id := range ids {
			if !seg.IsTombstoned(id) {
				live = append(live, id)
			}
		}
		if len(live) == 0 {
			continue
		}
		docs, err := payload.ReadByIDs(live, nil, true)
		if err != nil {
			return elacsym.Wrap(elacsym.KindCorruption, err, "segment %s rows", seg.SegmentID)
		}
		for _, doc := range docs {
			byID[doc.ID] = doc
		}
	}

	ns.writeMu.Lock()
	defer ns.writeMu.Unlock()

	// Re-resolve under the write lock. A write that landed since the
	// merge started may have tombstoned rows we already read; abort and
	// let the next timer tick retry against the fresh manifest.
	cur, err := ns.snapshot(ctx, manifest.Strong)
	if err != nil {
		return err
	}
	if cur.Version != m.Version {
		ns.logger.Info("compaction aborted, manifest advanced during merge",
			"started_at", m.Version, "now", cur.Version)
		return nil
	}

	next := cur.Clone()
	next.Version = cur.Version + 1

	if len(byID) == 0 {
		// Everything merged away; just drop the retired segments.
		next.ReplaceSegmentsWithNone(retired)
	} else {
		docs := make([]model.Document, 0, len(byID))
		for _, doc := range byID {
			docs = append(docs, doc)
		}
		entry, err := ns.buildSegment(ctx, &cur.Schema, mergedID, docs)
		if err != nil {
			return err
		}
		next.ReplaceSegments(retired, *entry)
	}

	if err := ns.deps.Manifests.Publish(ctx, next); err != nil {
		return err
	}
	ns.swapManifest(next)
	ns.deps.Metrics.IncCompaction()
	ns.logger.Info("compaction published",
		"merged", len(inputs), "segment", mergedID, "version", next.Version)

	// Retired payloads stay in the store: no code path deletes segment
	// objects, so in-flight readers of older manifests can still fetch them.
	return nil
}
