package namespace

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lqhl/elacsym"
	"github.com/lqhl/elacsym/codec"
	"github.com/lqhl/elacsym/filter"
	"github.com/lqhl/elacsym/fts"
	"github.com/lqhl/elacsym/ivf"
	"github.com/lqhl/elacsym/manifest"
	"github.com/lqhl/elacsym/model"
	"github.com/lqhl/elacsym/wal"
)

// UpsertOptions carries the optional conditional-write precondition.
type UpsertOptions struct {
	// Condition must match the namespace's current state (evaluated over
	// the already-stored versions of the batch ids) for the write to
	// proceed; a failed precondition returns Conflict.
	Condition *filter.Expr
}

// Upsert validates, logs, builds, and publishes one batch. All documents
// in the batch become visible atomically in a single manifest version.
func (ns *Namespace) Upsert(ctx context.Context, docs []model.Document, opts UpsertOptions) (int, error) {
	if ns.ReadOnly() {
		return 0, elacsym.E(elacsym.KindInvalidRequest, "namespace %q is read-only on this node", ns.name)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	ns.writeMu.Lock()
	defer ns.writeMu.Unlock()

	m, err := ns.snapshot(ctx, manifest.Strong)
	if err != nil {
		return 0, err
	}
	schema := m.Schema

	// Dimension or type errors reject the whole batch before anything
	// is logged; partial success is never granted.
	prepared := make([]model.Document, len(docs))
	for i := range docs {
		doc := docs[i]
		if doc.Attributes != nil {
			attrs := make(map[string]model.Value, len(doc.Attributes))
			for k, v := range doc.Attributes {
				attrs[k] = v
			}
			doc.Attributes = attrs
		}
		if err := schema.ValidateDocument(&doc); err != nil {
			return 0, elacsym.Wrap(elacsym.KindInvalidRequest, err, "upsert rejected")
		}
		schema.DropUndeclared(&doc)
		prepared[i] = doc
	}

	if opts.Condition != nil {
		if err := ns.checkCondition(ctx, m, opts.Condition, prepared); err != nil {
			return 0, err
		}
	}

	seq, err := ns.wal.Append(ctx, wal.Operation{Type: wal.OpUpsert, Documents: prepared})
	if err != nil {
		return 0, err
	}
	if err := ns.wal.Sync(ctx); err != nil {
		return 0, err
	}
	ns.deps.Metrics.IncWALAppend(ns.name)

	if err := ns.applyUpsert(ctx, prepared, seq); err != nil {
		// The WAL entry stays; recovery will redo this batch.
		return 0, err
	}

	if err := ns.wal.TruncateBefore(ctx, seq); err != nil {
		// Publication already succeeded; stale entries replay as no-ops
		// thanks to deterministic segment ids.
		ns.logger.Warn("wal truncation after publish failed", "error", err)
	}

	ns.deps.Metrics.AddUpserted(ns.name, len(prepared))
	return len(prepared), nil
}

// checkCondition evaluates the upsert precondition against the stored
// versions of the batch ids. Every already-existing document must satisfy
// the expression.
func (ns *Namespace) checkCondition(ctx context.Context, m *manifest.Manifest, cond *filter.Expr, docs []model.Document) error {
	if err := cond.Validate(&m.Schema); err != nil {
		return elacsym.Wrap(elacsym.KindInvalidRequest, err, "upsert condition")
	}
	ids := make([]model.DocID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	existing, err := ns.fetchRows(ctx, m, ids, nil, false, true)
	if err != nil {
		return err
	}
	for _, doc := range existing {
		if !cond.Matches(doc.Attributes) {
			return elacsym.E(elacsym.KindConflict,
				"upsert condition failed for document %d", doc.ID)
		}
	}
	return nil
}

// Delete suppresses documents by id: a WAL entry, then a tombstone-only
// manifest version. Missing ids are a no-op.
func (ns *Namespace) Delete(ctx context.Context, ids []model.DocID) error {
	if ns.ReadOnly() {
		return elacsym.E(elacsym.KindInvalidRequest, "namespace %q is read-only on this node", ns.name)
	}
	if len(ids) == 0 {
		return nil
	}

	ns.writeMu.Lock()
	defer ns.writeMu.Unlock()

	seq, err := ns.wal.Append(ctx, wal.Operation{Type: wal.OpDelete, IDs: ids})
	if err != nil {
		return err
	}
	if err := ns.wal.Sync(ctx); err != nil {
		return err
	}
	ns.deps.Metrics.IncWALAppend(ns.name)

	if err := ns.applyDelete(ctx, ids, seq); err != nil {
		return err
	}
	if err := ns.wal.TruncateBefore(ctx, seq); err != nil {
		ns.logger.Warn("wal truncation after publish failed", "error", err)
	}
	return nil
}

// applyUpsert builds and publishes the segment for one logged batch.
// Idempotent: the segment id derives from the WAL sequence and batch ids,
// so replaying an already-published entry is a no-op.
func (ns *Namespace) applyUpsert(ctx context.Context, docs []model.Document, seq uint64) error {
	cur, err := ns.snapshot(ctx, manifest.Strong)
	if err != nil {
		return err
	}
	segID := upsertSegmentID(ns.name, seq, docs)
	for _, seg := range cur.Segments {
		if seg.SegmentID == segID {
			ns.logger.Info("segment already published, skipping rebuild", "segment", segID)
			return nil
		}
	}

	entry, err := ns.buildSegment(ctx, &cur.Schema, segID, docs)
	if err != nil {
		return err
	}

	next := cur.Clone()
	next.Version = cur.Version + 1
	// An upsert of an existing id supersedes older copies: tombstone
	// them so every segment-level view stays consistent.
	ids := make([]model.DocID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	next.MarkDeleted(ids)
	next.AddSegment(*entry)
	next.WALWatermark = seq

	if err := ns.deps.Manifests.Publish(ctx, next); err != nil {
		return err
	}
	ns.swapManifest(next)
	ns.deps.Metrics.IncSegmentPublished(ns.name)
	return nil
}

func (ns *Namespace) applyDelete(ctx context.Context, ids []model.DocID, seq uint64) error {
	cur, err := ns.snapshot(ctx, manifest.Strong)
	if err != nil {
		return err
	}
	if cur.WALWatermark >= seq {
		return nil
	}
	next := cur.Clone()
	next.Version = cur.Version + 1
	next.MarkDeleted(ids)
	next.WALWatermark = seq
	if err := ns.deps.Manifests.Publish(ctx, next); err != nil {
		return err
	}
	ns.swapManifest(next)
	return nil
}

// buildSegment encodes rows, builds every index artifact, and uploads
// them under the segment prefix. Uploads run concurrently.
func (ns *Namespace) buildSegment(ctx context.Context, schema *model.Schema, segID model.SegmentID, docs []model.Document) (*model.SegmentEntry, error) {
	rows := codec.NormalizeRows(docs)

	payload, err := codec.Write(schema, rows, codec.DefaultWriteOptions)
	if err != nil {
		return nil, elacsym.Wrap(elacsym.KindInvalidRequest, err, "encode segment rows")
	}

	entry := &model.SegmentEntry{
		SegmentID:       segID,
		RowCount:        len(rows),
		MinID:           rows[0].ID,
		MaxID:           rows[len(rows)-1].ID,
		RowsKey:         rowsKey(ns.name, segID),
		CreatedAtMillis: time.Now().UnixMilli(),
		SizeBytes:       int64(len(payload)),
	}

	uploads := map[string][]byte{entry.RowsKey: payload}

	// Vector index over the rows that carry vectors.
	var vecIDs []model.DocID
	var vectors []model.Vector
	for _, doc := range rows {
		if doc.Vector != nil {
			vecIDs = append(vecIDs, doc.ID)
			vectors = append(vectors, doc.Vector)
		}
	}
	if len(vecIDs) > 0 {
		index, err := ivf.Build(schema.VectorDim, schema.VectorMetric, vecIDs, vectors, ivf.Params{})
		if err != nil {
			return nil, elacsym.Wrap(elacsym.KindInvalidRequest, err, "build vector index")
		}
		entry.VectorIndexKey = vidxKey(ns.name, segID)
		entry.CentroidsKey = centroidsKey(ns.name, segID)
		uploads[entry.VectorIndexKey] = index.Marshal()
		uploads[entry.CentroidsKey] = index.MarshalCentroids()
	}

	// Full-text indexes, one blob per declared field.
	for _, field := range schema.FullTextFields() {
		builder, err := fts.NewBuilder(schema.Attributes[field].FullText)
		if err != nil {
			return nil, elacsym.Wrap(elacsym.KindInvalidRequest, err, "full-text analyzer for %q", field)
		}
		for _, doc := range rows {
			v, ok := doc.Attributes[field]
			if !ok || v.Kind != model.KindString {
				continue
			}
			if err := builder.Add(doc.ID, v.S); err != nil {
				return nil, elacsym.Wrap(elacsym.KindInvalidRequest, err, "index %q", field)
			}
		}
		if builder.DocCount() == 0 {
			continue
		}
		blob, err := builder.Flush()
		if err != nil {
			return nil, elacsym.Wrap(elacsym.KindStorage, err, "flush full-text index for %q", field)
		}
		if entry.FullTextKeys == nil {
			entry.FullTextKeys = make(map[string]string)
		}
		key := ftsKey(ns.name, segID, field)
		entry.FullTextKeys[field] = key
		uploads[key] = blob
	}

	// Filter indexes for declared indexed attributes.
	for _, attr := range schema.IndexedFields() {
		blob, err := filter.BuildAttr(rows, attr, schema.Attributes[attr].Type)
		if err != nil {
			return nil, elacsym.Wrap(elacsym.KindInvalidRequest, err, "build filter index for %q", attr)
		}
		if entry.FilterKeys == nil {
			entry.FilterKeys = make(map[string]string)
		}
		key := filterKey(ns.name, segID, attr)
		entry.FilterKeys[attr] = key
		uploads[key] = blob
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for key, data := range uploads {
		key, data := key, data
		g.Go(func() error {
			return ns.deps.Blob.Put(gctx, key, data)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, elacsym.Wrap(elacsym.KindStorage, err, "upload segment %s", segID)
	}
	return entry, nil
}
