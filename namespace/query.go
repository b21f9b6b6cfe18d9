package namespace

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/lqhl/elacsym"
	"github.com/lqhl/elacsym/blobstore"
	"github.com/lqhl/elacsym/cache"
	"github.com/lqhl/elacsym/codec"
	"github.com/lqhl/elacsym/distance"
	"github.com/lqhl/elacsym/filter"
	"github.com/lqhl/elacsym/fts"
	"github.com/lqhl/elacsym/ivf"
	"github.com/lqhl/elacsym/manifest"
	"github.com/lqhl/elacsym/model"
	"github.com/lqhl/elacsym/query"
)

// Query plans and executes one request against a manifest snapshot.
func (ns *Namespace) Query(ctx context.Context, req *query.Request) (*query.Response, error) {
	start := time.Now()

	if err := req.Normalize(); err != nil {
		return nil, elacsym.Wrap(elacsym.KindInvalidRequest, err, "query")
	}
	consistency, err := manifest.ParseConsistency(req.Consistency)
	if err != nil {
		return nil, err
	}
	m, err := ns.snapshot(ctx, consistency)
	if err != nil {
		return nil, err
	}
	if req.Vector != nil && len(req.Vector) != m.Schema.VectorDim {
		return nil, elacsym.E(elacsym.KindInvalidRequest,
			"query vector dimension mismatch: expected %d, got %d", m.Schema.VectorDim, len(req.Vector))
	}
	if req.Filter != nil {
		if err := req.Filter.Validate(&m.Schema); err != nil {
			return nil, elacsym.Wrap(elacsym.KindInvalidRequest, err, "filter")
		}
	}
	if req.FullText != nil {
		for _, field := range req.FullText.Fields {
			attr, ok := m.Schema.Attributes[field]
			if !ok || !attr.FullText.Enabled {
				return nil, elacsym.E(elacsym.KindInvalidRequest,
					"field %q is not configured for full-text search", field)
			}
		}
	}

	ex := &executor{ns: ns, m: m, req: req}
	ordered, err := ex.run(ctx)
	if err != nil {
		return nil, err
	}

	results, err := ns.materialize(ctx, m, ordered, req)
	if err != nil {
		return nil, err
	}

	took := time.Since(start)
	ns.deps.Metrics.ObserveQuery(ns.name, took.Seconds())
	return &query.Response{Results: results, TookMS: took.Milliseconds()}, nil
}

// executor carries one query's state across stages.
type executor struct {
	ns  *Namespace
	m   *manifest.Manifest
	req *query.Request

	// filterIDs holds the globally allowed doc ids when a filter was
	// evaluated (filter-first or post-intersection).
	filterIDs *roaring64.Bitmap
}

func (ex *executor) run(ctx context.Context) ([]query.Scored, error) {
	plan := ex.choosePlan(ctx)

	if plan.FilterFirst || plan.FilterOnly {
		allowed, err := ex.evaluateFilter(ctx)
		if err != nil {
			return nil, err
		}
		ex.filterIDs = allowed
	}

	if plan.FilterOnly {
		return ex.filterOnlyResults(), nil
	}

	var vectorRank, textRank []query.Scored
	var err error
	if ex.req.Vector != nil {
		vectorRank, err = ex.vectorSearch(ctx)
		if err != nil {
			return nil, err
		}
	}
	if ex.req.FullText != nil {
		textRank, err = ex.textSearch(ctx)
		if err != nil {
			return nil, err
		}
	}

	// Retrieve-first: intersect candidates with the filter afterwards.
	if ex.req.Filter != nil && ex.filterIDs == nil {
		allowed, err := ex.evaluateFilter(ctx)
		if err != nil {
			return nil, err
		}
		vectorRank = intersectScored(vectorRank, allowed)
		textRank = intersectScored(textRank, allowed)
	}

	switch {
	case vectorRank != nil && textRank != nil:
		weights := ex.req.FusionWeights
		if len(weights) == 0 {
			weights = []float32{1, 1}
		}
		return query.ReciprocalRankFusion(
			[][]query.Scored{vectorRank, textRank}, weights, query.RRFConstant, ex.req.TopK), nil
	case vectorRank != nil:
		if len(vectorRank) > ex.req.TopK {
			vectorRank = vectorRank[:ex.req.TopK]
		}
		return vectorRank, nil
	default:
		if len(textRank) > ex.req.TopK {
			textRank = textRank[:ex.req.TopK]
		}
		return textRank, nil
	}
}

// choosePlan estimates filter selectivity per segment and picks the
// execution order.
func (ex *executor) choosePlan(ctx context.Context) query.Plan {
	maxSel := -1
	if ex.req.Filter != nil {
		maxSel = 0
		for i := range ex.m.Segments {
			seg := &ex.m.Segments[i]
			sd := &segmentData{ctx: ctx, ns: ex.ns, seg: seg}
			if s := filter.EstimateSelectivity(ex.req.Filter, sd); s > maxSel {
				maxSel = s
			}
		}
	}
	return query.ChoosePlan(ex.req, maxSel, ex.ns.deps.FilterFirstThreshold)
}

// evaluateFilter computes the global allowed id set: the union over
// segments of live (non-tombstoned) rows satisfying the expression.
func (ex *executor) evaluateFilter(ctx context.Context) (*roaring64.Bitmap, error) {
	allowed := roaring64.New()
	if ex.req.Filter == nil {
		return allowed, nil
	}
	type segResult struct {
		seg  *model.SegmentEntry
		rows *roaring.Bitmap
	}
	results := make([]segResult, len(ex.m.Segments))
	tasks := make([]func() error, 0, len(ex.m.Segments))
	for i := range ex.m.Segments {
		i := i
		seg := &ex.m.Segments[i]
		tasks = append(tasks, func() error {
			sd := &segmentData{ctx: ctx, ns: ex.ns, seg: seg}
			rows, err := filter.Evaluate(ex.req.Filter, sd)
			if err != nil {
				return ex.segmentFailure(seg, err)
			}
			results[i] = segResult{seg: seg, rows: rows}
			return nil
		})
	}
	if err := ex.ns.runTasks(tasks); err != nil {
		return nil, err
	}

	for _, res := range results {
		if res.rows == nil || res.rows.IsEmpty() {
			continue
		}
		payload, err := ex.ns.segmentPayload(ctx, res.seg)
		if err != nil {
			if ferr := ex.segmentFailure(res.seg, err); ferr != nil {
				return nil, ferr
			}
			continue
		}
		ids, err := payload.IDs()
		if err != nil {
			return nil, elacsym.Wrap(elacsym.KindCorruption, err, "segment %s id column", res.seg.SegmentID)
		}
		it := res.rows.Iterator()
		for it.HasNext() {
			row := it.Next()
			id := ids[row]
			if !res.seg.IsTombstoned(id) {
				allowed.Add(uint64(id))
			}
		}
	}
	return allowed, nil
}

// segmentFailure applies the partial-results policy to one segment's
// error: skipped when the request opted in, surfaced otherwise.
func (ex *executor) segmentFailure(seg *model.SegmentEntry, err error) error {
	if ex.req.AllowPartial {
		ex.ns.logger.Warn("segment unserviceable, returning partial results",
			"segment", seg.SegmentID, "error", err)
		return nil
	}
	if elacsym.KindOf(err) != elacsym.KindUnknown {
		return err
	}
	return elacsym.Wrap(elacsym.KindStorage, err, "segment %s", seg.SegmentID)
}

// filterOnlyResults orders the filter bitmap by id.
func (ex *executor) filterOnlyResults() []query.Scored {
	out := make([]query.Scored, 0, ex.req.TopK)
	it := ex.filterIDs.Iterator()
	for it.HasNext() && len(out) < ex.req.TopK {
		out = append(out, query.Scored{ID: model.DocID(it.Next())})
	}
	return out
}

// vecScore converts an internal distance into the user-facing score:
// similarity for cosine/dot, squared distance for l2.
func (ex *executor) vecScore(dist float32) float32 {
	if ex.m.Schema.VectorMetric.Descending() {
		return -dist
	}
	return dist
}

// vectorSearch fans out per-segment probes and merges shortlists
// globally.
func (ex *executor) vectorSearch(ctx context.Context) ([]query.Scored, error) {
	req := ex.req
	scale := req.ANN.RerankScale
	if scale <= 0 {
		scale = 5
	}
	mode := ivf.RerankQuantized
	switch req.ANN.RerankMode {
	case query.RerankNone:
		mode = ivf.RerankNone
	case query.RerankExact:
		mode = ivf.RerankExact
	}

	perSegment := make([][]ivf.Candidate, len(ex.m.Segments))
	tasks := make([]func() error, 0, len(ex.m.Segments))
	for i := range ex.m.Segments {
		i := i
		seg := &ex.m.Segments[i]
		if seg.VectorIndexKey == "" {
			continue
		}
		tasks = append(tasks, func() error {
			index, err := ex.ns.segmentIVF(ctx, seg)
			if err != nil {
				return ex.segmentFailure(seg, err)
			}
			cands, err := index.Search(req.Vector, req.TopK, ivf.SearchOptions{
				ProbeFraction: req.ANN.NProbeRatio,
				RerankScale:   scale,
				Rerank:        mode,
				Allow:         ex.filterIDs,
			})
			if err != nil {
				return ex.segmentFailure(seg, err)
			}
			if mode == ivf.RerankExact {
				cands, err = ex.exactRerank(ctx, seg, cands)
				if err != nil {
					return ex.segmentFailure(seg, err)
				}
			}
			// Drop tombstoned rows before the global merge.
			live := cands[:0]
			for _, c := range cands {
				if !seg.IsTombstoned(c.ID) {
					live = append(live, c)
				}
			}
			perSegment[i] = live
			return nil
		})
	}
	if err := ex.ns.runTasks(tasks); err != nil {
		return nil, err
	}

	// Global merge: best distance wins per id.
	best := make(map[model.DocID]float32)
	for _, cands := range perSegment {
		for _, c := range cands {
			if cur, ok := best[c.ID]; !ok || c.Dist < cur {
				best[c.ID] = c.Dist
			}
		}
	}
	merged := make([]query.Scored, 0, len(best))
	for id, dist := range best {
		merged = append(merged, query.Scored{ID: id, Score: ex.vecScore(dist)})
	}
	descending := ex.m.Schema.VectorMetric.Descending()
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			if descending {
				return a.Score > b.Score
			}
			return a.Score < b.Score
		}
		return a.ID < b.ID
	})
	limit := req.TopK * scale
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// exactRerank replaces estimated distances with exact float distances for
// the shortlist, then trims to topK.
func (ex *executor) exactRerank(ctx context.Context, seg *model.SegmentEntry, cands []ivf.Candidate) ([]ivf.Candidate, error) {
	if len(cands) == 0 {
		return cands, nil
	}
	payload, err := ex.ns.segmentPayload(ctx, seg)
	if err != nil {
		return nil, err
	}
	metric := ex.m.Schema.VectorMetric
	for i := range cands {
		row, ok := payload.RowOf(cands[i].ID)
		if !ok {
			continue
		}
		vec, ok, err := payload.VectorAt(row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		switch metric {
		case model.MetricL2:
			cands[i].Dist = distance.SquaredL2(ex.req.Vector, vec)
		case model.MetricCosine:
			cands[i].Dist = -distance.Cosine(ex.req.Vector, vec)
		default:
			cands[i].Dist = -distance.Dot(ex.req.Vector, vec)
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Dist != cands[j].Dist {
			return cands[i].Dist < cands[j].Dist
		}
		return cands[i].ID < cands[j].ID
	})
	if len(cands) > ex.req.TopK {
		cands = cands[:ex.req.TopK]
	}
	return cands, nil
}

// textSearch queries per-field readers per segment, combines field scores
// per document, and merges segments by taking the best score per id.
func (ex *executor) textSearch(ctx context.Context) ([]query.Scored, error) {
	req := ex.req
	fetch := req.TopK * 2

	perSegment := make([]map[model.DocID]float32, len(ex.m.Segments))
	tasks := make([]func() error, 0, len(ex.m.Segments))
	for i := range ex.m.Segments {
		i := i
		seg := &ex.m.Segments[i]
		if len(seg.FullTextKeys) == 0 {
			continue
		}
		tasks = append(tasks, func() error {
			combined := make(map[model.DocID]float32)
			for _, field := range req.FullText.Fields {
				if _, ok := seg.FullTextKeys[field]; !ok {
					continue
				}
				reader, err := ex.ns.segmentFTS(ctx, seg, field)
				if err != nil {
					return ex.segmentFailure(seg, err)
				}
				hits, err := reader.Search(req.FullText.Query, fetch)
				if err != nil {
					return ex.segmentFailure(seg, err)
				}
				weight := req.FullText.Weight(field)
				for _, hit := range hits {
					if seg.IsTombstoned(hit.ID) {
						continue
					}
					combined[hit.ID] += weight * hit.Score
				}
			}
			perSegment[i] = combined
			return nil
		})
	}
	if err := ex.ns.runTasks(tasks); err != nil {
		return nil, err
	}

	best := make(map[model.DocID]float32)
	for _, seg := range perSegment {
		for id, score := range seg {
			if cur, ok := best[id]; !ok || score > cur {
				best[id] = score
			}
		}
	}
	merged := make([]query.Scored, 0, len(best))
	for id, score := range best {
		merged = append(merged, query.Scored{ID: id, Score: score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > fetch {
		merged = merged[:fetch]
	}
	return merged, nil
}

func intersectScored(ranking []query.Scored, allowed *roaring64.Bitmap) []query.Scored {
	if ranking == nil {
		return nil
	}
	out := ranking[:0]
	for _, s := range ranking {
		if allowed.Contains(uint64(s.ID)) {
			out = append(out, s)
		}
	}
	return out
}

// materialize fetches rows for the ordered ids and projects requested
// columns.
func (ns *Namespace) materialize(ctx context.Context, m *manifest.Manifest, ordered []query.Scored, req *query.Request) ([]query.Result, error) {
	ids := make([]model.DocID, 0, len(ordered))
	for _, s := range ordered {
		ids = append(ids, s.ID)
	}
	needRows := req.IncludeVector || len(req.IncludeAttributes) > 0
	var fetched map[model.DocID]model.Document
	if needRows {
		docs, err := ns.fetchRows(ctx, m, ids, req.IncludeAttributes, req.IncludeVector, false)
		if err != nil {
			return nil, err
		}
		fetched = make(map[model.DocID]model.Document, len(docs))
		for _, doc := range docs {
			fetched[doc.ID] = doc
		}
	}

	results := make([]query.Result, 0, len(ordered))
	for _, s := range ordered {
		res := query.Result{ID: s.ID, Score: s.Score}
		if doc, ok := fetched[s.ID]; ok {
			if req.IncludeVector {
				res.Vector = doc.Vector
			}
			res.Attributes = doc.Attributes
		}
		results = append(results, res)
	}
	return results, nil
}

// fetchRows reads documents by id, newest segment first so the latest
// version of an id wins. allAttributes overrides the projection.
func (ns *Namespace) fetchRows(ctx context.Context, m *manifest.Manifest, ids []model.DocID, includeAttrs []string, includeVector, allAttributes bool) ([]model.Document, error) {
	projection := includeAttrs
	if allAttributes {
		projection = nil
	} else if projection == nil {
		projection = []string{}
	}

	remaining := make(map[model.DocID]struct{}, len(ids))
	for _, id := range ids {
		remaining[id] = struct{}{}
	}
	var out []model.Document

	for i := len(m.Segments) - 1; i >= 0 && len(remaining) > 0; i-- {
		seg := &m.Segments[i]
		var want []model.DocID
		for id := range remaining {
			if seg.Contains(id) && !seg.IsTombstoned(id) {
				want = append(want, id)
			}
		}
		if len(want) == 0 {
			continue
		}
		payload, err := ns.segmentPayload(ctx, seg)
		if err != nil {
			return nil, err
		}
		docs, err := payload.ReadByIDs(want, projection, includeVector || allAttributes)
		if err != nil {
			return nil, elacsym.Wrap(elacsym.KindCorruption, err, "segment %s rows", seg.SegmentID)
		}
		for _, doc := range docs {
			delete(remaining, doc.ID)
			out = append(out, doc)
		}
	}
	return out, nil
}

// segmentData adapts one segment to the filter evaluator.
type segmentData struct {
	ctx context.Context
	ns  *Namespace
	seg *model.SegmentEntry

	payload *codec.Segment
}

func (sd *segmentData) RowCount() int { return sd.seg.RowCount }

func (sd *segmentData) AttrIndex(field string) (*filter.AttrIndex, bool, error) {
	key, ok := sd.seg.FilterKeys[field]
	if !ok {
		return nil, false, nil
	}
	data, err := sd.ns.cachedBlob(sd.ctx, cache.FilterKey(sd.ns.name, sd.seg.SegmentID, field), key)
	if err != nil {
		return nil, false, err
	}
	ix, err := filter.OpenAttr(data)
	if err != nil {
		return nil, false, elacsym.Wrap(elacsym.KindCorruption, err, "filter index %s", key)
	}
	return ix, true, nil
}

func (sd *segmentData) Column(field string) ([]model.Value, error) {
	if sd.payload == nil {
		payload, err := sd.ns.segmentPayload(sd.ctx, sd.seg)
		if err != nil {
			return nil, err
		}
		sd.payload = payload
	}
	if !sd.payload.HasColumn(field) {
		return make([]model.Value, sd.seg.RowCount), nil
	}
	return sd.payload.ReadColumn(field)
}

// cachedBlob reads an immutable object through the two-tier cache.
func (ns *Namespace) cachedBlob(ctx context.Context, cacheKey, objectKey string) ([]byte, error) {
	fetch := func(ctx context.Context) ([]byte, error) {
		return ns.deps.Blob.Get(ctx, objectKey)
	}
	var data []byte
	var err error
	if ns.deps.Cache != nil {
		data, err = ns.deps.Cache.GetOrFetch(ctx, cacheKey, fetch)
	} else {
		data, err = fetch(ctx)
	}
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, elacsym.E(elacsym.KindStorage, "object %s missing", objectKey)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, elacsym.Wrap(elacsym.KindTimeout, err, "fetch %s", objectKey)
		}
		return nil, elacsym.Wrap(elacsym.KindStorage, err, "fetch %s", objectKey)
	}
	return data, nil
}

func (ns *Namespace) segmentPayload(ctx context.Context, seg *model.SegmentEntry) (*codec.Segment, error) {
	data, err := ns.cachedBlob(ctx, cache.SegmentKey(ns.name, seg.SegmentID), seg.RowsKey)
	if err != nil {
		return nil, err
	}
	payload, err := codec.Open(data)
	if err != nil {
		return nil, elacsym.Wrap(elacsym.KindCorruption, err, "segment %s payload", seg.SegmentID)
	}
	return payload, nil
}

func (ns *Namespace) segmentIVF(ctx context.Context, seg *model.SegmentEntry) (*ivf.Index, error) {
	vidx, err := ns.cachedBlob(ctx, cache.VectorIndexKey(ns.name, seg.SegmentID), seg.VectorIndexKey)
	if err != nil {
		return nil, err
	}
	cents, err := ns.cachedBlob(ctx, cache.CentroidsKey(ns.name, seg.SegmentID), seg.CentroidsKey)
	if err != nil {
		return nil, err
	}
	index, err := ivf.Open(vidx, cents)
	if err != nil {
		return nil, elacsym.Wrap(elacsym.KindStorage, err, "segment %s vector index unreadable", seg.SegmentID)
	}
	return index, nil
}

func (ns *Namespace) segmentFTS(ctx context.Context, seg *model.SegmentEntry, field string) (*fts.Reader, error) {
	key := seg.FullTextKeys[field]
	data, err := ns.cachedBlob(ctx, cache.FullTextKey(ns.name, seg.SegmentID, field), key)
	if err != nil {
		return nil, err
	}
	reader, err := fts.OpenReader(data)
	if err != nil {
		return nil, elacsym.Wrap(elacsym.KindCorruption, err, "full-text index %s", key)
	}
	return reader, nil
}
