package ivf

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/lqhl/elacsym/distance"
	"github.com/lqhl/elacsym/model"
	"github.com/lqhl/elacsym/quantization"
)

// Params controls index construction.
type Params struct {
	// ClusterFactor scales K = round(ClusterFactor * sqrt(N)).
	ClusterFactor float64
	// KMin/KMax clamp the centroid count.
	KMin, KMax int
	// SmallPartLimit: when N*dim <= this, use K=1 (scan all codes).
	SmallPartLimit int
	// MaxIters bounds Lloyd iterations.
	MaxIters int
	// BlockSize bounds the byte size of a posting block.
	BlockSize int
}

// DefaultParams matches the engine defaults.
var DefaultParams = Params{
	ClusterFactor:  1.0,
	KMin:           1,
	KMax:           65536,
	SmallPartLimit: 200_000,
	MaxIters:       25,
	BlockSize:      8 << 10,
}

func (p Params) withDefaults() Params {
	d := DefaultParams
	if p.ClusterFactor > 0 {
		d.ClusterFactor = p.ClusterFactor
	}
	if p.KMin > 0 {
		d.KMin = p.KMin
	}
	if p.KMax > 0 {
		d.KMax = p.KMax
	}
	if p.SmallPartLimit > 0 {
		d.SmallPartLimit = p.SmallPartLimit
	}
	if p.MaxIters > 0 {
		d.MaxIters = p.MaxIters
	}
	if p.BlockSize > 0 {
		d.BlockSize = p.BlockSize
	}
	return d
}

// RerankMode selects the second stage applied to the coarse shortlist.
type RerankMode uint8

const (
	// RerankQuantized reranks with the fine code (default).
	RerankQuantized RerankMode = iota
	// RerankNone returns the coarse ordering directly.
	RerankNone
	// RerankExact returns the fine-ranked shortlist untrimmed so the
	// caller can rerank with raw floats.
	RerankExact
)

// SearchOptions tunes one probe.
type SearchOptions struct {
	// NProbe overrides the probed cluster count; 0 selects from
	// ProbeFraction or the recall budget heuristic.
	NProbe int
	// ProbeFraction sets nprobe = round(ProbeFraction * K) when NProbe
	// is zero.
	ProbeFraction float64
	// RecallBudget is the α in nprobe ≈ α·√(N/K); used when neither
	// NProbe nor ProbeFraction is set. Zero means α = 1.
	RecallBudget float64
	// NProbeCap bounds nprobe; zero means 64.
	NProbeCap int
	// RerankScale multiplies topK to size the shortlist; zero means 5.
	RerankScale int
	Rerank      RerankMode
	// Allow restricts scanning to these document ids (filter-first).
	Allow *roaring64.Bitmap
}

// Candidate is a scored search result. Dist is on the metric's distance
// scale: lower is better for every metric.
type Candidate struct {
	ID   model.DocID
	Dist float32
}

// Index is the immutable per-segment partition index.
type Index struct {
	dim    int
	metric model.Metric
	k      int

	centroids []float32
	coarse    *quantization.CoarseQuantizer
	fine      *quantization.FineQuantizer

	// Slab arrays ordered by (cluster, id).
	ids         []model.DocID
	coarseCodes []uint64 // len(ids) * words
	fineCodes   []byte   // len(ids) * dim

	clusters []clusterPostings
}

type clusterPostings struct {
	blocks []postingBlock
}

// postingBlock is a block-aligned run of postings with a skip header.
type postingBlock struct {
	firstID model.DocID
	count   int
	// data holds (docIdΔ varint, slab offset Δ varint) pairs.
	data []byte
}

// Size returns the number of indexed vectors.
func (ix *Index) Size() int { return len(ix.ids) }

// Clusters returns the centroid count.
func (ix *Index) Clusters() int { return ix.k }

// Build trains the index for one segment's vectors.
func Build(dim int, metric model.Metric, ids []model.DocID, vectors []model.Vector, params Params) (*Index, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("cannot build an empty vector index")
	}
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(v))
		}
	}
	p := params.withDefaults()
	n := len(ids)

	// Cosine reduces to dot over unit vectors; normalize copies so codes
	// and centroids live on the unit sphere.
	if metric == model.MetricCosine {
		normalized := make([]model.Vector, len(vectors))
		for i, v := range vectors {
			if nv, ok := distance.NormalizeL2Copy(v); ok {
				normalized[i] = nv
			} else {
				normalized[i] = v
			}
		}
		vectors = normalized
	}

	k := 1
	if n*dim > p.SmallPartLimit {
		k = int(math.Round(p.ClusterFactor * math.Sqrt(float64(n))))
		if k < p.KMin {
			k = p.KMin
		}
		if k > p.KMax {
			k = p.KMax
		}
		if k > n {
			k = n
		}
	}

	coarse := quantization.NewCoarseQuantizer(dim, metric)
	if err := coarse.Train(vectors); err != nil {
		return nil, err
	}
	fine := quantization.NewFineQuantizer(dim, metric)
	if err := fine.Train(vectors); err != nil {
		return nil, err
	}

	flat := make([]float32, 0, n*dim)
	for _, v := range vectors {
		flat = append(flat, v...)
	}

	var centroids []float32
	assignments := make([]int, n)
	if k > 1 {
		centroids = trainCentroids(flat, dim, k, p.MaxIters)
		k = len(centroids) / dim
		for i := 0; i < n; i++ {
			assignments[i] = assign(flat[i*dim:(i+1)*dim], centroids, dim)
		}
	} else {
		centroids = centroidOf(flat, dim)
	}

	// Slab order: cluster, then id.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if assignments[ia] != assignments[ib] {
			return assignments[ia] < assignments[ib]
		}
		return ids[ia] < ids[ib]
	})

	words := coarse.Words()
	ix := &Index{
		dim:         dim,
		metric:      metric,
		k:           k,
		centroids:   centroids,
		coarse:      coarse,
		fine:        fine,
		ids:         make([]model.DocID, n),
		coarseCodes: make([]uint64, n*words),
		fineCodes:   make([]byte, n*dim),
		clusters:    make([]clusterPostings, k),
	}

	builders := make([]*blockBuilder, k)
	for c := range builders {
		builders[c] = newBlockBuilder(p.BlockSize)
	}
	for slab, src := range order {
		id := ids[src]
		ix.ids[slab] = id
		copy(ix.coarseCodes[slab*words:], coarse.Encode(vectors[src]))
		copy(ix.fineCodes[slab*dim:], fine.Encode(vectors[src]))
		builders[assignments[src]].add(id, uint32(slab))
	}
	for c := range builders {
		ix.clusters[c] = clusterPostings{blocks: builders[c].finish()}
	}
	return ix, nil
}

func centroidOf(flat []float32, dim int) []float32 {
	n := len(flat) / dim
	out := make([]float32, dim)
	for i := 0; i < n; i++ {
		for d := 0; d < dim; d++ {
			out[d] += flat[i*dim+d]
		}
	}
	inv := 1 / float32(n)
	for d := range out {
		out[d] *= inv
	}
	return out
}

// nprobeFor resolves the probed cluster count from the options.
func (ix *Index) nprobeFor(opts SearchOptions) int {
	limit := opts.NProbeCap
	if limit <= 0 {
		limit = 64
	}
	if limit > ix.k {
		limit = ix.k
	}
	nprobe := opts.NProbe
	if nprobe == 0 && opts.ProbeFraction > 0 {
		nprobe = int(math.Round(opts.ProbeFraction * float64(ix.k)))
	}
	if nprobe == 0 {
		alpha := opts.RecallBudget
		if alpha <= 0 {
			alpha = 1
		}
		nprobe = int(math.Round(alpha * math.Sqrt(float64(len(ix.ids))/float64(ix.k))))
	}
	if nprobe < 1 {
		nprobe = 1
	}
	if nprobe > limit {
		nprobe = limit
	}
	return nprobe
}

// scored tracks a shortlist member with its slab position so the rerank
// stage can reach its fine code without a lookup.
type scored struct {
	id   model.DocID
	slab uint32
	dist float32
}

// distHeap is a max-heap over candidate distances so the worst shortlist
// member is evictable in O(log n).
type distHeap []scored

func (h distHeap) Len() int           { return len(h) }
func (h distHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h distHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *distHeap) Pop() any          { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

// Search probes the index. Results come back best-first on the metric's
// distance scale. With RerankExact the shortlist is returned fine-ranked
// and untrimmed for the caller's float rerank.
func (ix *Index) Search(query model.Vector, topK int, opts SearchOptions) ([]Candidate, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", ix.dim, len(query))
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	scale := opts.RerankScale
	if scale <= 0 {
		scale = 5
	}
	shortlistSize := topK * scale

	if ix.metric == model.MetricCosine {
		if nq, ok := distance.NormalizeL2Copy(query); ok {
			query = nq
		}
	}

	querySide := ix.coarse.QuerySide(query)
	words := ix.coarse.Words()

	// Select clusters to scan.
	var clusters []int
	if ix.k == 1 {
		clusters = []int{0}
	} else {
		nprobe := ix.nprobeFor(opts)
		clusters = ix.nearestCentroids(query, nprobe)
	}

	// Coarse scan over the selected posting lists.
	h := make(distHeap, 0, shortlistSize+1)
	for _, c := range clusters {
		for _, blk := range ix.clusters[c].blocks {
			blk.scan(func(id model.DocID, slab uint32) {
				if opts.Allow != nil && !opts.Allow.Contains(uint64(id)) {
					return
				}
				est := ix.coarse.Estimate(querySide, ix.coarseCodes[int(slab)*words:(int(slab)+1)*words])
				if len(h) < shortlistSize {
					heap.Push(&h, scored{id: id, slab: slab, dist: est})
				} else if est < h[0].dist {
					h[0] = scored{id: id, slab: slab, dist: est}
					heap.Fix(&h, 0)
				}
			})
		}
	}

	shortlist := make([]scored, len(h))
	copy(shortlist, h)

	if opts.Rerank != RerankNone {
		for i := range shortlist {
			slab := int(shortlist[i].slab)
			shortlist[i].dist = ix.fine.Estimate(query, ix.fineCodes[slab*ix.dim:(slab+1)*ix.dim])
		}
	}
	sortScored(shortlist)

	if opts.Rerank != RerankExact && len(shortlist) > topK {
		shortlist = shortlist[:topK]
	}
	out := make([]Candidate, len(shortlist))
	for i, s := range shortlist {
		out[i] = Candidate{ID: s.id, Dist: s.dist}
	}
	return out, nil
}

func sortScored(cands []scored) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].id < cands[j].id
	})
}

// nearestCentroids returns the nprobe nearest cluster indexes.
func (ix *Index) nearestCentroids(query model.Vector, nprobe int) []int {
	type centDist struct {
		idx  int
		dist float32
	}
	dists := make([]centDist, ix.k)
	for j := 0; j < ix.k; j++ {
		dists[j] = centDist{j, distance.SquaredL2(query, ix.centroids[j*ix.dim:(j+1)*ix.dim])}
	}
	sort.Slice(dists, func(a, b int) bool {
		if dists[a].dist != dists[b].dist {
			return dists[a].dist < dists[b].dist
		}
		return dists[a].idx < dists[b].idx
	})
	if nprobe > len(dists) {
		nprobe = len(dists)
	}
	out := make([]int, nprobe)
	for i := 0; i < nprobe; i++ {
		out[i] = dists[i].idx
	}
	return out
}

// FineDistance evaluates the fine estimator for a single indexed id,
// for callers that re-score candidates outside a full probe.
func (ix *Index) FineDistance(query model.Vector, id model.DocID) (float32, bool) {
	for c := range ix.clusters {
		for _, blk := range ix.clusters[c].blocks {
			found := -1
			blk.scan(func(did model.DocID, slab uint32) {
				if did == id {
					found = int(slab)
				}
			})
			if found >= 0 {
				return ix.fine.Estimate(query, ix.fineCodes[found*ix.dim:(found+1)*ix.dim]), true
			}
		}
	}
	return 0, false
}
