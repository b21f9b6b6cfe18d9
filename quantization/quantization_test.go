package quantization

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqhl/elacsym/distance"
	"github.com/lqhl/elacsym/model"
)

func randomVectors(n, dim int, seed int64) []model.Vector {
	rng := rand.New(rand.NewSource(seed))
	out := make([]model.Vector, n)
	for i := range out {
		v := make(model.Vector, dim)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func TestCoarseEncodeDeterministic(t *testing.T) {
	vectors := randomVectors(64, 32, 1)
	q := NewCoarseQuantizer(32, model.MetricL2)
	require.NoError(t, q.Train(vectors))

	first := q.Encode(vectors[0])
	for i := 0; i < 8; i++ {
		assert.Equal(t, first, q.Encode(vectors[0]))
	}
}

func TestCoarseTrainIdempotent(t *testing.T) {
	vectors := randomVectors(64, 16, 2)
	a := NewCoarseQuantizer(16, model.MetricL2)
	b := NewCoarseQuantizer(16, model.MetricL2)
	require.NoError(t, a.Train(vectors))
	require.NoError(t, b.Train(vectors))
	assert.Equal(t, a.Marshal(), b.Marshal(), "training twice on the same input must match")
}

func TestCoarseEstimatePreservesOrderOnSeparatedData(t *testing.T) {
	// Two well-separated clusters: estimates must rank a same-cluster
	// candidate above a far-cluster candidate.
	dim := 64
	var vectors []model.Vector
	for i := 0; i < 32; i++ {
		v := make(model.Vector, dim)
		for d := range v {
			v[d] = 1 + float32(i%3)*0.01
		}
		vectors = append(vectors, v)
		w := make(model.Vector, dim)
		for d := range w {
			w[d] = -1 - float32(i%3)*0.01
		}
		vectors = append(vectors, w)
	}
	q := NewCoarseQuantizer(dim, model.MetricL2)
	require.NoError(t, q.Train(vectors))

	query := vectors[0]
	qs := q.QuerySide(query)
	near := q.Estimate(qs, q.Encode(vectors[2]))  // same cluster
	far := q.Estimate(qs, q.Encode(vectors[1]))   // opposite cluster
	assert.Less(t, near, far)
}

func TestCoarseMarshalRoundTrip(t *testing.T) {
	vectors := randomVectors(32, 24, 3)
	q := NewCoarseQuantizer(24, model.MetricCosine)
	require.NoError(t, q.Train(vectors))

	restored, err := UnmarshalCoarse(q.Marshal())
	require.NoError(t, err)
	assert.Equal(t, q.Marshal(), restored.Marshal())
	assert.Equal(t, q.Encode(vectors[5]), restored.Encode(vectors[5]))
}

func TestUnmarshalCoarseRejectsGarbage(t *testing.T) {
	_, err := UnmarshalCoarse([]byte("nope"))
	assert.Error(t, err)
}

func TestFineEncodeDecodeBounds(t *testing.T) {
	vectors := randomVectors(128, 16, 4)
	q := NewFineQuantizer(16, model.MetricL2)
	require.NoError(t, q.Train(vectors))

	for _, v := range vectors[:16] {
		code := q.Encode(v)
		recon := q.Decode(code)
		require.Len(t, recon, 16)
		// Reconstruction error is bounded by half a quantization step.
		for d := range v {
			assert.InDelta(t, v[d], recon[d], float64(q.scales[d])*0.51+1e-6)
		}
	}
}

func TestFineEstimateRanksLikeExact(t *testing.T) {
	vectors := randomVectors(256, 32, 5)
	q := NewFineQuantizer(32, model.MetricL2)
	require.NoError(t, q.Train(vectors))

	query := vectors[0]
	type pair struct {
		exact, est float32
	}
	pairs := make([]pair, 0, 64)
	for _, v := range vectors[1:65] {
		pairs = append(pairs, pair{
			exact: distance.SquaredL2(query, v),
			est:   q.Estimate(query, q.Encode(v)),
		})
	}
	byExact := make([]pair, len(pairs))
	copy(byExact, pairs)
	sort.Slice(byExact, func(i, j int) bool { return byExact[i].exact < byExact[j].exact })
	byEst := make([]pair, len(pairs))
	copy(byEst, pairs)
	sort.Slice(byEst, func(i, j int) bool { return byEst[i].est < byEst[j].est })

	// The nearest by estimate should be nearly as close as the true nearest:
	// its exact distance may exceed the best by at most the ninth-best.
	assert.InDelta(t, byExact[0].exact, byEst[0].exact, float64(byExact[8].exact))
}

func TestFineMarshalRoundTrip(t *testing.T) {
	vectors := randomVectors(64, 20, 6)
	q := NewFineQuantizer(20, model.MetricDot)
	require.NoError(t, q.Train(vectors))

	restored, err := UnmarshalFine(q.Marshal())
	require.NoError(t, err)
	assert.Equal(t, q.Marshal(), restored.Marshal())
	assert.Equal(t, q.Encode(vectors[3]), restored.Encode(vectors[3]))
	assert.Equal(t, q.Estimate(vectors[0], q.Encode(vectors[3])),
		restored.Estimate(vectors[0], restored.Encode(vectors[3])))
}

func TestFineConstantDimension(t *testing.T) {
	// A dimension with zero spread must encode and decode exactly.
	vectors := []model.Vector{{1, 5}, {2, 5}, {3, 5}}
	q := NewFineQuantizer(2, model.MetricL2)
	require.NoError(t, q.Train(vectors))
	recon := q.Decode(q.Encode(model.Vector{2, 5}))
	assert.InDelta(t, 5.0, float64(recon[1]), 1e-6)
}
