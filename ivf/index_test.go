package ivf

import (
	"math/rand"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqhl/elacsym/model"
)

func clusteredVectors(n, dim int, seed int64) ([]model.DocID, []model.Vector) {
	rng := rand.New(rand.NewSource(seed))
	ids := make([]model.DocID, n)
	vectors := make([]model.Vector, n)
	for i := range vectors {
		center := float32(i%4) * 10
		v := make(model.Vector, dim)
		for d := range v {
			v[d] = center + float32(rng.NormFloat64())*0.1
		}
		ids[i] = model.DocID(i + 1)
		vectors[i] = v
	}
	return ids, vectors
}

func TestBuildSmallPartUsesSingleCluster(t *testing.T) {
	ids, vectors := clusteredVectors(50, 8, 1)
	ix, err := Build(8, model.MetricL2, ids, vectors, Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Clusters(), "N*dim below the small-part limit scans all codes")
	assert.Equal(t, 50, ix.Size())
}

func TestBuildClustersLargeParts(t *testing.T) {
	ids, vectors := clusteredVectors(400, 512, 2)
	ix, err := Build(512, model.MetricL2, ids, vectors, Params{SmallPartLimit: 1000})
	require.NoError(t, err)
	assert.Greater(t, ix.Clusters(), 1)
}

func TestSearchFindsNearest(t *testing.T) {
	ids, vectors := clusteredVectors(200, 16, 3)
	ix, err := Build(16, model.MetricL2, ids, vectors, Params{})
	require.NoError(t, err)

	// Query right on top of vector 10: it must come back first.
	cands, err := ix.Search(vectors[9], 5, SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, ids[9], cands[0].ID)
}

func TestSearchDeterministic(t *testing.T) {
	ids, vectors := clusteredVectors(300, 24, 4)
	ix, err := Build(24, model.MetricL2, ids, vectors, Params{})
	require.NoError(t, err)

	first, err := ix.Search(vectors[0], 10, SearchOptions{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ix.Search(vectors[0], 10, SearchOptions{})
		require.NoError(t, err)
		assert.Equal(t, first, again, "identical inputs must return identical id order")
	}
}

func TestSearchHonorsAllowlist(t *testing.T) {
	ids, vectors := clusteredVectors(100, 8, 5)
	ix, err := Build(8, model.MetricL2, ids, vectors, Params{})
	require.NoError(t, err)

	allow := roaring64.New()
	allow.Add(uint64(ids[3]))
	allow.Add(uint64(ids[7]))

	cands, err := ix.Search(vectors[0], 10, SearchOptions{Allow: allow})
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	for _, c := range cands {
		assert.True(t, allow.Contains(uint64(c.ID)), "candidate %d escaped the allowlist", c.ID)
	}
}

func TestSearchRerankModes(t *testing.T) {
	ids, vectors := clusteredVectors(120, 8, 6)
	ix, err := Build(8, model.MetricL2, ids, vectors, Params{})
	require.NoError(t, err)

	coarse, err := ix.Search(vectors[0], 4, SearchOptions{Rerank: RerankNone})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(coarse), 4)

	exact, err := ix.Search(vectors[0], 4, SearchOptions{Rerank: RerankExact, RerankScale: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(exact), 12, "exact mode returns the untrimmed shortlist")
	assert.GreaterOrEqual(t, len(exact), 4)
}

func TestSearchDimensionMismatch(t *testing.T) {
	ids, vectors := clusteredVectors(20, 8, 7)
	ix, err := Build(8, model.MetricL2, ids, vectors, Params{})
	require.NoError(t, err)

	_, err = ix.Search(make(model.Vector, 9), 5, SearchOptions{})
	assert.Error(t, err)
}

func TestSerializeRoundTrip(t *testing.T) {
	ids, vectors := clusteredVectors(250, 16, 8)
	ix, err := Build(16, model.MetricCosine, ids, vectors, Params{SmallPartLimit: 100})
	require.NoError(t, err)

	restored, err := Open(ix.Marshal(), ix.MarshalCentroids())
	require.NoError(t, err)
	assert.Equal(t, ix.Clusters(), restored.Clusters())
	assert.Equal(t, ix.Size(), restored.Size())

	want, err := ix.Search(vectors[42], 10, SearchOptions{})
	require.NoError(t, err)
	got, err := restored.Search(vectors[42], 10, SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, want, got, "restored index must rank identically")
}

func TestOpenRejectsCorruptBlob(t *testing.T) {
	ids, vectors := clusteredVectors(30, 8, 9)
	ix, err := Build(8, model.MetricL2, ids, vectors, Params{})
	require.NoError(t, err)

	vidx := ix.Marshal()
	_, err = Open(vidx[:8], ix.MarshalCentroids())
	assert.Error(t, err)

	_, err = Open(vidx, []byte("bad"))
	assert.Error(t, err)
}

func TestBuildRejectsMismatchedInput(t *testing.T) {
	_, err := Build(4, model.MetricL2, []model.DocID{1}, nil, Params{})
	assert.Error(t, err)

	_, err = Build(4, model.MetricL2, []model.DocID{1}, []model.Vector{{1, 2}}, Params{})
	assert.Error(t, err)
}
