package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqhl/elacsym/filter"
	"github.com/lqhl/elacsym/model"
)

var dummyFilter = filter.Expr{Field: "category", Operator: filter.OpEq, Value: model.String("x")}

func ids(hits []Scored) []model.DocID {
	out := make([]model.DocID, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestRRFFusesTwoRankings(t *testing.T) {
	// Vector order [3,1,2]; full-text order [1,3,2]; weights 0.5/0.5.
	// Doc 1 (ranks 2,1) and doc 3 (ranks 1,2) tie on score; the tie
	// breaks on ascending id, so the fused order is [1, 3, 2].
	vector := []Scored{{ID: 3}, {ID: 1}, {ID: 2}}
	text := []Scored{{ID: 1}, {ID: 3}, {ID: 2}}

	fused := ReciprocalRankFusion([][]Scored{vector, text}, []float32{0.5, 0.5}, 60, 10)
	assert.Equal(t, []model.DocID{1, 3, 2}, ids(fused))
}

func TestRRFScoreFormula(t *testing.T) {
	vector := []Scored{{ID: 7}}
	text := []Scored{{ID: 7}, {ID: 8}}

	fused := ReciprocalRankFusion([][]Scored{vector, text}, []float32{1, 1}, 60, 10)
	require.Len(t, fused, 2)

	// Doc 7: 1/(60+1) from each ranking; doc 8: 1/(60+2) once.
	assert.InDelta(t, 2.0/61.0, float64(fused[0].Score), 1e-6)
	assert.Equal(t, model.DocID(7), fused[0].ID)
	assert.InDelta(t, 1.0/62.0, float64(fused[1].Score), 1e-6)
}

func TestRRFSingleRankingDocContributesOneTerm(t *testing.T) {
	vector := []Scored{{ID: 1}, {ID: 2}}
	fused := ReciprocalRankFusion([][]Scored{vector, nil}, []float32{1, 1}, 60, 10)
	require.Len(t, fused, 2)
	assert.InDelta(t, 1.0/61.0, float64(fused[0].Score), 1e-6)
}

func TestRRFWeightsFavorModality(t *testing.T) {
	vector := []Scored{{ID: 1}}
	text := []Scored{{ID: 2}}
	fused := ReciprocalRankFusion([][]Scored{vector, text}, []float32{0.9, 0.1}, 60, 10)
	assert.Equal(t, model.DocID(1), fused[0].ID)
}

func TestRRFTopKTruncation(t *testing.T) {
	vector := []Scored{{ID: 1}, {ID: 2}, {ID: 3}}
	text := []Scored{{ID: 4}, {ID: 5}, {ID: 6}}
	fused := ReciprocalRankFusion([][]Scored{vector, text}, nil, 60, 3)
	assert.Len(t, fused, 3)
}

func TestRRFEmpty(t *testing.T) {
	fused := ReciprocalRankFusion(nil, nil, 60, 10)
	assert.Empty(t, fused)
}

func TestWeightedScoreFusionAverages(t *testing.T) {
	vector := []Scored{{ID: 1, Score: 0.8}, {ID: 2, Score: 0.4}}
	text := []Scored{{ID: 2, Score: 10}}

	fused := WeightedScoreFusion([][]Scored{vector, text}, []float32{1, 1}, 10)
	require.Len(t, fused, 2)
	assert.Equal(t, model.DocID(2), fused[0].ID)
	assert.InDelta(t, (0.4+10)/2, float64(fused[0].Score), 1e-5)
	assert.InDelta(t, 0.8, float64(fused[1].Score), 1e-5)
}

func TestRequestNormalize(t *testing.T) {
	r := &Request{Vector: model.Vector{1}}
	require.NoError(t, r.Normalize())
	assert.Equal(t, DefaultTopK, r.TopK)

	r = &Request{Vector: model.Vector{1}, TopK: MaxTopK + 1}
	assert.Error(t, r.Normalize())

	r = &Request{}
	assert.Error(t, r.Normalize(), "empty request has nothing to execute")

	r = &Request{Vector: model.Vector{1}, ANN: ANNParams{RerankMode: "bogus"}}
	assert.Error(t, r.Normalize())
}

func TestChoosePlan(t *testing.T) {
	vec := &Request{Vector: model.Vector{1}}
	assert.Equal(t, Plan{}, ChoosePlan(vec, -1, 0))

	filtered := &Request{Vector: model.Vector{1}, Filter: &dummyFilter}
	assert.True(t, ChoosePlan(filtered, 10, 0).FilterFirst)
	assert.False(t, ChoosePlan(filtered, 100000, 0).FilterFirst)

	filterOnly := &Request{Filter: &dummyFilter}
	plan := ChoosePlan(filterOnly, 10, 0)
	assert.True(t, plan.FilterOnly)
}
