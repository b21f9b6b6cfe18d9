package query

import (
	"sort"

	"github.com/lqhl/elacsym/model"
)

// RRFConstant is the k in score = Σ w_i / (k + rank_i(d)).
const RRFConstant = 60.0

// Scored pairs a document with a modality score. Lists handed to fusion
// are ordered best-first; only ranks matter for RRF.
type Scored struct {
	ID    model.DocID
	Score float32
}

// ReciprocalRankFusion fuses independent rankings. weights[i] applies to
// rankings[i] (missing weights default to 1.0). A document appearing in
// only one ranking contributes only that term. Ties break on ascending id
// so fusion is deterministic.
func ReciprocalRankFusion(rankings [][]Scored, weights []float32, k float32, topK int) []Scored {
	if k <= 0 {
		k = RRFConstant
	}
	fused := make(map[model.DocID]float32)
	for i, ranking := range rankings {
		w := float32(1.0)
		if i < len(weights) {
			w = weights[i]
		}
		for rank, hit := range ranking {
			fused[hit.ID] += w / (k + float32(rank) + 1)
		}
	}

	out := make([]Scored, 0, len(fused))
	for id, score := range fused {
		out = append(out, Scored{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// WeightedScoreFusion averages weighted raw scores across modalities,
// preserving score magnitudes. Kept as the alternative to RRF for callers
// that calibrate modality scores themselves.
func WeightedScoreFusion(rankings [][]Scored, weights []float32, topK int) []Scored {
	type acc struct {
		sum   float32
		count int
	}
	fused := make(map[model.DocID]*acc)
	for i, ranking := range rankings {
		w := float32(1.0)
		if i < len(weights) {
			w = weights[i]
		}
		for _, hit := range ranking {
			a, ok := fused[hit.ID]
			if !ok {
				a = &acc{}
				fused[hit.ID] = a
			}
			a.sum += w * hit.Score
			a.count++
		}
	}

	out := make([]Scored, 0, len(fused))
	for id, a := range fused {
		out = append(out, Scored{ID: id, Score: a.sum / float32(a.count)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
