package distance

import (
	"fmt"
	"math"
	"slices"

	"github.com/lqhl/elacsym/internal/simd"
	"github.com/lqhl/elacsym/model"
)

// Dot calculates the dot product of two vectors. Assumes equal lengths
// (caller's responsibility).
func Dot(a, b []float32) float32 {
	return simd.Dot(a, b)
}

// SquaredL2 calculates the squared L2 distance between two vectors.
func SquaredL2(a, b []float32) float32 {
	return simd.SquaredL2(a, b)
}

// Hamming counts differing bits between two packed bit codes.
func Hamming(a, b []uint64) int {
	return simd.PopcountXOR(a, b)
}

// Cosine calculates cosine similarity. Returns 0 for zero-norm inputs.
func Cosine(a, b []float32) float32 {
	dot := simd.Dot(a, b)
	na := simd.Dot(a, a)
	nb := simd.Dot(b, b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}

// NormalizeL2InPlace L2-normalizes v in place. Returns false for zero norm.
func NormalizeL2InPlace(v []float32) bool {
	norm2 := simd.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	simd.ScaleInPlace(v, 1/float32(math.Sqrt(float64(norm2))))
	return true
}

// NormalizeL2Copy returns a normalized copy of src, or false for zero norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Func computes the user-facing score between a query and a candidate.
// Higher is better for cosine and dot; lower is better for l2.
type Func func(q, v []float32) float32

// Provider returns the scoring function for the metric.
func Provider(m model.Metric) (Func, error) {
	switch m {
	case model.MetricCosine:
		return Cosine, nil
	case model.MetricL2:
		return SquaredL2, nil
	case model.MetricDot:
		return Dot, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Better reports whether score a beats score b under the metric.
func Better(m model.Metric, a, b float32) bool {
	if m.Descending() {
		return a > b
	}
	return a < b
}
