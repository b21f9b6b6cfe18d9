package ivf

import (
	"math"

	"github.com/lqhl/elacsym/distance"
)

// trainCentroids runs k-means++ seeding followed by Lloyd iterations over
// flattened vectors. Seeding is deterministic (farthest-point from vector
// zero) so rebuilding the same segment yields identical centroids.
func trainCentroids(vectors []float32, dim, k, maxIter int) []float32 {
	n := len(vectors) / dim
	if k >= n {
		out := make([]float32, len(vectors))
		copy(out, vectors)
		return out
	}

	centroids := make([]float32, 0, k*dim)
	centroids = append(centroids, vectors[:dim]...)

	// k-means++ style seeding: repeatedly take the point farthest from
	// its nearest chosen centroid.
	minDist := make([]float32, n)
	for i := range minDist {
		minDist[i] = math.MaxFloat32
	}
	for len(centroids) < k*dim {
		last := centroids[len(centroids)-dim:]
		farthest, farthestDist := 0, float32(-1)
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			d := distance.SquaredL2(vec, last)
			if d < minDist[i] {
				minDist[i] = d
			}
			if minDist[i] > farthestDist {
				farthestDist = minDist[i]
				farthest = i
			}
		}
		centroids = append(centroids, vectors[farthest*dim:(farthest+1)*dim]...)
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best, bestDist := -1, float32(math.MaxFloat32)
			for j := 0; j < k; j++ {
				d := distance.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
				if d < bestDist {
					bestDist = d
					best = j
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[c*dim+d] += vec[d]
			}
			counts[c]++
		}
		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				// Empty cluster: reseed from the point farthest overall.
				// Deterministic: first point maximizing distance to its
				// centroid.
				far, farDist := 0, float32(-1)
				for i := 0; i < n; i++ {
					vec := vectors[i*dim : (i+1)*dim]
					d := distance.SquaredL2(vec, centroids[assignments[i]*dim:(assignments[i]+1)*dim])
					if d > farDist {
						farDist = d
						far = i
					}
				}
				copy(centroids[j*dim:(j+1)*dim], vectors[far*dim:(far+1)*dim])
				continue
			}
			inv := 1 / float32(counts[j])
			for d := 0; d < dim; d++ {
				centroids[j*dim+d] = sums[j*dim+d] * inv
			}
		}
	}
	return centroids
}

// assign returns the nearest centroid index for vec.
func assign(vec, centroids []float32, dim int) int {
	k := len(centroids) / dim
	best, bestDist := 0, float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		d := distance.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
		if d < bestDist {
			bestDist = d
			best = j
		}
	}
	return best
}
