package pqivf

import (
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/patrikhermansson/simindex/core"
)

// assignChunk is the number of points assigned per worker task.
const assignChunk = 1024

// nearestCentroid finds the closest of the k centroids to vec and returns its index.
// Ties resolve to the lower centroid index.
func nearestCentroid(vec, centroids []float32, dim, k int) int32 {
	best := int32(0)
	bestDist := float32(math.MaxFloat32)
	for c := 0; c < k; c++ {
		d := core.SquaredEuclidean32(vec, centroids[c*dim:(c+1)*dim])
		if d < bestDist {
			bestDist = d
			best = int32(c)
		}
	}
	return best
}

// assignAll updates assign with the nearest centroid of every point and
// returns how many assignments changed. Points are processed in parallel chunks.
func assignAll(data []float32, dim int, centroids []float32, k int, assign []int32) int {
	n := len(assign)
	chunks := (n + assignChunk - 1) / assignChunk
	changed := make([]int, chunks)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for c := 0; c < chunks; c++ {
		c := c
		g.Go(func() error {
			start := c * assignChunk
			end := min(start+assignChunk, n)
			for i := start; i < end; i++ {
				best := nearestCentroid(data[i*dim:(i+1)*dim], centroids, dim, k)
				if assign[i] != best {
					assign[i] = best
					changed[c]++
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	total := 0
	for _, c := range changed {
		total += c
	}
	return total
}

// trainKMeans clusters the n = len(data)/dim points into k centroids with
// Lloyd's algorithm and returns the flattened centroids (k * dim).
// Centroids start at k distinct random points; a centroid that loses all its
// points is moved to a random point. k must not exceed n.
func trainKMeans(data []float32, dim, k, iterations int, rnd *rand.Rand) []float32 {
	n := len(data) / dim
	centroids := make([]float32, k*dim)
	perm := rnd.Perm(n)
	for c := 0; c < k; c++ {
		copy(centroids[c*dim:(c+1)*dim], data[perm[c]*dim:(perm[c]+1)*dim])
	}

	assign := make([]int32, n)
	for i := range assign {
		assign[i] = -1
	}
	sums := make([]float64, k*dim)
	counts := make([]int, k)
	for iter := 0; iter < iterations; iter++ {
		if assignAll(data, dim, centroids, k, assign) == 0 {
			break
		}
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			c := int(assign[i])
			counts[c]++
			row := data[i*dim : (i+1)*dim]
			acc := sums[c*dim : (c+1)*dim]
			for j, v := range row {
				acc[j] += float64(v)
			}
		}
		for c := 0; c < k; c++ {
			centroid := centroids[c*dim : (c+1)*dim]
			if counts[c] == 0 {
				// If a cluster is empty, reinitialize its centroid randomly.
				idx := rnd.Intn(n)
				copy(centroid, data[idx*dim:(idx+1)*dim])
				continue
			}
			for j := range centroid {
				centroid[j] = float32(sums[c*dim+j] / float64(counts[c]))
			}
		}
	}
	return centroids
}
