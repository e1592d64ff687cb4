package core

import "math"

// Distances is a map of human–readable names to distance functions.
// You can use it to choose how distances are reported by name.
var Distances = map[string]DistanceFunc{
	"euclidean":         Euclidean,
	"squared_euclidean": SquaredEuclidean,
}

// DistanceFunc computes the distance between two vectors.
// a: the first vector.
// b: the second vector.
// Returns the computed distance as a float64.
type DistanceFunc func(a, b []float32) float64

// SquaredEuclidean computes the squared Euclidean distance between two vectors.
// Components are accumulated in float64 in index order, so equal inputs always
// produce bit-identical results.
func SquaredEuclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		panic("vectors must have the same length")
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Euclidean computes the Euclidean (L2) distance between two vectors.
func Euclidean(a, b []float32) float64 {
	return math.Sqrt(SquaredEuclidean(a, b))
}

// SquaredEuclidean32 is the float32 variant used in quantizer inner loops.
func SquaredEuclidean32(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same length")
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
