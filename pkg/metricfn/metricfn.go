// Package metricfn provides worked-example distance functions over plain
// values. These are collaborators for the index facade and the demo
// binary, not part of the core: the core takes a distance as an opaque
// injected function and never imports this package itself.
package metricfn

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/blas/gonum"
)

// ErrDimensionMismatch is returned by the vector metrics when two operands
// have different lengths.
var ErrDimensionMismatch = errors.New("metricfn: vectors must have the same length")

// IntAbs computes the absolute difference between two integer-valued
// items, the distance used by the 1-D integer scenario.
func IntAbs(a, b int) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}

// Euclidean computes the Euclidean distance between two equal-length
// float32 vectors in pure Go, with no BLAS dependency. EuclideanGonum is
// the BLAS-backed variant; it returns the squared distance.
func Euclidean(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

var blasEngine = gonum.Implementation{}

// EuclideanGonum computes squared Euclidean distance via Gonum's BLAS
// Saxpy/Sdot: copy one operand into a scratch buffer, subtract the other
// in place with Saxpy, then take the dot product of the difference with
// itself.
func EuclideanGonum(a, b []float32) (float64, error) {
	n := len(a)
	if n != len(b) {
		return 0, ErrDimensionMismatch
	}
	diff := make([]float32, n)
	copy(diff, a)
	blasEngine.Saxpy(n, -1, b, 1, diff, 1)
	dot := blasEngine.Sdot(n, diff, 1, diff, 1)
	return float64(dot), nil
}

// Cosine computes cosine distance (1 - cosine similarity) between two
// equal-length float32 vectors using Gonum's BLAS Sdot for the dot
// product.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	dot := blasEngine.Sdot(len(a), a, 1, b, 1)

	var normA, normB float64
	for i := range a {
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1.0, nil
	}
	cos := float64(dot) / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1.0 - cos, nil
}
