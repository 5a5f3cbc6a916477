// Package evaluator implements the exact brute-force error-ratio probe:
// a quality check that never runs on the query path, only on demand, by
// re-deriving exact top-k neighbors for a random sample and comparing them
// rank-by-rank against the compiled (approximate) index.
package evaluator

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/kgraph/nndescent/pkg/nnheap"
)

// epsilon guards the rank-ratio division against a zero exact distance.
const epsilon = 1e-9

// ErrLengthMismatch signals a violated invariant: the compiled row and the
// brute-force row being compared have different lengths for the same
// label. This should never happen for a label present in both and is
// treated as a bug signal, not a recoverable condition.
var ErrLengthMismatch = errors.New("evaluator: exact and approximate neighbor lists have different lengths")

// DistanceFunc computes the distance between two items by dense internal id.
type DistanceFunc func(i, j uint32) float64

// ApproxLookup returns the compiled top-k row for id, ascending by distance.
// ok is false if id has no compiled row at all.
type ApproxLookup func(id uint32) (entries []nnheap.Entry[uint32], ok bool)

// ErrorRatio draws sampleSize ids uniformly with replacement from
// [0, n), computes each one's exact top-k by brute force, and returns the
// mean over the sample of the mean per-rank distance ratio against the
// corresponding approximate row. n must be the number of items currently
// in the store; k is the number of neighbors to compare per query. logger
// receives a diagnostic record if a length mismatch is detected (a bug
// signal, not a recoverable condition); a nil logger defaults to
// slog.Default().
func ErrorRatio(n uint32, k int, sampleSize int, distance DistanceFunc, approx ApproxLookup, rng *rand.Rand, logger *slog.Logger) (float64, error) {
	if n == 0 || k <= 0 || sampleSize <= 0 {
		return 0, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var total float64
	var queries int
	for s := 0; s < sampleSize; s++ {
		q := uint32(rng.IntN(int(n)))

		exact := bruteForceTopK(q, n, k, distance)
		approxRow, ok := approx(q)
		if !ok {
			// No compiled row for this label: excluded from the mean
			// rather than treated as an infinite error, since an absent
			// row is a facade-level NotCompiled/unknown-label condition,
			// not something this package diagnoses.
			continue
		}
		if len(exact) != len(approxRow) {
			logger.Error("evaluator: exact and approximate neighbor rows have different lengths",
				"label", q, "exact_len", len(exact), "approx_len", len(approxRow))
			return 0, fmt.Errorf("%w: label %d exact=%d approx=%d", ErrLengthMismatch, q, len(exact), len(approxRow))
		}

		var sum float64
		for i := range exact {
			r := (approxRow[i].Distance + epsilon) / (exact[i].Distance + epsilon)
			sum += r
		}
		total += sum / float64(len(exact))
		queries++
	}

	if queries == 0 {
		return 0, nil
	}
	return total / float64(queries), nil
}

// bruteForceTopK scans every id in [0, n) except q and keeps the k closest
// in a nnheap.Heap, the same bounded max-heap the refinement engine uses.
// Run to completion over the full universe it is, by construction, exact.
func bruteForceTopK(q uint32, n uint32, k int, distance DistanceFunc) []nnheap.Entry[uint32] {
	h := nnheap.New[uint32](k)
	for id := uint32(0); id < n; id++ {
		if id == q {
			continue
		}
		h.TryInsert(id, distance(q, id))
	}
	return h.DrainAscending()
}
