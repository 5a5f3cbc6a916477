// Package refine implements the randomized "neighbors-of-neighbors"
// graph-refinement loop: seeding each item's working neighbor heap, running
// epochs of random trials until the per-epoch improvement ratio converges,
// and materializing the result into a compiled top-k index.
//
// The package works entirely in terms of dense internal ids (uint32 in
// [0, N)); translating those back to caller-facing labels is the index
// facade's job (pkg/knnindex).
package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/kgraph/nndescent/pkg/nnheap"
	"github.com/kgraph/nndescent/pkg/refinemetrics"
	"github.com/kgraph/nndescent/pkg/sampling"
)

// ErrInsufficientPool is returned when the working capacity a=2k exceeds
// the number of other items available to sample from.
var ErrInsufficientPool = errors.New("refine: 2*k must not exceed len(items)-1")

// DistanceFunc computes the distance between two items identified by their
// dense internal ids. It must be deterministic for equal inputs and is
// never memoized by this package — each trial calls it independently, by
// design (see the knnindex.DistanceFunc doc).
type DistanceFunc func(i, j uint32) float64

// PriorNeighbors looks up the previously-compiled top-k neighbors of id,
// for warm-start seeding. ok is false for items with no prior compiled
// entry (newly inserted since the last compile), in which case the caller
// falls back to cold seeding for that item.
type PriorNeighbors func(id uint32) (entries []nnheap.Entry[uint32], ok bool)

// Params configures a single Compile run.
type Params struct {
	// N is the number of items, addressed by dense id in [0, N).
	N uint32
	// K is the number of neighbors to retain per item.
	K int
	// Delta is the convergence threshold on the per-epoch improvement
	// ratio. Zero selects the default of 0.05.
	Delta float64
	// Distance computes the distance between two items by id.
	Distance DistanceFunc
	// Prior supplies warm-start seeding data; nil forces a cold compile
	// for every item.
	Prior PriorNeighbors
	// Rng drives every random choice in this run. Must not be nil.
	Rng *rand.Rand
	// Logger receives structured progress logs. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics receives instrumentation. May be nil to disable it.
	Metrics *refinemetrics.Metrics
	// IndexName labels emitted metrics and logs; purely cosmetic.
	IndexName string
}

// Result is the outcome of a successful Compile: the compiled top-k
// neighbor list for every id in [0, N), ascending by distance.
type Result struct {
	Neighbors [][]nnheap.Entry[uint32]
	Epochs    int
	RunID     string
}

const defaultDelta = 0.05

// Compile runs seeding followed by refinement-to-convergence and returns
// the compiled neighbor lists. It returns ctx.Err() without side effects
// (from the caller's point of view — Result is simply not produced) if ctx
// is cancelled between epochs.
func Compile(ctx context.Context, p Params) (Result, error) {
	if p.K <= 0 {
		return Result{}, fmt.Errorf("refine: k must be >= 1, got %d", p.K)
	}
	a := 2 * p.K
	if p.N == 0 || uint32(a) > p.N-1 {
		return Result{}, ErrInsufficientPool
	}
	delta := p.Delta
	if delta <= 0 {
		delta = defaultDelta
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runID := uuid.New().String()
	start := time.Now()
	logger.Info("refine: compile starting",
		"run_id", runID, "index", p.IndexName, "n", p.N, "k", p.K, "a", a, "delta", delta)

	working := make([]*nnheap.Heap[uint32], p.N)
	if err := seed(working, p, a, runID, logger); err != nil {
		return Result{}, err
	}

	epochs, bestRatio, err := runEpochs(ctx, working, p, delta, runID, logger)
	if err != nil {
		return Result{}, err
	}

	neighbors := make([][]nnheap.Entry[uint32], p.N)
	for id := uint32(0); id < p.N; id++ {
		drained := working[id].DrainAscending()
		if len(drained) > p.K {
			drained = drained[:p.K]
		}
		neighbors[id] = drained
	}

	duration := time.Since(start)
	logger.Info("refine: compile finished",
		"run_id", runID, "index", p.IndexName, "epochs", epochs,
		"best_ratio", bestRatio, "duration", duration)

	if p.Metrics != nil {
		p.Metrics.CompileRuns.WithLabelValues(p.IndexName, "success").Inc()
		p.Metrics.CompileDuration.WithLabelValues(p.IndexName).Observe(duration.Seconds())
		p.Metrics.EpochsRun.WithLabelValues(p.IndexName).Observe(float64(epochs))
		p.Metrics.ConvergenceRatio.WithLabelValues(p.IndexName).Set(bestRatio)
		p.Metrics.ItemsIndexed.WithLabelValues(p.IndexName).Set(float64(p.N))
	}

	return Result{Neighbors: neighbors, Epochs: epochs, RunID: runID}, nil
}

// seed populates working[id] for every id, using warm seeding (prior top-k
// plus a-k fresh samples) where available and cold seeding (a fresh
// samples) otherwise.
func seed(working []*nnheap.Heap[uint32], p Params, a int, runID string, logger *slog.Logger) error {
	warmCount := 0
	scratch := sampling.NewExclude(p.N)
	for id := uint32(0); id < p.N; id++ {
		h := nnheap.New[uint32](a)
		working[id] = h

		avoid := sampling.NewExclude(p.N)
		avoid.Mark(id)

		seeded := 0
		if p.Prior != nil {
			if prior, ok := p.Prior(id); ok {
				warmCount++
				for _, entry := range prior {
					if seeded >= p.K {
						break
					}
					if entry.Label == id {
						continue
					}
					if h.TryInsert(entry.Label, entry.Distance) {
						avoid.Mark(entry.Label)
						seeded++
					}
				}
			}
		}

		need := a - seeded
		if need <= 0 {
			continue
		}
		fresh, err := sampling.SampleDistinct(p.N, need, avoid, scratch, p.Rng)
		if err != nil {
			return fmt.Errorf("refine: seeding item %d: %w", id, err)
		}
		for _, other := range fresh {
			d := p.Distance(id, other)
			if p.Metrics != nil {
				p.Metrics.DistanceEvaluation.WithLabelValues(p.IndexName, "seed").Inc()
			}
			h.TryInsert(other, d)
		}
	}
	logger.Info("refine: seeding complete", "run_id", runID, "warm_items", warmCount, "cold_items", int(p.N)-warmCount)
	return nil
}

// runEpochs executes refinement epochs until convergence, returning the
// number of epochs run and the best (minimum) per-epoch improvement ratio
// observed, per the running-minimum convergence rule.
func runEpochs(ctx context.Context, working []*nnheap.Heap[uint32], p Params, delta float64, runID string, logger *slog.Logger) (int, float64, error) {
	bestRatio := 1.0
	epoch := 0
	for {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return epoch, bestRatio, err
			}
		}

		c := runSingleEpoch(working, p)
		ratio := float64(c) / float64(p.N)
		if ratio < bestRatio {
			bestRatio = ratio
		}
		epoch++

		logger.Debug("refine: epoch complete",
			"run_id", runID, "index", p.IndexName, "epoch", epoch, "improvements", c, "ratio", ratio, "best_ratio", bestRatio)

		if c == 0 || bestRatio < delta {
			return epoch, bestRatio, nil
		}
	}
}

// runSingleEpoch performs N refinement trials and returns the number of
// trials that produced a real improvement.
func runSingleEpoch(working []*nnheap.Heap[uint32], p Params) int {
	c := 0
	n := int(p.N)
	for t := 0; t < n; t++ {
		u := uint32(p.Rng.IntN(n))
		v, ok := randomKey(working[u], p.Rng)
		if !ok {
			continue
		}
		w, ok := randomKey(working[v], p.Rng)
		if !ok {
			continue
		}
		if w == u {
			continue
		}

		d := p.Distance(u, w)
		if p.Metrics != nil {
			p.Metrics.DistanceEvaluation.WithLabelValues(p.IndexName, "refine").Inc()
		}

		if tryImprove(working[u], u, w, d) {
			c++
		}
		if tryImprove(working[w], w, u, d) {
			c++
		}
	}
	return c
}

// tryImprove applies the admission test and insert for one (owner,
// candidate, distance) direction of a trial: self-edges are rejected even
// if a caller ever passes ownerID == candidate, and the candidate is only
// offered to the heap when it could beat the current worst member. The
// ownerID == candidate guard is defense in depth — the w == u check in
// runSingleEpoch already rejects self-edges before tryImprove is called —
// kept so a self-edge can never be admitted even if that precondition is
// ever violated.
func tryImprove(owner *nnheap.Heap[uint32], ownerID, candidate uint32, d float64) bool {
	if candidate == ownerID {
		return false
	}
	maxEntry, ok := owner.PeekMax()
	if !ok {
		return false
	}
	if maxEntry.Distance <= d {
		return false
	}
	return owner.TryInsert(candidate, d)
}

func randomKey(h *nnheap.Heap[uint32], rng *rand.Rand) (uint32, bool) {
	key, ok := sampling.RandomKey(h, rng)
	return key, ok
}
