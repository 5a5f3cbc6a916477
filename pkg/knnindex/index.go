// Package knnindex is the thin facade that binds the bounded neighbor
// heap, sampling utilities, refinement engine, and error-ratio evaluator
// into a single queryable k-NN graph index: it owns the item store,
// exposes Insert/Compile/KNearest/ErrorRatio, and tracks a dirty flag
// forbidding queries between mutation and recompilation.
package knnindex

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/kgraph/nndescent/pkg/evaluator"
	"github.com/kgraph/nndescent/pkg/nnheap"
	"github.com/kgraph/nndescent/pkg/refine"
	"github.com/kgraph/nndescent/pkg/refinemetrics"
)

// DistanceFunc computes the distance between two values. It must be
// deterministic on equal inputs; it need not be symmetric. The index
// never caches or memoizes its results.
type DistanceFunc[V any] func(a, b V) float64

// Neighbor is one entry of a compiled or queried neighbor list, translated
// back to the caller's Label type at this package's boundary.
type Neighbor[L comparable] struct {
	Label    L
	Distance float64
}

// Index is a generic approximate k-NN graph index over an opaque,
// caller-supplied distance function. A zero Index is not usable; construct
// one with New.
type Index[L comparable, V any] struct {
	mu sync.RWMutex

	cfg      Config
	distance DistanceFunc[V]
	metrics  *refinemetrics.Metrics
	rng      *rand.Rand

	// Dense internal-id item store, separating external labels from
	// the dense uint32 ids the refinement engine actually operates on.
	externalToInternal map[L]uint32
	internalToExternal []L
	values             []V

	// compiled holds, per internal id, the compiled top-k row ascending
	// by distance. nil for an id with no compiled row yet (inserted
	// since the last successful compile).
	compiled [][]nnheap.Entry[uint32]
	dirty    bool
}

// New constructs an index over items and immediately compiles it.
// len(items) must satisfy 2*cfg.K <= len(items)-1, or ErrInsufficientPool
// is returned.
func New[L comparable, V any](items map[L]V, distance DistanceFunc[V], cfg Config) (*Index[L, V], error) {
	if cfg.K < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidConfig, cfg.K)
	}
	if cfg.Delta <= 0 || cfg.Delta > 1 {
		return nil, fmt.Errorf("%w: delta must be in (0,1], got %v", ErrInvalidConfig, cfg.Delta)
	}
	if distance == nil {
		return nil, fmt.Errorf("%w: distance function must not be nil", ErrInvalidConfig)
	}

	idx := &Index[L, V]{
		cfg:                cfg,
		distance:           distance,
		externalToInternal: make(map[L]uint32, len(items)),
		internalToExternal: make([]L, 0, len(items)),
		values:             make([]V, 0, len(items)),
		dirty:              true,
	}
	idx.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	idx.metrics = refinemetrics.New(cfg.Registerer)

	for label, value := range items {
		idx.insertLocked(label, value)
	}

	if err := idx.compileLocked(context.Background(), cfg.Delta); err != nil {
		return nil, err
	}
	return idx, nil
}

// Insert adds a new label/value pair, or overwrites the value of an
// existing label, and marks the index dirty. It does not itself recompile;
// call Compile afterward before querying.
func (idx *Index[L, V]) Insert(label L, value V) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.insertLocked(label, value)
}

// insertLocked must be called with idx.mu held for writing.
func (idx *Index[L, V]) insertLocked(label L, value V) {
	if id, ok := idx.externalToInternal[label]; ok {
		idx.values[id] = value
	} else {
		id := uint32(len(idx.internalToExternal))
		idx.growLocked(id)
		idx.externalToInternal[label] = id
		idx.internalToExternal[id] = label
		idx.values[id] = value
	}
	idx.dirty = true
}

// growLocked ensures internalToExternal/values/compiled have room for id.
// Ids are assigned densely and monotonically; append's own amortized
// doubling handles the capacity growth.
func (idx *Index[L, V]) growLocked(id uint32) {
	var zeroL L
	var zeroV V
	for uint32(len(idx.internalToExternal)) <= id {
		idx.internalToExternal = append(idx.internalToExternal, zeroL)
		idx.values = append(idx.values, zeroV)
		idx.compiled = append(idx.compiled, nil)
	}
}

// Compile runs seeding and refinement-to-convergence over the full item
// store, then atomically replaces the compiled index and clears dirty. A
// zero delta selects the configured default.
func (idx *Index[L, V]) Compile(delta float64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.compileLocked(context.Background(), delta)
}

// CompileContext is Compile with a cooperative cancellation hook, checked
// between refinement epochs. A cancelled compile leaves the previously
// compiled index untouched.
func (idx *Index[L, V]) CompileContext(ctx context.Context, delta float64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.compileLocked(ctx, delta)
}

func (idx *Index[L, V]) compileLocked(ctx context.Context, delta float64) error {
	n := uint32(len(idx.internalToExternal))
	a := 2 * idx.cfg.K
	if n == 0 || uint32(a) > n-1 {
		return ErrInsufficientPool
	}
	if delta <= 0 {
		delta = idx.cfg.Delta
	}

	logger := idx.cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	priorCompiled := idx.compiled
	prior := func(id uint32) ([]nnheap.Entry[uint32], bool) {
		if int(id) >= len(priorCompiled) || priorCompiled[id] == nil {
			return nil, false
		}
		return priorCompiled[id], true
	}

	result, err := refine.Compile(ctx, refine.Params{
		N:     n,
		K:     idx.cfg.K,
		Delta: delta,
		Distance: func(i, j uint32) float64 {
			return idx.distance(idx.values[i], idx.values[j])
		},
		Prior:     prior,
		Rng:       idx.rng,
		Logger:    logger,
		Metrics:   idx.metrics,
		IndexName: idx.cfg.Name,
	})
	if err != nil {
		if idx.metrics != nil {
			idx.metrics.CompileRuns.WithLabelValues(idx.cfg.Name, "error").Inc()
		}
		return err
	}

	idx.compiled = result.Neighbors
	idx.dirty = false
	return nil
}

// KNearest returns the first min(kPrime, stored_len) entries of the
// compiled row for label, ascending by distance. It fails-with
// ErrNotCompiled if the index is dirty. An unknown label yields an empty
// result, not an error, per the normalized k_nearest semantics.
func (idx *Index[L, V]) KNearest(label L, kPrime int) ([]Neighbor[L], error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.dirty {
		return nil, ErrNotCompiled
	}

	id, ok := idx.externalToInternal[label]
	if !ok || int(id) >= len(idx.compiled) {
		return []Neighbor[L]{}, nil
	}

	row := idx.compiled[id]
	if kPrime <= 0 || kPrime > len(row) {
		kPrime = len(row)
	}

	out := make([]Neighbor[L], kPrime)
	for i := 0; i < kPrime; i++ {
		out[i] = Neighbor[L]{
			Label:    idx.internalToExternal[row[i].Label],
			Distance: row[i].Distance,
		}
	}
	return out, nil
}

// ErrorRatio measures approximation quality by drawing sampleSize labels
// uniformly with replacement and comparing the compiled top-k against an
// exact brute-force top-k for each. It fails-with ErrNotCompiled while
// dirty.
func (idx *Index[L, V]) ErrorRatio(sampleSize int) (float64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.dirty {
		return 0, ErrNotCompiled
	}
	if sampleSize <= 0 {
		sampleSize = 50
	}

	n := uint32(len(idx.internalToExternal))
	approx := func(id uint32) ([]nnheap.Entry[uint32], bool) {
		if int(id) >= len(idx.compiled) || idx.compiled[id] == nil {
			return nil, false
		}
		return idx.compiled[id], true
	}

	ratio, err := evaluator.ErrorRatio(n, idx.cfg.K, sampleSize, func(i, j uint32) float64 {
		return idx.distance(idx.values[i], idx.values[j])
	}, approx, idx.rng, idx.cfg.Logger)
	if err != nil {
		return 0, err
	}

	if idx.metrics != nil {
		idx.metrics.ErrorRatio.WithLabelValues(idx.cfg.Name).Set(ratio)
	}
	return ratio, nil
}

// Len returns the number of items currently in the store.
func (idx *Index[L, V]) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.internalToExternal)
}

// Dirty reports whether the item store has been mutated since the last
// successful compile.
func (idx *Index[L, V]) Dirty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dirty
}
