package refine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kgraph/nndescent/pkg/nnheap"
)

// CompileParallel is the concurrent counterpart to Compile: trials run
// concurrently, but each heap is only ever mutated under its own lock, and
// the improvement counter accumulates atomically across the whole epoch
// before the epoch boundary (a barrier) is crossed. It otherwise follows
// the exact same seeding/convergence rules as Compile.
func CompileParallel(ctx context.Context, p Params, workers int) (Result, error) {
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
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	start := time.Now()
	working := make([]*nnheap.Heap[uint32], p.N)
	locks := make([]sync.Mutex, p.N)
	if err := seed(working, p, a, "parallel", logger); err != nil {
		return Result{}, err
	}

	bestRatio := 1.0
	epoch := 0
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		c := runSingleEpochParallel(working, locks, p, workers)
		ratio := float64(c) / float64(p.N)
		if ratio < bestRatio {
			bestRatio = ratio
		}
		epoch++

		if c == 0 || bestRatio < delta {
			break
		}
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
	if p.Metrics != nil {
		p.Metrics.CompileRuns.WithLabelValues(p.IndexName, "success").Inc()
		p.Metrics.CompileDuration.WithLabelValues(p.IndexName).Observe(duration.Seconds())
		p.Metrics.EpochsRun.WithLabelValues(p.IndexName).Observe(float64(epoch))
		p.Metrics.ConvergenceRatio.WithLabelValues(p.IndexName).Set(bestRatio)
		p.Metrics.ItemsIndexed.WithLabelValues(p.IndexName).Set(float64(p.N))
	}

	return Result{Neighbors: neighbors, Epochs: epoch}, nil
}

// runSingleEpochParallel fans N trials out across workers goroutines. Each
// trial locks at most the two heaps it touches (u's and w's), in ascending
// id order, to avoid deadlocking against a concurrent trial that touches
// the same pair in the opposite order.
func runSingleEpochParallel(working []*nnheap.Heap[uint32], locks []sync.Mutex, p Params, workers int) int {
	n := int(p.N)
	var improvements atomic.Int64

	trialsPerWorker := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		startT := w * trialsPerWorker
		endT := startT + trialsPerWorker
		if endT > n {
			endT = n
		}
		if startT >= endT {
			continue
		}

		wg.Add(1)
		go func(count int, workerSeed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(workerSeed, workerSeed^0x9e3779b97f4a7c15))
			for i := 0; i < count; i++ {
				improvements.Add(int64(runOneTrial(working, locks, p, rng, n)))
			}
		}(endT-startT, p.Rng.Uint64())
	}
	wg.Wait()

	return int(improvements.Load())
}

// runOneTrial executes a single trial and returns the number of directions
// (0, 1, or 2) that produced a real improvement, matching the sequential
// engine's per-direction counting exactly.
func runOneTrial(working []*nnheap.Heap[uint32], locks []sync.Mutex, p Params, rng *rand.Rand, n int) int {
	u := uint32(rng.IntN(n))

	locks[u].Lock()
	v, ok := randomKey(working[u], rng)
	locks[u].Unlock()
	if !ok {
		return 0
	}

	locks[v].Lock()
	w, ok := randomKey(working[v], rng)
	locks[v].Unlock()
	if !ok || w == u {
		return 0
	}

	d := p.Distance(u, w)

	improvements := 0
	first, second := u, w
	if second < first {
		first, second = second, first
	}
	locks[first].Lock()
	locks[second].Lock()
	if tryImprove(working[u], u, w, d) {
		improvements++
	}
	if tryImprove(working[w], w, u, d) {
		improvements++
	}
	locks[second].Unlock()
	locks[first].Unlock()

	return improvements
}
