// Command nndescent-bench builds a synthetic dataset, compiles a k-NN
// index over it, and prints the measured error ratio.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/kgraph/nndescent/pkg/knnindex"
	"github.com/kgraph/nndescent/pkg/metricfn"
)

func main() {
	n := flag.Int("n", 5000, "number of synthetic items to generate")
	dim := flag.Int("dim", 5, "dimensionality of each synthetic vector")
	k := flag.Int("k", 10, "number of neighbors to retain per item")
	delta := flag.Float64("delta", 0.05, "convergence threshold on per-epoch improvement ratio")
	metric := flag.String("metric", "euclidean", "distance metric: euclidean or cosine")
	sampleSize := flag.Int("sample-size", 50, "number of queries to draw when measuring error_ratio")
	seed := flag.Uint64("seed", 1, "PCG seed for synthetic data generation")

	flag.Parse()

	if *n < 1 || *dim < 1 {
		log.Fatalf("n and dim must be positive")
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	items := make(map[int][]float32, *n)
	for i := 0; i < *n; i++ {
		v := make([]float32, *dim)
		for d := range v {
			v[d] = float32(rng.Float64())
		}
		items[i] = v
	}

	var distance knnindex.DistanceFunc[[]float32]
	switch *metric {
	case "euclidean":
		distance = func(a, b []float32) float64 {
			d, _ := metricfn.Euclidean(a, b)
			return d
		}
	case "cosine":
		distance = func(a, b []float32) float64 {
			d, _ := metricfn.Cosine(a, b)
			return d
		}
	default:
		log.Fatalf("unknown metric %q (want euclidean or cosine)", *metric)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	idx, err := knnindex.New(items, distance, knnindex.Config{
		K:      *k,
		Delta:  *delta,
		Logger: logger,
		Name:   "bench",
	})
	if err != nil {
		log.Fatalf("failed to build index: %v", err)
	}

	ratio, err := idx.ErrorRatio(*sampleSize)
	if err != nil {
		log.Fatalf("failed to measure error ratio: %v", err)
	}

	fmt.Printf("items=%d k=%d delta=%v metric=%s error_ratio=%.4f\n", *n, *k, *delta, *metric, ratio)
}
