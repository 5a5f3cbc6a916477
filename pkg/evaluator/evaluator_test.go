package evaluator

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/kgraph/nndescent/pkg/nnheap"
)

func lineDistance(i, j uint32) float64 {
	return math.Abs(float64(i) - float64(j))
}

func TestErrorRatioIsOneForExactCompiledIndex(t *testing.T) {
	const n = 300
	const k = 5

	approx := func(id uint32) ([]nnheap.Entry[uint32], bool) {
		return bruteForceTopK(id, n, k, lineDistance), true
	}

	ratio, err := ErrorRatio(n, k, 40, lineDistance, approx, rand.New(rand.NewPCG(1, 1)), nil)
	if err != nil {
		t.Fatalf("ErrorRatio: %v", err)
	}
	if math.Abs(ratio-1.0) > 1e-6 {
		t.Fatalf("expected ratio ~1.0 for an exact compiled index, got %v", ratio)
	}
}

func TestErrorRatioPenalizesWorseApproximation(t *testing.T) {
	const n = 300
	const k = 5

	// A deliberately bad approximate index: always reports the farthest
	// k items instead of the nearest.
	approx := func(id uint32) ([]nnheap.Entry[uint32], bool) {
		type pair struct {
			id uint32
			d  float64
		}
		var all []pair
		for other := uint32(0); other < n; other++ {
			if other == id {
				continue
			}
			all = append(all, pair{other, lineDistance(id, other)})
		}
		// simple selection of the k worst, ascending among themselves
		worst := make([]nnheap.Entry[uint32], 0, k)
		for len(worst) < k {
			maxIdx := -1
			for i, p := range all {
				if maxIdx == -1 || p.d > all[maxIdx].d {
					maxIdx = i
				}
			}
			worst = append(worst, nnheap.Entry[uint32]{Label: all[maxIdx].id, Distance: all[maxIdx].d})
			all = append(all[:maxIdx], all[maxIdx+1:]...)
		}
		for i, j := 0, len(worst)-1; i < j; i, j = i+1, j-1 {
			worst[i], worst[j] = worst[j], worst[i]
		}
		return worst, true
	}

	ratio, err := ErrorRatio(n, k, 20, lineDistance, approx, rand.New(rand.NewPCG(2, 2)), nil)
	if err != nil {
		t.Fatalf("ErrorRatio: %v", err)
	}
	if ratio <= 1.5 {
		t.Fatalf("expected a clearly elevated ratio for a bad approximation, got %v", ratio)
	}
}

func TestErrorRatioDetectsLengthMismatch(t *testing.T) {
	const n = 50
	const k = 5

	approx := func(id uint32) ([]nnheap.Entry[uint32], bool) {
		return []nnheap.Entry[uint32]{{Label: 0, Distance: 1}}, true // wrong length
	}

	_, err := ErrorRatio(n, k, 5, lineDistance, approx, rand.New(rand.NewPCG(3, 3)), nil)
	if err == nil {
		t.Fatalf("expected a length mismatch error")
	}
}

func TestErrorRatioSkipsUncompiledLabels(t *testing.T) {
	const n = 20
	const k = 3

	approx := func(id uint32) ([]nnheap.Entry[uint32], bool) {
		return nil, false
	}

	ratio, err := ErrorRatio(n, k, 10, lineDistance, approx, rand.New(rand.NewPCG(4, 4)), nil)
	if err != nil {
		t.Fatalf("ErrorRatio: %v", err)
	}
	if ratio != 0 {
		t.Fatalf("expected ratio 0 when no sampled label has a compiled row, got %v", ratio)
	}
}
