package sampling

import (
	"math/rand/v2"
	"testing"

	"github.com/kgraph/nndescent/pkg/nnheap"
)

func TestSampleDistinctExcludesAvoidSetAndIsDistinct(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	avoid := NewExclude(10)
	avoid.Mark(3)
	avoid.Mark(7)

	got, err := SampleDistinct(10, 5, avoid, nil, rng)
	if err != nil {
		t.Fatalf("SampleDistinct() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len(got) = %d, want 5", len(got))
	}

	seen := make(map[uint32]bool)
	for _, id := range got {
		if id == 3 || id == 7 {
			t.Fatalf("sample %d should have been excluded by avoid set", id)
		}
		if seen[id] {
			t.Fatalf("sample %d drawn more than once", id)
		}
		seen[id] = true
	}
}

func TestSampleDistinctInsufficientPool(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	avoid := NewExclude(4)
	avoid.Mark(0)
	avoid.Mark(1)
	avoid.Mark(2)

	// Universe of 4, 3 excluded -> only 1 eligible, asking for 2.
	if _, err := SampleDistinct(4, 2, avoid, nil, rng); err != ErrInsufficientPool {
		t.Fatalf("SampleDistinct() error = %v, want ErrInsufficientPool", err)
	}
}

func TestSampleDistinctZeroReturnsNil(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	got, err := SampleDistinct(10, 0, nil, nil, rng)
	if err != nil || len(got) != 0 {
		t.Fatalf("SampleDistinct(k=0) = %v, %v, want empty, nil", got, err)
	}
}

func TestSampleDistinctReusesScratchAcrossCalls(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 3))
	scratch := NewExclude(10)

	first, err := SampleDistinct(10, 4, nil, scratch, rng)
	if err != nil {
		t.Fatalf("SampleDistinct() first call error = %v", err)
	}
	if len(first) != 4 {
		t.Fatalf("len(first) = %d, want 4", len(first))
	}

	// A second call against the same scratch buffer must not see ids left
	// over from the first call leak in as spurious exclusions: it draws the
	// whole universe of 10, which is only possible if none of the first
	// call's 4 ids are still marked.
	second, err := SampleDistinct(10, 10, nil, scratch, rng)
	if err != nil {
		t.Fatalf("SampleDistinct() second call error = %v", err)
	}
	if len(second) != 10 {
		t.Fatalf("len(second) = %d, want 10", len(second))
	}
	seen := make(map[uint32]bool)
	for _, id := range second {
		if seen[id] {
			t.Fatalf("sample %d drawn more than once within second call", id)
		}
		seen[id] = true
	}
}

func TestRandomKeyUniformOverHeapMembers(t *testing.T) {
	h := nnheap.New[string](4)
	h.TryInsert("a", 1.0)
	h.TryInsert("b", 2.0)
	h.TryInsert("c", 3.0)

	rng := rand.New(rand.NewPCG(42, 7))
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key, ok := RandomKey(h, rng)
		if !ok {
			t.Fatalf("RandomKey() ok = false on non-empty heap")
		}
		seen[key] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Fatalf("RandomKey() never returned %q across 200 draws", want)
		}
	}
}

func TestRandomKeyEmptyHeap(t *testing.T) {
	h := nnheap.New[string](4)
	rng := rand.New(rand.NewPCG(1, 1))
	if _, ok := RandomKey(h, rng); ok {
		t.Fatalf("RandomKey() on empty heap should report ok=false")
	}
}
