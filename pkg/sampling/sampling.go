// Package sampling provides the uniform sampling primitives the refinement
// engine needs: drawing k distinct items from a universe while excluding an
// avoid-set, and picking a uniformly random member of a neighbor heap.
package sampling

import (
	"errors"
	"math/rand/v2"

	"github.com/kgraph/nndescent/pkg/nnheap"
)

// ErrInsufficientPool is returned by SampleDistinct when the universe, once
// the avoid-set is excluded, does not contain enough eligible members to
// satisfy the request. Callers are expected to guarantee this never
// happens; SampleDistinct still checks defensively rather than looping
// forever.
var ErrInsufficientPool = errors.New("sampling: insufficient pool to draw distinct samples")

// Exclude is a dense-id exclusion set scoped to this package's two internal
// roles: a caller-built avoid-set for a draw (e.g. "this item itself, plus
// whichever neighbors warm-seeding already placed") and SampleDistinct's
// own "already chosen this draw" tracking. Reset lets one Exclude be reused
// as scratch across many draws instead of allocating fresh buckets every
// call.
type Exclude struct {
	buckets []uint64
}

// NewExclude returns an empty Exclude sized to hold ids up to
// universeSizeHint without an immediate grow.
func NewExclude(universeSizeHint uint32) *Exclude {
	return &Exclude{buckets: make([]uint64, (universeSizeHint>>6)+1)}
}

// Mark records id as excluded.
func (e *Exclude) Mark(id uint32) {
	bucket := id >> 6
	if bucket >= uint32(len(e.buckets)) {
		grown := make([]uint64, bucket+1)
		copy(grown, e.buckets)
		e.buckets = grown
	}
	e.buckets[bucket] |= 1 << (id & 63)
}

// Marked reports whether id has been recorded.
func (e *Exclude) Marked(id uint32) bool {
	bucket := id >> 6
	if bucket >= uint32(len(e.buckets)) {
		return false
	}
	return e.buckets[bucket]&(1<<(id&63)) != 0
}

// Reset clears every marked id without releasing backing storage, so the
// same Exclude can be handed to SampleDistinct as reusable scratch across
// repeated draws in a loop.
func (e *Exclude) Reset() {
	for i := range e.buckets {
		e.buckets[i] = 0
	}
}

// SampleDistinct draws k distinct ids uniformly from [0, universeSize),
// excluding every id marked in avoid (which may be nil for no exclusions).
// scratch, if non-nil, is reset and reused to track ids already drawn
// within this call rather than allocating a fresh Exclude; a caller
// drawing many times in a loop (as pkg/refine's seed does, once per item)
// should pass the same scratch each time. Pass nil to let SampleDistinct
// allocate its own.
//
// The implementation is rejection sampling: cheap in the common case where
// k is small relative to the eligible pool, which holds for every caller in
// this module (k is at most a working-heap capacity, a small multiple of
// the configured neighbor count).
func SampleDistinct(universeSize uint32, k int, avoid *Exclude, scratch *Exclude, rng *rand.Rand) ([]uint32, error) {
	if k <= 0 {
		return nil, nil
	}

	eligible := int64(universeSize)
	if avoid != nil {
		for id := uint32(0); id < universeSize; id++ {
			if avoid.Marked(id) {
				eligible--
			}
		}
	}
	if eligible < int64(k) {
		return nil, ErrInsufficientPool
	}

	chosen := scratch
	if chosen == nil {
		chosen = NewExclude(universeSize)
	} else {
		chosen.Reset()
	}

	out := make([]uint32, 0, k)

	// Safety valve: with a guaranteed-feasible pool, expected attempts stay
	// small; this bound only protects against a caller-side contract
	// violation turning into an infinite loop.
	maxAttempts := 64 * (k + 1) * int(universeSize+1)
	for attempts := 0; len(out) < k; attempts++ {
		if attempts > maxAttempts {
			return nil, ErrInsufficientPool
		}
		candidate := uint32(rng.IntN(int(universeSize)))
		if avoid != nil && avoid.Marked(candidate) {
			continue
		}
		if chosen.Marked(candidate) {
			continue
		}
		chosen.Mark(candidate)
		out = append(out, candidate)
	}
	return out, nil
}

// RandomKey returns a uniformly random label currently held by h. The second
// return value is false if h is empty.
func RandomKey[L comparable](h *nnheap.Heap[L], rng *rand.Rand) (L, bool) {
	labels := h.Labels()
	if len(labels) == 0 {
		var zero L
		return zero, false
	}
	return labels[rng.IntN(len(labels))], true
}
