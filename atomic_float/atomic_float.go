package atomic_float

import (
	"math"
	"sync/atomic"
)

// AtomicFloat64 encapsulates a float64 for non-locking atomic operations.
// Agent fitness is written by contact callbacks arriving from the physics
// collaborator and read by the tick workers that submit it to the learning
// algorithm; an atomic float lets both sides proceed without sharing a lock
// with the generation barrier.
// The zero value holds 0.0 and is ready for use.
type AtomicFloat64 struct {
	bits atomic.Uint64
}

// NewAtomicFloat64 encapsulates a float64 for atomic operations.
func NewAtomicFloat64(val float64) *AtomicFloat64 {
	af := &AtomicFloat64{}
	af.bits.Store(math.Float64bits(val))
	return af
}

// AtomicRead atomically reads the float64.
func (af *AtomicFloat64) AtomicRead() float64 {
	return math.Float64frombits(af.bits.Load())
}

// AtomicAdd makes a single attempt to add to the float64. If the value changed
// between the read and the swap, nothing is written and succeeded is false, so
// that the caller may decide whether to retry, drop or recalculate.
func (af *AtomicFloat64) AtomicAdd(addend float64) (newVal float64, succeeded bool) {
	old := af.bits.Load()
	newVal = math.Float64frombits(old) + addend
	succeeded = af.bits.CompareAndSwap(old, math.Float64bits(newVal))
	return
}

// Add adds to the float64, retrying until the swap succeeds, and returns the new value.
func (af *AtomicFloat64) Add(addend float64) float64 {
	for {
		if newVal, ok := af.AtomicAdd(addend); ok {
			return newVal
		}
	}
}

// AtomicSet unconditionally stores the float64.
func (af *AtomicFloat64) AtomicSet(newVal float64) {
	af.bits.Store(math.Float64bits(newVal))
}
