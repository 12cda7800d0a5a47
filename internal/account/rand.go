package account

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is a goroutine-safe random source seeded explicitly, so a fixed seed
// reproduces a run's generated transactions exactly.
type Rand struct {
	mu   sync.Mutex
	rng  *rand.Rand
	seed uint64
}

// NewRand returns a generator seeded with seed. A zero seed is replaced by
// one derived from the clock; Seed reports the value actually used.
func NewRand(seed uint64) *Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Rand{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		seed: seed,
	}
}

// Seed returns the seed the generator was created with.
func (r *Rand) Seed() uint64 {
	return r.seed
}

// Float64 returns a random float64 in [0, 1).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// IntN returns a random int in [0, n). It panics if n <= 0.
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

// Uint64Range returns a uniform value in [lo, hi] inclusive.
// Collapsed bounds return lo without consuming randomness.
func (r *Rand) Uint64Range(lo, hi uint64) uint64 {
	if lo >= hi {
		return lo
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	span := hi - lo
	if span == math.MaxUint64 {
		return r.rng.Uint64()
	}
	return lo + r.rng.Uint64N(span+1)
}

// Uint32Range returns a uniform value in [lo, hi] inclusive.
func (r *Rand) Uint32Range(lo, hi uint32) uint32 {
	return uint32(r.Uint64Range(uint64(lo), uint64(hi)))
}
