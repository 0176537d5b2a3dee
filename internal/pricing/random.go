package pricing

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is the randomness the generator and scheduler draw from.
type Rand interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Intn returns a value in [0, n).
	Intn(n int) int
}

// Clock abstracts time for the scheduler and tick timestamps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// lockedRand is a math/rand source safe for concurrent use. The scheduler
// and the REST handlers share one generator.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRand returns a goroutine-safe Rand seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now().UTC() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
