// Package rng provides the thread-local (goroutine-local) random sources
// Euler's samplers draw from. Spec §4.1 requires each thread to use its own
// PRNG seeded from a process seed plus a thread id, so that concurrent
// requests never contend on a shared source and so that a fixed process
// seed makes per-caller sequences reproducible (§9 Open Question).
package rng

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// processSeed is mixed into every caller id to derive that caller's seed.
// It defaults to the process start time but can be pinned with SetProcessSeed
// for reproducible test runs.
var processSeed int64 = time.Now().UnixNano()

// nextCallerID hands out small integers used as the "thread id" component
// of a seed when the caller has no more meaningful identity of its own
// (e.g. an ad hoc goroutine rather than a registered request id).
var nextCallerID int64

// SetProcessSeed pins the process-wide seed component for reproducible test
// runs: calling this before a run makes every subsequently constructed
// *rand.Rand deterministic for a given caller id. Sources handed out by
// Borrow carry anonymous caller ids, so which sequence a Borrow caller gets
// is not fixed by the seed alone.
func SetProcessSeed(seed int64) {
	atomic.StoreInt64(&processSeed, seed)
}

// New returns a *rand.Rand private to the caller, seeded from the process
// seed mixed with callerID. Two calls with the same callerID after the same
// SetProcessSeed produce identical sequences; two concurrent calls with
// different callerIDs never share mutable state.
func New(callerID int64) *rand.Rand {
	seed := mix(atomic.LoadInt64(&processSeed), callerID)
	return rand.New(rand.NewSource(seed))
}

// NewAnonymous allocates a fresh caller id (monotonically increasing within
// the process) and returns a *rand.Rand seeded from it. Use this at sites
// that don't already have a natural caller/request id to key off of.
func NewAnonymous() *rand.Rand {
	id := atomic.AddInt64(&nextCallerID, 1)
	return New(id)
}

func mix(a, b int64) int64 {
	// A cheap, fixed avalanche so that adjacent callerIDs (as produced by
	// NewAnonymous) don't yield correlated low-order seed bits.
	h := uint64(a) ^ (uint64(b) * 0x9E3779B97F4A7C15)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return int64(h)
}

// pool hands out and recycles *rand.Rand instances for hot paths (such as a
// per-request sub-sampler constructed many times per query) that don't need
// a specific, reproducible callerID — just a source that is never shared
// across goroutines at the same instant.
var pool = sync.Pool{
	New: func() any { return NewAnonymous() },
}

// Borrow takes a *rand.Rand from the pool. The caller must return it via
// Release when done; Borrow/Release pairs are not reentrant-safe if the
// same *rand.Rand is retained past Release.
func Borrow() *rand.Rand {
	return pool.Get().(*rand.Rand)
}

// Release returns r to the pool for reuse by a later Borrow call.
func Release(r *rand.Rand) {
	pool.Put(r)
}
