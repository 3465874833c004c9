// Package sampler implements the two weighted-collection forms spec §4.1
// requires: a Compact (prefix-sum) collection built cheaply per request, and
// a Fast (alias-table) collection precomputed once for long-lived global
// samplers. Both satisfy the same Collection interface so call sites (the
// graph store's global samplers, a kernel's per-root reduced collection)
// can select the form that fits their construction frequency without
// depending on a concrete type.
package sampler

import (
	"math/rand"
	"sort"

	"github.com/dreamware/euler/internal/eulererr"
)

// Collection is a set of (id, weight) pairs supporting probability-
// proportional sampling. Implementations are not safe for concurrent
// mutation but ARE safe for concurrent read-only Sample/Get calls once
// construction has completed, matching the graph store's immutable-after-
// load contract.
type Collection interface {
	// Sample draws one (id, weight) pair with probability proportional to
	// weight, using r as the source of randomness. Returns an Unavailable
	// Status if the collection is empty or has zero total weight.
	Sample(r *rand.Rand) (id int64, weight float32, err error)
	// Get returns the i-th (id, weight) pair in construction order.
	Get(i int) (id int64, weight float32)
	// GetSize returns the number of entries.
	GetSize() int
	// GetSumWeight returns the total weight across all entries.
	GetSumWeight() float64
}

// Compact is a prefix-sum weighted collection. Sample draws r uniform in
// [0, total) and binary-searches the prefix-sum array — O(log n) per
// sample, O(n) to construct. Required on the hot path where weights are
// assembled fresh per request (e.g. a kernel's per-root reduced neighbor
// collection), since an alias table's O(n) construction includes two
// linear passes and a work-queue that are wasted if the collection is used
// for only a handful of samples.
type Compact struct {
	ids    []int64
	prefix []float64 // prefix[i] = sum of weights[0..i], monotone non-decreasing
	raw    []float32 // raw[i] = weights[i], kept for Get
}

// NewCompact builds a Compact collection over parallel ids/weights slices.
// Negative weights are rejected by the caller's responsibility; this
// constructor treats any weight <= 0 as contributing zero to the prefix sum
// but still keeps the id addressable via Get, matching "empty or all-zero
// weights return size 0" only at the Sample boundary, not at construction.
func NewCompact(ids []int64, weights []float32) *Compact {
	c := &Compact{
		ids:    make([]int64, len(ids)),
		prefix: make([]float64, len(ids)),
		raw:    make([]float32, len(ids)),
	}
	copy(c.ids, ids)
	copy(c.raw, weights)
	var sum float64
	for i, w := range weights {
		if w > 0 {
			sum += float64(w)
		}
		c.prefix[i] = sum
	}
	return c
}

func (c *Compact) GetSize() int { return len(c.ids) }

func (c *Compact) GetSumWeight() float64 {
	if len(c.prefix) == 0 {
		return 0
	}
	return c.prefix[len(c.prefix)-1]
}

func (c *Compact) Get(i int) (int64, float32) {
	if i < 0 || i >= len(c.ids) {
		return 0, 0
	}
	return c.ids[i], c.raw[i]
}

func (c *Compact) Sample(r *rand.Rand) (int64, float32, error) {
	total := c.GetSumWeight()
	if len(c.ids) == 0 || total <= 0 {
		return 0, 0, eulererr.New(eulererr.Unavailable, "sample from empty or zero-weight collection")
	}
	target := r.Float64() * total
	// sort.Search finds the leftmost prefix[i] >= target, which is the
	// "leftmost bucket" tie-break the spec requires when target lands
	// exactly on a boundary shared by a zero-weight run.
	i := sort.Search(len(c.prefix), func(i int) bool { return c.prefix[i] >= target })
	if i >= len(c.ids) {
		i = len(c.ids) - 1
	}
	return c.ids[i], c.raw[i], nil
}
