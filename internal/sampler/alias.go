package sampler

import (
	"math/rand"

	"github.com/dreamware/euler/internal/eulererr"
)

// Alias is a Vose alias-table weighted collection: O(n) construction,
// O(1) Sample. Required for the per-type global node/edge samplers (spec
// §4.1), which are built once at load time and then drawn from many times
// across the server's lifetime, so the upfront construction cost is
// amortized away.
type Alias struct {
	ids      []int64
	weights  []float32 // original weights, for Get
	prob     []float64 // prob[i] in [0,1]: chance bucket i keeps its own entry
	aliasIdx []int     // aliasIdx[i]: the entry bucket i falls back to otherwise
	sum      float64
}

// NewAlias builds an alias table over parallel ids/weights slices. Entries
// with weight <= 0 are retained (for Get/GetSize parity with Compact) but
// never selected by Sample.
func NewAlias(ids []int64, weights []float32) *Alias {
	n := len(ids)
	a := &Alias{
		ids:      make([]int64, n),
		weights:  make([]float32, n),
		prob:     make([]float64, n),
		aliasIdx: make([]int, n),
	}
	copy(a.ids, ids)
	copy(a.weights, weights)
	if n == 0 {
		return a
	}

	var sum float64
	scaled := make([]float64, n)
	for _, w := range weights {
		if w > 0 {
			sum += float64(w)
		}
	}
	a.sum = sum
	if sum <= 0 {
		// All-zero weights: prob/aliasIdx stay zero-valued, Sample rejects.
		return a
	}
	for i, w := range weights {
		ww := float64(w)
		if ww < 0 {
			ww = 0
		}
		scaled[i] = ww * float64(n) / sum
	}

	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, p := range scaled {
		if p < 1.0 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	for len(small) > 0 && len(large) > 0 {
		s := small[len(small)-1]
		small = small[:len(small)-1]
		l := large[len(large)-1]
		large = large[:len(large)-1]

		a.prob[s] = scaled[s]
		a.aliasIdx[s] = l

		scaled[l] = scaled[l] + scaled[s] - 1.0
		if scaled[l] < 1.0 {
			small = append(small, l)
		} else {
			large = append(large, l)
		}
	}
	for len(large) > 0 {
		l := large[len(large)-1]
		large = large[:len(large)-1]
		a.prob[l] = 1.0
	}
	for len(small) > 0 {
		s := small[len(small)-1]
		small = small[:len(small)-1]
		a.prob[s] = 1.0
	}

	return a
}

func (a *Alias) GetSize() int { return len(a.ids) }

func (a *Alias) GetSumWeight() float64 { return a.sum }

func (a *Alias) Get(i int) (int64, float32) {
	if i < 0 || i >= len(a.ids) {
		return 0, 0
	}
	return a.ids[i], a.weights[i]
}

func (a *Alias) Sample(r *rand.Rand) (int64, float32, error) {
	if len(a.ids) == 0 || a.sum <= 0 {
		return 0, 0, eulererr.New(eulererr.Unavailable, "sample from empty or zero-weight collection")
	}
	i := r.Intn(len(a.ids))
	if r.Float64() < a.prob[i] {
		return a.ids[i], a.weights[i], nil
	}
	j := a.aliasIdx[i]
	return a.ids[j], a.weights[j], nil
}
