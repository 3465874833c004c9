package sampler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompactEmptySampleFails(t *testing.T) {
	c := NewCompact(nil, nil)
	require.Equal(t, 0, c.GetSize())
	_, _, err := c.Sample(rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestCompactAllZeroWeightsSampleFails(t *testing.T) {
	c := NewCompact([]int64{1, 2, 3}, []float32{0, 0, 0})
	_, _, err := c.Sample(rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestCompactConvergence(t *testing.T) {
	ids := []int64{2, 4, 6}
	weights := []float32{1, 2, 3}
	c := NewCompact(ids, weights)
	assertConverges(t, c)
}

func TestAliasConvergence(t *testing.T) {
	ids := []int64{2, 4, 6}
	weights := []float32{1, 2, 3}
	a := NewAlias(ids, weights)
	assertConverges(t, a)
}

// assertConverges implements the spec §8 testable property: over N=1e5
// samples, empirical frequency converges to weight/total within 5%.
func assertConverges(t *testing.T, c Collection) {
	t.Helper()
	r := rand.New(rand.NewSource(42))
	const n = 100000
	counts := map[int64]int{}
	for i := 0; i < n; i++ {
		id, _, err := c.Sample(r)
		require.NoError(t, err)
		counts[id]++
	}

	freq2 := float64(counts[2]) / n
	freq4 := float64(counts[4]) / n
	freq6 := float64(counts[6]) / n

	require.InDelta(t, 2.0, freq4/freq2, 0.1, "freq(4)/freq(2) should be near 2.0")
	require.InDelta(t, 3.0, freq6/freq2, 0.1, "freq(6)/freq(2) should be near 3.0")
}

func TestAliasZeroWeightEntriesNeverSelected(t *testing.T) {
	a := NewAlias([]int64{1, 2, 3}, []float32{0, 5, 0})
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		id, _, err := a.Sample(r)
		require.NoError(t, err)
		require.Equal(t, int64(2), id)
	}
}
