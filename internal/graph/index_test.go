package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexResultIntersectionAndUnion(t *testing.T) {
	a := NewIndexResult([]int64{1, 2, 3}, []float32{1, 1, 1})
	b := NewIndexResult([]int64{2, 3, 4}, []float32{2, 2, 2})

	inter := a.Intersection(b)
	require.ElementsMatch(t, []int64{2, 3}, inter.GetIds())

	union := a.Union(b)
	require.ElementsMatch(t, []int64{1, 2, 3, 4}, union.GetIds())
}

func TestFieldIndexLookup(t *testing.T) {
	idx := NewFieldIndex("city", false)
	idx.Put("boston", 1, 1)
	idx.Put("boston", 2, 1)
	idx.Put("nyc", 3, 1)

	r := idx.Lookup("boston")
	require.ElementsMatch(t, []int64{1, 2}, r.GetIds())

	empty := idx.Lookup("chicago")
	require.Equal(t, 0, empty.Size())
}

func TestNeighborIndexLookup(t *testing.T) {
	idx := NewFieldIndex("friend_of", true)
	idx.Put("10::boston", 1, 1)
	idx.Put("10::nyc", 2, 1)
	idx.Put("20::boston", 3, 1)

	r := idx.LookupNeighbor(10, "boston")
	require.ElementsMatch(t, []int64{1}, r.GetIds())
	require.True(t, idx.IsNeighborIndex())
}

func TestIndexManagerEvalIntersectsWithinClauseUnionsAcrossClauses(t *testing.T) {
	m := NewIndexManager(16)
	city := NewFieldIndex("city", false)
	city.Put("boston", 1, 1)
	city.Put("boston", 2, 1)
	city.Put("nyc", 3, 1)
	age := NewFieldIndex("age", false)
	age.Put("30", 1, 1)
	age.Put("30", 3, 1)
	m.Register(city)
	m.Register(age)

	clauses, err := ParseDNF([]string{"city = boston,age = 30", "city = nyc"})
	require.NoError(t, err)

	result, err := m.Eval(clauses)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 3}, result.GetIds())
}

func TestIndexManagerEvalUnknownFieldErrors(t *testing.T) {
	m := NewIndexManager(0)
	clauses, err := ParseDNF([]string{"missing = x"})
	require.NoError(t, err)
	_, err = m.Eval(clauses)
	require.Error(t, err)
}

func TestIndexResultSampleConverges(t *testing.T) {
	r := NewIndexResult([]int64{1, 2}, []float32{1, 3})
	ids, _, err := r.Sample(10000)
	require.NoError(t, err)
	var count1, count2 int
	for _, id := range ids {
		if id == 1 {
			count1++
		} else {
			count2++
		}
	}
	require.InDelta(t, 3.0, float64(count2)/float64(count1), 0.3)
}
