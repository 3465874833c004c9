package graph_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/euler/internal/graph"
	"github.com/dreamware/euler/internal/graph/graphtest"
	"github.com/dreamware/euler/internal/rng"
	"github.com/dreamware/euler/internal/xid"
)

func TestGetFullNeighborIsUnionOfGroups(t *testing.T) {
	store := graphtest.Build()

	rows := store.GetFullNeighbor(2, []int32{0, 1})
	var ids []uint64
	for _, r := range rows {
		ids = append(ids, uint64(r.ID))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	require.Equal(t, []uint64{3, 4, 5, 6}, ids)
}

func TestGetSortedFullNeighborEqualsSortedFull(t *testing.T) {
	store := graphtest.Build()
	for _, id := range []xid.NodeID{1, 2, 3, 4, 5, 6} {
		full := store.GetFullNeighbor(id, []int32{0, 1})
		sort.SliceStable(full, func(i, j int) bool { return full[i].ID < full[j].ID })

		sorted := store.GetSortedFullNeighbor(id, []int32{0, 1})
		require.Equal(t, full, sorted, "node %d", id)
	}
}

func TestGetTopKNeighborIsKLargestByWeight(t *testing.T) {
	store := graphtest.Build()

	top := store.GetTopKNeighbor(2, []int32{0, 1}, 2)
	require.Len(t, top, 2)
	// Node 2's neighbors are {3,4,5,6} with weight == id; top-2 is 6, 5.
	require.Equal(t, xid.NodeID(6), top[0].ID)
	require.Equal(t, xid.NodeID(5), top[1].ID)

	// k beyond the degree returns everything.
	all := store.GetTopKNeighbor(2, []int32{0, 1}, 100)
	require.Len(t, all, 4)
}

func TestGetFullNeighborMissingNodeIsEmpty(t *testing.T) {
	store := graphtest.Build()
	require.Empty(t, store.GetFullNeighbor(99, []int32{0, 1}))
}

func TestSampleNodeInvalidTypeIsEmpty(t *testing.T) {
	store := graphtest.Build()
	ids, weights, err := store.SampleNode(7, 10)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Empty(t, weights)
}

// TestSampleNodeFrequencies is the §8 statistical scenario: sampling
// type-0 nodes 100000 times, freq(4)/freq(2) converges to 2 and
// freq(6)/freq(2) to 3 within 5%.
func TestSampleNodeFrequencies(t *testing.T) {
	rng.SetProcessSeed(42)
	store := graphtest.Build()

	const n = 100000
	counts := map[xid.NodeID]int{}
	ids, _, err := store.SampleNode(0, n)
	require.NoError(t, err)
	require.Len(t, ids, n)
	for _, id := range ids {
		counts[id]++
	}
	for id := range counts {
		require.Contains(t, []xid.NodeID{2, 4, 6}, id)
	}

	r42 := float64(counts[4]) / float64(counts[2])
	r62 := float64(counts[6]) / float64(counts[2])
	require.InDelta(t, 2.0, r42, 0.1, "freq(4)/freq(2)")
	require.InDelta(t, 3.0, r62, 0.1, "freq(6)/freq(2)")
}

func TestSampleEdgeReturnsRequestedType(t *testing.T) {
	store := graphtest.Build()
	ids, _, err := store.SampleEdge(1, 10)
	require.NoError(t, err)
	require.Len(t, ids, 10)
	for _, e := range ids {
		require.Equal(t, int32(1), e.Type)
	}
}

func TestSampleNodeTypesRestrictsToGivenTypes(t *testing.T) {
	store := graphtest.Build()
	ids, _, err := store.SampleNodeTypes([]int32{1}, 50)
	require.NoError(t, err)
	require.Len(t, ids, 50)
	for _, id := range ids {
		require.True(t, id%2 == 1, "type-1 nodes are the odd ids, got %d", id)
	}
}

func TestSampleNeighborDrawsFromNeighborSet(t *testing.T) {
	store := graphtest.Build()
	rows, err := store.SampleNeighbor(2, []int32{0, 1}, 20)
	require.NoError(t, err)
	require.Len(t, rows, 20)
	for _, r := range rows {
		require.Contains(t, []xid.NodeID{3, 4, 5, 6}, r.ID)
	}
}

func TestFeatureIdxReconstructsData(t *testing.T) {
	store := graphtest.Build()
	// Every edge's sparse_f1 occupies offsets [0,2); concatenating the
	// per-feature ranges must reconstruct the block's value array exactly.
	feat, ok := store.Meta.Feature(graphtest.FeatureSparseF1)
	require.True(t, ok)

	e, ok := store.GetEdgeByID(xid.EdgeID{Src: 5, Dst: 6, Type: 0})
	require.True(t, ok)
	vals := e.Features.Sparse.U64Values(int(feat.ID))
	require.Equal(t, []uint64{561, 562}, vals)
	require.Equal(t, len(e.Features.Sparse.U64), int(e.Features.Sparse.Offsets[len(e.Features.Sparse.Offsets)-1]))
}

func TestGetEdgeByUIDRoundTrip(t *testing.T) {
	store := graphtest.Build()
	id := xid.EdgeID{Src: 6, Dst: 1, Type: 1}
	e, ok := store.GetEdgeByUID(id.Hash())
	require.True(t, ok)
	require.Equal(t, id, e.ID)
}

func TestNodeSumWeightsPerType(t *testing.T) {
	store := graphtest.Build()
	sums := store.NodeSumWeights()
	require.InDelta(t, 6.0, sums[0], 1e-9) // 1+2+3 over ids 2,4,6
	require.InDelta(t, 6.0, sums[1], 1e-9)
}

func TestBuildNodeFieldIndexAnswersComparisons(t *testing.T) {
	store := graphtest.Build()
	idx, err := graph.BuildNodeFieldIndex(store, graphtest.FeaturePrice)
	require.NoError(t, err)

	r := idx.LookupCompare(graph.OpGt, "2")
	got := append([]int64(nil), r.GetIds()...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Equal(t, []int64{2, 3, 5, 6}, got)
}
