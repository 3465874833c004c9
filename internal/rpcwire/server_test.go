package rpcwire_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/euler/internal/dagexec"
	"github.com/dreamware/euler/internal/graph/graphtest"
	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/rpcwire"
	"github.com/dreamware/euler/internal/tensor"
)

func testServer(t *testing.T) (*httptest.Server, *rpcwire.Client) {
	t.Helper()
	store := graphtest.Build()
	env := kernel.Env{Store: store, Indexes: graphtest.Indexes(store)}
	srv := rpcwire.NewServer(env, kernel.NewDefaultRegistry(), 0)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, rpcwire.NewClient(ts.URL)
}

func TestPing(t *testing.T) {
	_, client := testServer(t)
	resp, err := client.Ping(context.Background())
	require.NoError(t, err)
	require.True(t, resp.Pong)
	require.Equal(t, 0, resp.ShardIndex)
}

func TestExecuteRunsDAGOverTheWire(t *testing.T) {
	_, client := testServer(t)

	dag := dagexec.DAG{Nodes: []kernel.Spec{{
		Name: "nb", Op: "API_GET_NB_NODE", Inputs: []string{"roots", "ets"},
		DNF:         []string{"price gt 2"},
		PostProcess: []string{"order_by id asc", "limit 2"},
	}}}
	inputs := map[string]*tensor.Tensor{
		"roots": tensor.FromUint64("roots", []uint64{2, 5, 6}),
		"ets":   tensor.FromInt32("ets", []int32{0, 1}),
	}
	out, err := client.Execute(context.Background(), dag, inputs, []string{"nb:0", "nb:1"})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 2, 2, 4, 4, 6}, out["nb:0"].I64)
	require.Equal(t, []uint64{3, 5, 2, 6, 3, 5}, out["nb:1"].U64)
}

func TestExecuteUnknownOutputIsClientError(t *testing.T) {
	_, client := testServer(t)
	_, err := client.Execute(context.Background(), dagexec.DAG{}, nil, []string{"missing:0"})
	require.Error(t, err)
}

func TestLegacySampleEdge(t *testing.T) {
	_, client := testServer(t)
	resp, err := client.SampleEdge(context.Background(), rpcwire.SampleEdgeRequest{EdgeType: 1, Count: 10})
	require.NoError(t, err)
	require.Len(t, resp.Edges, 30)
	for i := 0; i < 10; i++ {
		require.Equal(t, int64(1), resp.Edges[i*3+2])
	}
}

// TestLegacyGetEdgeUInt64Feature is §8 scenario 4: the sparse_f1 values
// of edges (6,1,1), (5,6,0), (4,5,1) read back as [611 612 561 562 451
// 452].
func TestLegacyGetEdgeUInt64Feature(t *testing.T) {
	_, client := testServer(t)
	results, err := client.GetEdgeUInt64Feature(context.Background(), rpcwire.FeatureRequest{
		Edges:        []int64{6, 1, 1, 5, 6, 0, 4, 5, 1},
		FeatureNames: []string{graphtest.FeatureSparseF1},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, []uint64{611, 612, 561, 562, 451, 452}, results[0].Values)
	require.Equal(t, []int64{0, 2, 2, 4, 4, 6}, results[0].Idx)
}

func TestLegacyGetNodeType(t *testing.T) {
	_, client := testServer(t)
	resp, err := client.GetNodeType(context.Background(), rpcwire.GetNodeTypeRequest{IDs: []uint64{2, 3, 99}})
	require.NoError(t, err)
	require.Equal(t, []int32{0, 1, -1}, resp.Types)
}

func TestLegacyNeighborMethods(t *testing.T) {
	_, client := testServer(t)
	ctx := context.Background()

	sorted, err := client.GetSortedNeighbor(ctx, rpcwire.NeighborRequest{
		IDs: []uint64{2}, EdgeTypes: []int32{0, 1},
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 4, 5, 6}, sorted.Neighbors)

	topk, err := client.GetTopKNeighbor(ctx, rpcwire.NeighborRequest{
		IDs: []uint64{2}, EdgeTypes: []int32{0, 1}, K: 2,
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{6, 5}, topk.Neighbors)

	sampled, err := client.SampleNeighbor(ctx, rpcwire.NeighborRequest{
		IDs: []uint64{404}, EdgeTypes: []int32{0, 1}, Count: 3, DefaultNode: 8,
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{8, 8, 8}, sampled.Neighbors)
}

func TestLegacyGetNodeFloat32Feature(t *testing.T) {
	_, client := testServer(t)
	results, err := client.GetNodeFloat32Feature(context.Background(), rpcwire.FeatureRequest{
		IDs:          []uint64{4, 6},
		FeatureNames: []string{graphtest.FeaturePrice},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, []float32{2, 6}, results[0].Values)
}
