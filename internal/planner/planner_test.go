package planner_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/euler/internal/dagexec"
	"github.com/dreamware/euler/internal/fanout"
	"github.com/dreamware/euler/internal/graph/graphtest"
	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/planner"
	"github.com/dreamware/euler/internal/registry"
	"github.com/dreamware/euler/internal/rpcwire"
	"github.com/dreamware/euler/internal/tensor"
	"github.com/dreamware/euler/internal/xid"
)

const (
	testPartitions = 4
	testShards     = 2
)

// startCluster boots a two-shard in-process cluster over the shared test
// graph: each shard owns its hash partition of the nodes, and both carry
// a price index built over the full graph (index metadata is
// cluster-wide; per-shard data is not).
func startCluster(t *testing.T, drop ...int) *planner.Planner {
	t.Helper()
	dropped := map[int]bool{}
	for _, d := range drop {
		dropped[d] = true
	}

	fullIndexes := graphtest.Indexes(graphtest.Build())
	clients := make(map[int]*rpcwire.Client)
	weights := make(map[int]registry.ShardMeta)
	for s := 0; s < testShards; s++ {
		if dropped[s] {
			continue
		}
		store := graphtest.BuildShard(testPartitions, testShards, s)
		env := kernel.Env{Store: store, Indexes: fullIndexes}
		srv := rpcwire.NewServer(env, kernel.NewDefaultRegistry(), s)
		ts := httptest.NewServer(srv.Router())
		t.Cleanup(ts.Close)
		clients[s] = rpcwire.NewClient(ts.URL)
		weights[s] = registry.ShardMeta{
			HostPort:      ts.URL,
			NodeSumWeight: store.NodeSumWeights(),
			EdgeSumWeight: store.EdgeSumWeights(),
		}
	}

	pool := fanout.NewPool(4)
	t.Cleanup(pool.Close)
	p := planner.New(kernel.NewDefaultRegistry(), pool, testShards, testPartitions, clients)
	p.Weights = weights
	return p
}

// TestMergeLawGetP is the §8 merge law: GET_P split across two shards
// equals the single-store run row for row.
func TestMergeLawGetP(t *testing.T) {
	p := startCluster(t)

	dag := dagexec.DAG{Nodes: []kernel.Spec{{
		Name: "gp", Op: "API_GET_P", Inputs: []string{"ids", "feats"},
	}}}
	inputs := map[string]*tensor.Tensor{
		"ids":   tensor.FromUint64("ids", []uint64{1, 2, 3, 4, 5, 6}),
		"feats": tensor.FromString("feats", []string{graphtest.FeaturePrice}),
	}
	out, err := p.Execute(context.Background(), dag, inputs, []string{"gp:0", "gp:1"})
	require.NoError(t, err)

	idx := out["gp:0"].I64
	data := out["gp:1"].F32
	require.Equal(t, []int64{0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6}, idx)
	require.Equal(t, []float32{1, 3, 4, 2, 5, 6}, data)
}

func TestSampleNodeApportionsAcrossShards(t *testing.T) {
	p := startCluster(t)

	dag := dagexec.DAG{Nodes: []kernel.Spec{{
		Name: "sn", Op: "API_SAMPLE_NODE", Inputs: []string{"typ", "cnt"},
	}}}
	inputs := map[string]*tensor.Tensor{
		"typ": tensor.FromInt32("typ", []int32{0}),
		"cnt": tensor.FromInt32("cnt", []int32{40}),
	}
	out, err := p.Execute(context.Background(), dag, inputs, []string{"sn:0"})
	require.NoError(t, err)
	require.Len(t, out["sn:0"].U64, 40)
	for _, id := range out["sn:0"].U64 {
		require.Contains(t, []uint64{2, 4, 6}, id)
	}
}

func TestGetNodeTScattersByMergeIndex(t *testing.T) {
	p := startCluster(t)

	dag := dagexec.DAG{Nodes: []kernel.Spec{{
		Name: "nt", Op: "API_GET_NODE_T", Inputs: []string{"ids"},
	}}}
	inputs := map[string]*tensor.Tensor{
		"ids": tensor.FromUint64("ids", []uint64{1, 2, 3, 4, 5, 6}),
	}
	out, err := p.Execute(context.Background(), dag, inputs, []string{"nt:0"})
	require.NoError(t, err)
	require.Equal(t, []int32{1, 0, 1, 0, 1, 0}, out["nt:0"].I32)
}

// TestScenarioThreeAcrossShards runs the filtered/ordered/limited
// neighbor expansion end to end through split, fan-out, and GP merge.
func TestScenarioThreeAcrossShards(t *testing.T) {
	p := startCluster(t)

	dag := dagexec.DAG{Nodes: []kernel.Spec{{
		Name: "nb", Op: "API_GET_NB_NODE", Inputs: []string{"roots", "ets"},
		DNF:         []string{"price gt 2"},
		PostProcess: []string{"order_by id asc", "limit 2"},
	}}}
	inputs := map[string]*tensor.Tensor{
		"roots": tensor.FromUint64("roots", []uint64{2, 5, 6}),
		"ets":   tensor.FromInt32("ets", []int32{0, 1}),
	}
	out, err := p.Execute(context.Background(), dag, inputs, []string{"nb:0", "nb:1"})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 2, 2, 4, 4, 6}, out["nb:0"].I64)
	require.Equal(t, []uint64{3, 5, 2, 6, 3, 5}, out["nb:1"].U64)
}

func TestMixedLocalAndRemoteNodes(t *testing.T) {
	p := startCluster(t)

	dag := dagexec.DAG{Nodes: []kernel.Spec{
		{Name: "gen", Op: "API_SPARSE_GEN_ADJ", Inputs: []string{"roots"}},
		{Name: "nt", Op: "API_GET_NODE_T", Inputs: []string{"gen:0"}},
	}}
	inputs := map[string]*tensor.Tensor{
		"roots": tensor.FromUint64("roots", []uint64{2, 6, 2}),
	}
	out, err := p.Execute(context.Background(), dag, inputs, []string{"gen:1", "nt:0"})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 0}, out["gen:1"].I64)
	require.Equal(t, []int32{0, 0, 0}, out["nt:0"].I32)
}

// TestForeignRowsStaySentinelWhenShardIsDown drops shard 1: ids owned by
// it are never dispatched (tracked by the split's foreign bitmask) and
// their output slots keep the dtype sentinel.
func TestForeignRowsStaySentinelWhenShardIsDown(t *testing.T) {
	p := startCluster(t, 1)

	dag := dagexec.DAG{Nodes: []kernel.Spec{{
		Name: "nt", Op: "API_GET_NODE_T", Inputs: []string{"ids"},
	}}}
	inputs := map[string]*tensor.Tensor{
		"ids": tensor.FromUint64("ids", []uint64{1, 2, 3, 4, 5, 6}),
	}
	out, err := p.Execute(context.Background(), dag, inputs, []string{"nt:0"})
	require.NoError(t, err)

	types := out["nt:0"].I32
	wantTypes := []int32{1, 0, 1, 0, 1, 0}
	for i, id := range []uint64{1, 2, 3, 4, 5, 6} {
		if ownedByLiveShard(id) {
			require.Equal(t, wantTypes[i], types[i], "id %d", id)
		} else {
			require.Less(t, types[i], int32(0), "id %d should keep the sentinel", id)
		}
	}
}

// ownedByLiveShard reports whether shard 0 — the only live shard in the
// drop-test cluster — owns id.
func ownedByLiveShard(id uint64) bool {
	return xid.OwnsNode(xid.NodeID(id), testPartitions, testShards, 0)
}

func TestNoShardsAvailableIsUnavailable(t *testing.T) {
	pool := fanout.NewPool(2)
	t.Cleanup(pool.Close)
	p := planner.New(kernel.NewDefaultRegistry(), pool, testShards, testPartitions, nil)

	dag := dagexec.DAG{Nodes: []kernel.Spec{{
		Name: "nt", Op: "API_GET_NODE_T", Inputs: []string{"ids"},
	}}}
	inputs := map[string]*tensor.Tensor{"ids": tensor.FromUint64("ids", []uint64{1})}
	_, err := p.Execute(context.Background(), dag, inputs, []string{"nt:0"})
	require.Error(t, err)
}
