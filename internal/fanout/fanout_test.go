package fanout

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/euler/internal/dagexec"
	"github.com/dreamware/euler/internal/eulererr"
	"github.com/dreamware/euler/internal/graph/graphtest"
	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/rpcwire"
	"github.com/dreamware/euler/internal/tensor"
)

func shardServer(t *testing.T, shardIndex int) *rpcwire.Client {
	t.Helper()
	store := graphtest.Build()
	env := kernel.Env{Store: store, Indexes: graphtest.Indexes(store)}
	srv := rpcwire.NewServer(env, kernel.NewDefaultRegistry(), shardIndex)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return rpcwire.NewClient(ts.URL)
}

func typeLookupCall(shardIndex int, client *rpcwire.Client) ShardCall {
	return ShardCall{
		ShardIndex: shardIndex,
		Client:     client,
		DAG: dagexec.DAG{Nodes: []kernel.Spec{{
			Name: "nt", Op: "API_GET_NODE_T", Inputs: []string{"ids"},
		}}},
		Inputs:  map[string]*tensor.Tensor{"ids": tensor.FromUint64("ids", []uint64{2})},
		Outputs: []string{"nt:0"},
	}
}

func TestExecuteAllGathersEveryShard(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	calls := []ShardCall{
		typeLookupCall(0, shardServer(t, 0)),
		typeLookupCall(1, shardServer(t, 1)),
	}
	results, err := pool.ExecuteAll(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []int32{0}, results[0]["nt:0"].I32)
	require.Equal(t, []int32{0}, results[1]["nt:0"].I32)
}

func TestExecuteAllFailsWholeRequestOnAnyShardError(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	dead := httptest.NewServer(nil)
	deadClient := rpcwire.NewClient(dead.URL)
	dead.Close() // connection refused from here on

	calls := []ShardCall{
		typeLookupCall(0, shardServer(t, 0)),
		typeLookupCall(1, deadClient),
	}
	_, err := pool.ExecuteAll(context.Background(), calls)
	require.Error(t, err, "partial success must never be silently merged")
}

func TestExecuteAllNilClientIsUnavailable(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	_, err := pool.ExecuteAll(context.Background(), []ShardCall{{ShardIndex: 3}})
	require.Error(t, err)
	require.True(t, eulererr.Is(err, eulererr.Unavailable))
}

func TestExecuteAllEmptyCallsSucceeds(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()
	results, err := pool.ExecuteAll(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestExecuteAllRespectsDeadline(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := pool.ExecuteAll(ctx, []ShardCall{typeLookupCall(0, shardServer(t, 0))})
	require.Error(t, err)
}

func TestNextCompletionQueueRoundRobins(t *testing.T) {
	pool := NewPool(3)
	defer pool.Close()

	first := pool.NextCompletionQueue()
	second := pool.NextCompletionQueue()
	third := pool.NextCompletionQueue()
	wrapped := pool.NextCompletionQueue()
	require.NotEqual(t, first, second)
	require.NotEqual(t, second, third)
	require.Equal(t, first, wrapped)
}
