package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/euler/internal/storage"
)

func TestRegisterAndGetRegisterInfo(t *testing.T) {
	r := NewRegistry(storage.NewMemoryStore(), "/euler/test")

	require.NoError(t, r.PublishClusterMeta(ClusterMeta{NumShards: 2, NumPartitions: 4}))
	require.NoError(t, r.RegisterShard(0, ShardMeta{HostPort: "10.0.0.1:9000", NodeSumWeight: map[int32]float64{0: 10}}))
	require.NoError(t, r.RegisterShard(1, ShardMeta{HostPort: "10.0.0.2:9000", NodeSumWeight: map[int32]float64{0: 20}}))

	cm, shards, err := r.GetRegisterInfo()
	require.NoError(t, err)
	require.Equal(t, 2, cm.NumShards)
	require.Len(t, shards, 2)
	require.Equal(t, "10.0.0.1:9000", shards[0].HostPort)
	require.Equal(t, 20.0, shards[1].NodeSumWeight[0])
}

func TestRegisterShardIsIdempotent(t *testing.T) {
	r := NewRegistry(storage.NewMemoryStore(), "/euler/test")
	meta := ShardMeta{HostPort: "h:1"}
	require.NoError(t, r.RegisterShard(0, meta))
	require.NoError(t, r.RegisterShard(0, meta))
	_, shards, err := r.GetRegisterInfo()
	require.NoError(t, err)
	require.Len(t, shards, 1)
}

func TestDeregisterShardIsIdempotent(t *testing.T) {
	r := NewRegistry(storage.NewMemoryStore(), "/euler/test")
	require.NoError(t, r.DeregisterShard(5, "ghost:1"))
	require.NoError(t, r.DeregisterShard(5, "ghost:1"))
}

func TestMarkUnavailable(t *testing.T) {
	r := NewRegistry(storage.NewMemoryStore(), "/euler/test")
	require.True(t, r.IsAvailable(3))
	r.MarkUnavailable(3)
	require.False(t, r.IsAvailable(3))
	r.MarkAvailable(3)
	require.True(t, r.IsAvailable(3))
}

func TestSubscribeReportsAppearanceAndRemoval(t *testing.T) {
	r := NewRegistry(storage.NewMemoryStore(), "/euler/test")
	require.NoError(t, r.RegisterShard(0, ShardMeta{HostPort: "h:1"}))

	stop := make(chan struct{})
	changes := make(chan ShardChange, 8)
	go r.Subscribe(5*time.Millisecond, stop, func(c ShardChange) { changes <- c })

	select {
	case c := <-changes:
		require.Equal(t, 0, c.ShardIndex)
		require.False(t, c.Removed)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial shard appearance")
	}

	require.NoError(t, r.DeregisterShard(0, "h:1"))

	var removed bool
	for i := 0; i < 50 && !removed; i++ {
		select {
		case c := <-changes:
			if c.ShardIndex == 0 && c.Removed {
				removed = true
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	close(stop)
	require.True(t, removed, "expected a removal notification after deregistering")
	require.False(t, r.IsAvailable(0))
}
