package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/euler/internal/graph"
)

func TestLoadDefaults(t *testing.T) {
	opts, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, 9190, opts.Port)
	require.Equal(t, "all", opts.LoadDataType)
	require.Equal(t, 1, opts.ShardNumber)
	require.Equal(t, "graph", opts.GraphName)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("EULER_SHARD_NUMBER", "4")
	t.Setenv("EULER_SHARD_INDEX", "2")
	t.Setenv("EULER_LOAD_DATA_TYPE", "node")

	opts, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, 4, opts.ShardNumber)
	require.Equal(t, 2, opts.ShardIndex)

	lt, err := opts.LoadType()
	require.NoError(t, err)
	require.Equal(t, graph.LoadNode, lt)
}

func TestValidateRejectsBadShardIndex(t *testing.T) {
	opts := Defaults()
	opts.ShardIndex = 3
	opts.ShardNumber = 2
	require.Error(t, opts.Validate())
}

func TestValidateRejectsUnknownLoadType(t *testing.T) {
	opts := Defaults()
	opts.LoadDataType = "everything"
	require.Error(t, opts.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	opts := Defaults()
	opts.Port = -1
	require.Error(t, opts.Validate())
}

func TestSamplerTypeParses(t *testing.T) {
	opts := Defaults()
	for name, want := range map[string]graph.GlobalSamplerType{
		"none": graph.SamplerNone,
		"node": graph.SamplerNode,
		"edge": graph.SamplerEdge,
		"all":  graph.SamplerAll,
	} {
		opts.GlobalSamplerType = name
		got, err := opts.SamplerType()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
