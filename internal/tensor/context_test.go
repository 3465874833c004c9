package tensor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextAllocAndGet(t *testing.T) {
	c := NewContext()
	c.Alloc("API_SAMPLE_NODE:0", INT64, []int64{2})
	tn, ok := c.Get("API_SAMPLE_NODE:0")
	require.True(t, ok)
	require.Equal(t, INT64, tn.DType)
}

func TestContextAliasResolvesTransitively(t *testing.T) {
	c := NewContext()
	c.Put("src", FromInt64("src", []int64{7, 8}))
	c.Alias("mid", "src")
	c.Alias("final", "mid")

	tn, ok := c.Get("final")
	require.True(t, ok)
	require.Equal(t, []int64{7, 8}, tn.I64)
}

func TestContextGetMissingNameFails(t *testing.T) {
	c := NewContext()
	_, ok := c.Get("nope")
	require.False(t, ok)
}

func TestContextGetAliasCycleFailsInsteadOfLooping(t *testing.T) {
	c := NewContext()
	c.Alias("a", "b")
	c.Alias("b", "a")
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestContextPutOverridesAlias(t *testing.T) {
	c := NewContext()
	c.Put("src", FromInt64("src", []int64{1}))
	c.Alias("x", "src")
	c.Put("x", FromInt64("x", []int64{9}))

	tn, ok := c.Get("x")
	require.True(t, ok)
	require.Equal(t, []int64{9}, tn.I64)
}

func TestContextReset(t *testing.T) {
	c := NewContext()
	c.Put("a", FromInt64("a", []int64{1}))
	c.Alias("b", "a")
	c.Reset()
	require.False(t, c.Has("a"))
	require.False(t, c.Has("b"))
	require.Empty(t, c.Names())
}
