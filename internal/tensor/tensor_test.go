package tensor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAllocatesPerDType(t *testing.T) {
	tn := New("x", FLOAT, []int64{3})
	require.Len(t, tn.F32, 3)
	require.Equal(t, int64(3), NumElements(tn.Shape))
}

func TestNumElementsProduct(t *testing.T) {
	require.Equal(t, int64(12), NumElements([]int64{3, 4}))
	require.Equal(t, int64(0), NumElements(nil))
}

func TestFromHelpersPreserveData(t *testing.T) {
	tn := FromInt64("ids", []int64{1, 2, 3})
	require.Equal(t, INT64, tn.DType)
	require.Equal(t, 3, tn.Len())
}
