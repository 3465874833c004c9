package kernel

import (
	"math"

	"github.com/dreamware/euler/internal/graph"
	"github.com/dreamware/euler/internal/tensor"
	"github.com/dreamware/euler/internal/xid"
)

// firstInt reads t's first element as an int64, regardless of which
// integer dtype backs it, defaulting to 0 for a nil or empty tensor —
// kernels use this to read scalar "count"/"type" control inputs.
func firstInt(t *tensor.Tensor) int64 {
	if t == nil {
		return 0
	}
	switch t.DType {
	case tensor.INT8:
		if len(t.I8) > 0 {
			return int64(t.I8[0])
		}
	case tensor.INT16:
		if len(t.I16) > 0 {
			return int64(t.I16[0])
		}
	case tensor.INT32:
		if len(t.I32) > 0 {
			return int64(t.I32[0])
		}
	case tensor.INT64:
		if len(t.I64) > 0 {
			return t.I64[0]
		}
	case tensor.UINT32:
		if len(t.U32) > 0 {
			return int64(t.U32[0])
		}
	case tensor.UINT64:
		if len(t.U64) > 0 {
			return int64(t.U64[0])
		}
	}
	return 0
}

// asNodeIDs reads t as a slice of node ids, regardless of its integer
// dtype.
func asNodeIDs(t *tensor.Tensor) []xid.NodeID {
	if t == nil {
		return nil
	}
	switch t.DType {
	case tensor.UINT64:
		out := make([]xid.NodeID, len(t.U64))
		for i, v := range t.U64 {
			out[i] = xid.NodeID(v)
		}
		return out
	case tensor.INT64:
		out := make([]xid.NodeID, len(t.I64))
		for i, v := range t.I64 {
			out[i] = xid.NodeID(v)
		}
		return out
	case tensor.INT32:
		out := make([]xid.NodeID, len(t.I32))
		for i, v := range t.I32 {
			out[i] = xid.NodeID(v)
		}
		return out
	}
	return nil
}

// asInt32s reads t as a slice of int32, regardless of its integer dtype —
// used for edge_type lists.
func asInt32s(t *tensor.Tensor) []int32 {
	if t == nil {
		return nil
	}
	switch t.DType {
	case tensor.INT32:
		return t.I32
	case tensor.INT64:
		out := make([]int32, len(t.I64))
		for i, v := range t.I64 {
			out[i] = int32(v)
		}
		return out
	case tensor.UINT64:
		out := make([]int32, len(t.U64))
		for i, v := range t.U64 {
			out[i] = int32(v)
		}
		return out
	}
	return nil
}

// nodeIDsToUint64 converts node ids to the uint64 slice a UINT64 output
// tensor wraps.
func nodeIDsToUint64(ids []xid.NodeID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

// sentinelInt32, sentinelUint64 and sentinelFloat32 return the dtype-specific
// sentinels for REGULAR_DATA_MERGE's unfilled output slots: math.MinInt32,
// uint64 max, float NaN. There is no char (INT8) sentinel; REGULAR_DATA_MERGE
// handles every dtype other than UINT64 and INT32 as FLOAT.
func sentinelInt32() int32 { return math.MinInt32 }
func sentinelUint64() uint64 { return math.MaxUint64 }
func sentinelFloat32() float32 { return float32(math.NaN()) }

func isSentinelFloat32(v float32) bool { return v != v } // NaN != NaN

// reducedCollectionFromIDs builds parallel (ids, weights) for every node in
// candidates whose id also appears in allowed's weighted set, used by the
// dnf-filtered "traverse and reweight" sampling path (spec §4.5).
func reducedCollectionFromIDs(candidates []*graph.Node, allowed *graph.IndexResult) ([]int64, []float32) {
	allowedSet := make(map[int64]bool, allowed.Size())
	for _, id := range allowed.GetIds() {
		allowedSet[id] = true
	}
	var ids []int64
	var weights []float32
	for _, n := range candidates {
		if allowedSet[int64(n.ID)] {
			ids = append(ids, int64(n.ID))
			weights = append(weights, n.Weight)
		}
	}
	return ids, weights
}
