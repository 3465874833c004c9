// Package graph implements Euler's compact in-memory graph store: packed,
// type-partitioned node/edge tables with O(1) lookup, weighted sampling,
// sorted and top-K neighbor queries, and typed feature blocks (spec §3,
// §4.2). The store is immutable after load; there is no in-place mutation
// once a Store has been handed to query serving.
package graph

import "github.com/dreamware/euler/internal/xid"

// FeatureKind tags which of the three value encodings a feature block uses.
type FeatureKind int

const (
	// FeatureSparse holds variable-length uint64 token ids per feature
	// (e.g. sparse categorical features).
	FeatureSparse FeatureKind = iota
	// FeatureDense holds variable-length float32 values per feature.
	FeatureDense
	// FeatureBinary holds an opaque byte blob per feature (e.g. a
	// serialized embedding or a graph-label marker).
	FeatureBinary
)

// FeatureBlock holds one node's (or one edge's) values for every feature of
// a single kind, using an offsets array so feature i's values are
// data[Offsets[i]:Offsets[i+1]] — the "index array of N+1 offsets, values
// array" layout spec §3 mandates. A node or edge record carries exactly
// three of these (sparse, dense, binary); the feature id i is the small
// per-schema integer assigned in Metadata.
type FeatureBlock struct {
	// Offsets has len(Offsets) == N+1 for N features of this kind.
	Offsets []int32
	// U64 backs FeatureSparse blocks.
	U64 []uint64
	// F32 backs FeatureDense blocks.
	F32 []float32
	// Bin backs FeatureBinary blocks.
	Bin  []byte
	Kind FeatureKind
}

// rangeOf returns feature i's [begin,end) byte/element range.
func (f *FeatureBlock) rangeOf(featureIdx int) (begin, end int32) {
	if f == nil || featureIdx < 0 || featureIdx+1 >= len(f.Offsets) {
		return 0, 0
	}
	return f.Offsets[featureIdx], f.Offsets[featureIdx+1]
}

// U64Values returns feature i's sparse token ids.
func (f *FeatureBlock) U64Values(featureIdx int) []uint64 {
	b, e := f.rangeOf(featureIdx)
	if b == e {
		return nil
	}
	return f.U64[b:e]
}

// F32Values returns feature i's dense float values.
func (f *FeatureBlock) F32Values(featureIdx int) []float32 {
	b, e := f.rangeOf(featureIdx)
	if b == e {
		return nil
	}
	return f.F32[b:e]
}

// BinValue returns feature i's binary blob.
func (f *FeatureBlock) BinValue(featureIdx int) []byte {
	b, e := f.rangeOf(featureIdx)
	if b == e {
		return nil
	}
	return f.Bin[b:e]
}

// NumFeatures reports how many features this block addresses, or 0 for a
// nil block.
func (f *FeatureBlock) NumFeatures() int {
	if f == nil || len(f.Offsets) == 0 {
		return 0
	}
	return len(f.Offsets) - 1
}

// Features bundles the three feature-kind blocks a node or edge record
// carries.
type Features struct {
	Sparse *FeatureBlock
	Dense  *FeatureBlock
	Binary *FeatureBlock
}

// NeighborGroup is one edge type's outgoing-neighbor run for a single node:
// neighbor ids sorted ascending, a running prefix-sum of their weights
// (monotone non-decreasing, last element equal to the group's total
// weight), per spec §3's invariants.
type NeighborGroup struct {
	EdgeType      int32
	NeighborIDs   []xid.NodeID
	WeightPrefix  []float64
	NeighborTypes []int32 // parallel to NeighborIDs; dst node type, if known
}

// TotalWeight returns the group's total neighbor weight (the last prefix
// entry, or 0 for an empty group).
func (g *NeighborGroup) TotalWeight() float64 {
	if len(g.WeightPrefix) == 0 {
		return 0
	}
	return g.WeightPrefix[len(g.WeightPrefix)-1]
}

// WeightOf returns neighbor i's individual weight, recovered from the
// prefix-sum difference.
func (g *NeighborGroup) WeightOf(i int) float32 {
	if i < 0 || i >= len(g.NeighborIDs) {
		return 0
	}
	if i == 0 {
		return float32(g.WeightPrefix[0])
	}
	return float32(g.WeightPrefix[i] - g.WeightPrefix[i-1])
}

// Node is an immutable node record: identity, per-feature-kind blocks, and
// outgoing neighbor groups partitioned by edge type (spec §3).
type Node struct {
	Neighbors map[int32]*NeighborGroup // keyed by edge type
	ID        xid.NodeID
	Type      int32
	Weight    float32
	Features  Features
}

// Edge is an immutable edge record.
type Edge struct {
	ID       xid.EdgeID
	Weight   float32
	Features Features
}
