// Package graphtest assembles the six-node test graph the engine's test
// suites share: nodes 1..6 with types, weights, a dense "price" feature,
// an edge-level sparse "sparse_f1" feature, and a binary "graph_label",
// wired so the documented end-to-end scenarios have exact expected
// values.
//
// Layout: even ids are type 0 with weights 1/2/3 (ids 2/4/6), odd ids are
// type 1 with weights 1/2/3 (ids 1/3/5). Every adjacency pair is also an
// edge record whose sparse_f1 is [src*100+dst*10+1, src*100+dst*10+2].
package graphtest

import (
	"github.com/dreamware/euler/internal/graph"
	"github.com/dreamware/euler/internal/xid"
)

// Feature ids assigned by Meta's registration order.
const (
	FeatureSparseF1 = "sparse_f1"
	FeaturePrice    = "price"
	FeatureLabel    = "graph_label"
)

// nodeSpec is one node's full definition.
type nodeSpec struct {
	id     uint64
	typ    int32
	weight float32
	price  float32
	label  string
	// neighbors by edge type; neighbor weight equals the neighbor id.
	nb map[int32][]uint64
}

var nodeSpecs = []nodeSpec{
	{id: 1, typ: 1, weight: 1, price: 1, label: "g1", nb: map[int32][]uint64{0: {2}, 1: {4}}},
	{id: 2, typ: 0, weight: 1, price: 3, label: "g2", nb: map[int32][]uint64{0: {3, 5}, 1: {4, 6}}},
	{id: 3, typ: 1, weight: 2, price: 4, label: "g1", nb: map[int32][]uint64{0: {4}, 1: {6}}},
	{id: 4, typ: 0, weight: 2, price: 2, label: "g2", nb: map[int32][]uint64{0: {1}, 1: {5}}},
	{id: 5, typ: 1, weight: 3, price: 5, label: "g1", nb: map[int32][]uint64{0: {6}, 1: {2}}},
	{id: 6, typ: 0, weight: 3, price: 6, label: "g2", nb: map[int32][]uint64{0: {3, 5}, 1: {1}}},
}

// Meta builds the graph metadata with the canonical feature schema:
// sparse_f1 (sparse, id 0), price (dense, id 1), graph_label (binary,
// id 2).
func Meta(partitionCount int) *graph.Metadata {
	m := graph.NewMetadata("testgraph", "v1", partitionCount)
	m.RegisterNodeType("even")
	m.RegisterNodeType("odd")
	m.RegisterEdgeType("et0")
	m.RegisterEdgeType("et1")
	m.RegisterFeature(FeatureSparseF1, graph.FeatureSparse)
	m.RegisterFeature(FeaturePrice, graph.FeatureDense)
	m.RegisterFeature(FeatureLabel, graph.FeatureBinary)
	return m
}

// nodeFeatures packs one node's three feature blocks under the schema's
// id assignment: dense slot 1 carries price, binary slot 2 the label.
func nodeFeatures(price float32, label string) graph.Features {
	return graph.Features{
		Sparse: &graph.FeatureBlock{Kind: graph.FeatureSparse, Offsets: []int32{0, 0, 0, 0}},
		Dense: &graph.FeatureBlock{
			Kind:    graph.FeatureDense,
			Offsets: []int32{0, 0, 1, 1},
			F32:     []float32{price},
		},
		Binary: &graph.FeatureBlock{
			Kind:    graph.FeatureBinary,
			Offsets: []int32{0, 0, 0, int32(len(label))},
			Bin:     []byte(label),
		},
	}
}

// edgeFeatures packs one edge's blocks: sparse slot 0 carries sparse_f1.
func edgeFeatures(src, dst uint64) graph.Features {
	v := src*100 + dst*10
	return graph.Features{
		Sparse: &graph.FeatureBlock{
			Kind:    graph.FeatureSparse,
			Offsets: []int32{0, 2, 2, 2},
			U64:     []uint64{v + 1, v + 2},
		},
		Dense:  &graph.FeatureBlock{Kind: graph.FeatureDense, Offsets: []int32{0, 0, 0, 0}},
		Binary: &graph.FeatureBlock{Kind: graph.FeatureBinary, Offsets: []int32{0, 0, 0, 0}},
	}
}

// Records materializes the full node/edge record set.
func Records() ([]*graph.Node, []*graph.Edge) {
	var nodes []*graph.Node
	var edges []*graph.Edge
	for _, spec := range nodeSpecs {
		n := &graph.Node{
			ID:        xid.NodeID(spec.id),
			Type:      spec.typ,
			Weight:    spec.weight,
			Features:  nodeFeatures(spec.price, spec.label),
			Neighbors: make(map[int32]*graph.NeighborGroup),
		}
		for et, dsts := range spec.nb {
			ids := make([]xid.NodeID, len(dsts))
			weights := make([]float32, len(dsts))
			for i, d := range dsts {
				ids[i] = xid.NodeID(d)
				weights[i] = float32(d)
			}
			n.Neighbors[et] = graph.NewNeighborGroup(et, ids, weights)
			for i, d := range dsts {
				edges = append(edges, &graph.Edge{
					ID:       xid.EdgeID{Src: n.ID, Dst: ids[i], Type: et},
					Weight:   float32(d),
					Features: edgeFeatures(spec.id, d),
				})
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, edges
}

// Build assembles the whole graph into one store.
func Build() *graph.Store {
	nodes, edges := Records()
	return graph.NewStoreFromRecords(Meta(1), nodes, edges, graph.SamplerAll)
}

// BuildShard assembles the subset of the graph one shard owns: nodes by
// partition ownership, edges by their src node's ownership (neighbor
// lists still reference foreign ids, which is the expected cross-shard
// shape).
func BuildShard(numPartitions, shardNumber, shardIndex int) *graph.Store {
	nodes, edges := Records()
	var ownNodes []*graph.Node
	for _, n := range nodes {
		if xid.OwnsNode(n.ID, numPartitions, shardNumber, shardIndex) {
			ownNodes = append(ownNodes, n)
		}
	}
	var ownEdges []*graph.Edge
	for _, e := range edges {
		if xid.OwnsNode(e.ID.Src, numPartitions, shardNumber, shardIndex) {
			ownEdges = append(ownEdges, e)
		}
	}
	return graph.NewStoreFromRecords(Meta(numPartitions), ownNodes, ownEdges, graph.SamplerAll)
}

// Indexes builds the price field index every dnf-filter test relies on.
func Indexes(store *graph.Store) *graph.IndexManager {
	m := graph.NewIndexManager(64)
	idx, err := graph.BuildNodeFieldIndex(store, FeaturePrice)
	if err != nil {
		panic(err)
	}
	m.Register(idx)
	return m
}
