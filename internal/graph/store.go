package graph

import (
	"container/heap"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/dreamware/euler/internal/rng"
	"github.com/dreamware/euler/internal/sampler"
	"github.com/dreamware/euler/internal/xid"
)

// LoadDataType selects which entity tables a shard populates at start-up,
// mirroring the `load_data_type` server option (spec §6).
type LoadDataType int

const (
	LoadNone LoadDataType = iota
	LoadNode
	LoadEdge
	LoadAll
)

// GlobalSamplerType selects which global samplers the builder constructs
// after load, mirroring the `global_sampler_type` server option (spec §6).
type GlobalSamplerType int

const (
	SamplerNone GlobalSamplerType = iota
	SamplerNode
	SamplerEdge
	SamplerAll
)

// Store is Euler's compact in-memory graph: node_map, edge_map, the
// edge_id_map reverse index, and the per-type/global weighted samplers
// (spec §3, §4.2). A Store is built once by Builder and never mutated
// after being handed to query serving — every read method below is safe
// for concurrent use without locking.
type Store struct {
	Meta *Metadata

	nodes map[xid.NodeID]*Node
	edges map[xid.EdgeID]*Edge
	uids  map[xid.UID]xid.EdgeID

	nodesByType map[int32][]*Node
	edgesByType map[int32][]*Edge

	nodeSamplerByType map[int32]sampler.Collection
	edgeSamplerByType map[int32]sampler.Collection
	nodeTypeSampler   sampler.Collection // type-over-types, weighted by per-type sum-of-weights
	edgeTypeSampler   sampler.Collection

	// loadedEdgeTypes tracks which edge types this shard actually has data
	// for, distinguishing "no edges of this type anywhere" from "edges not
	// loaded on this shard" (spec §4.17, §6 load_data_type).
	loadedEdgeTypes *bitset.BitSet
	loadedEdges     bool
}

// NewStore constructs an empty store. Store has no insert locks: Builder
// writes its maps directly, serially from Build's goroutine, and nothing
// writes them once the store is handed to query serving.
func NewStore(meta *Metadata) *Store {
	return &Store{
		Meta:              meta,
		nodes:             make(map[xid.NodeID]*Node),
		edges:             make(map[xid.EdgeID]*Edge),
		uids:              make(map[xid.UID]xid.EdgeID),
		nodesByType:       make(map[int32][]*Node),
		edgesByType:       make(map[int32][]*Edge),
		nodeSamplerByType: make(map[int32]sampler.Collection),
		edgeSamplerByType: make(map[int32]sampler.Collection),
		loadedEdgeTypes:   bitset.New(64),
	}
}

// --- lookups -----------------------------------------------------------

// GetNodeByID returns the node, or (nil, false) if absent. A nil node is a
// normal signal, never an error (spec §4.2 failure semantics).
func (s *Store) GetNodeByID(id xid.NodeID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// GetEdgeByID returns the edge, or (nil, false) if absent.
func (s *Store) GetEdgeByID(id xid.EdgeID) (*Edge, bool) {
	e, ok := s.edges[id]
	return e, ok
}

// NodesOfType returns every node of the given type loaded on this shard,
// in builder insertion order. Callers must not mutate the returned slice.
func (s *Store) NodesOfType(typ int32) []*Node { return s.nodesByType[typ] }

// EdgesOfType returns every edge of the given type loaded on this shard.
func (s *Store) EdgesOfType(typ int32) []*Edge { return s.edgesByType[typ] }

// NodeTypes returns the node types this shard has data for.
func (s *Store) NodeTypes() []int32 {
	types := make([]int32, 0, len(s.nodesByType))
	for t := range s.nodesByType {
		types = append(types, t)
	}
	return types
}

// GetEdgeByUID resolves a compact UID back to its EdgeID and edge.
func (s *Store) GetEdgeByUID(u xid.UID) (*Edge, bool) {
	id, ok := s.uids[u]
	if !ok {
		return nil, false
	}
	return s.GetEdgeByID(id)
}

// HasLoadedEdges reports whether this shard's build included edges at all
// (spec §4.2: "call GetEdgeByID only when load_data_type included edges").
func (s *Store) HasLoadedEdges() bool { return s.loadedEdges }

// NodeSumWeights returns this shard's per-type sum of node weights, the
// numbers a shard publishes at registration so clients can apportion
// global samples across shards (spec §4.9, §6).
func (s *Store) NodeSumWeights() map[int32]float64 {
	out := make(map[int32]float64, len(s.nodesByType))
	for typ, nodes := range s.nodesByType {
		var sum float64
		for _, n := range nodes {
			sum += float64(n.Weight)
		}
		out[typ] = sum
	}
	return out
}

// EdgeSumWeights returns this shard's per-type sum of edge weights.
func (s *Store) EdgeSumWeights() map[int32]float64 {
	out := make(map[int32]float64, len(s.edgesByType))
	for typ, edges := range s.edgesByType {
		var sum float64
		for _, e := range edges {
			sum += float64(e.Weight)
		}
		out[typ] = sum
	}
	return out
}

// --- sampling ------------------------------------------------------------

// SampleNode draws count node ids of the given type with probability
// proportional to node weight. typ == -1 samples a type first from the
// type-over-types sampler, then a node from that per-type sampler (spec
// §4.2).
func (s *Store) SampleNode(typ int32, count int) ([]xid.NodeID, []float32, error) {
	if typ == -1 {
		return s.sampleNodeAnyType(count)
	}
	coll, ok := s.nodeSamplerByType[typ]
	if !ok {
		return nil, nil, nil // invalid type yields empty result, not an error
	}
	return drawN(coll, count)
}

// SampleNodeTypes draws count node ids from the union of the given types,
// first intersecting the caller's type set with the type-over-types
// sampler (re-weighted by the per-type sums of just those types), then
// sampling a node from the chosen type (spec §4.2).
func (s *Store) SampleNodeTypes(types []int32, count int) ([]xid.NodeID, []float32, error) {
	ids := make([]int64, 0, len(types))
	weights := make([]float32, 0, len(types))
	for _, t := range types {
		coll, ok := s.nodeSamplerByType[t]
		if !ok {
			continue
		}
		ids = append(ids, int64(t))
		weights = append(weights, float32(coll.GetSumWeight()))
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}
	typeSampler := sampler.NewCompact(ids, weights)
	r := rng.Borrow()
	defer rng.Release(r)

	outIDs := make([]xid.NodeID, 0, count)
	outW := make([]float32, 0, count)
	for i := 0; i < count; i++ {
		t, _, err := typeSampler.Sample(r)
		if err != nil {
			break
		}
		coll := s.nodeSamplerByType[int32(t)]
		id, w, err := coll.Sample(r)
		if err != nil {
			continue
		}
		outIDs = append(outIDs, xid.NodeID(id))
		outW = append(outW, w)
	}
	return outIDs, outW, nil
}

func (s *Store) sampleNodeAnyType(count int) ([]xid.NodeID, []float32, error) {
	if s.nodeTypeSampler == nil {
		return nil, nil, nil
	}
	r := rng.Borrow()
	defer rng.Release(r)
	outIDs := make([]xid.NodeID, 0, count)
	outW := make([]float32, 0, count)
	for i := 0; i < count; i++ {
		t, _, err := s.nodeTypeSampler.Sample(r)
		if err != nil {
			break
		}
		coll, ok := s.nodeSamplerByType[int32(t)]
		if !ok {
			continue
		}
		id, w, err := coll.Sample(r)
		if err != nil {
			continue
		}
		outIDs = append(outIDs, xid.NodeID(id))
		outW = append(outW, w)
	}
	return outIDs, outW, nil
}

// SampleEdge draws count edges of the given type with probability
// proportional to edge weight.
func (s *Store) SampleEdge(typ int32, count int) ([]xid.EdgeID, []float32, error) {
	coll, ok := s.edgeSamplerByType[typ]
	if !ok {
		return nil, nil, nil
	}
	ids, weights, err := drawN(coll, count)
	if err != nil {
		return nil, nil, err
	}
	out := make([]xid.EdgeID, len(ids))
	for i, id := range ids {
		out[i] = s.uids[xid.UID(id)]
	}
	return out, weights, nil
}

// SampleEdgeTypes draws count edges from the union of the given types.
func (s *Store) SampleEdgeTypes(types []int32, count int) ([]xid.EdgeID, []float32, error) {
	ids := make([]int64, 0, len(types))
	weights := make([]float32, 0, len(types))
	for _, t := range types {
		coll, ok := s.edgeSamplerByType[t]
		if !ok {
			continue
		}
		ids = append(ids, int64(t))
		weights = append(weights, float32(coll.GetSumWeight()))
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}
	typeSampler := sampler.NewCompact(ids, weights)
	r := rng.Borrow()
	defer rng.Release(r)

	outIDs := make([]xid.EdgeID, 0, count)
	outW := make([]float32, 0, count)
	for i := 0; i < count; i++ {
		t, _, err := typeSampler.Sample(r)
		if err != nil {
			break
		}
		coll := s.edgeSamplerByType[int32(t)]
		uid, w, err := coll.Sample(r)
		if err != nil {
			continue
		}
		outIDs = append(outIDs, s.uids[xid.UID(uid)])
		outW = append(outW, w)
	}
	return outIDs, outW, nil
}

func drawN(coll sampler.Collection, count int) ([]xid.NodeID, []float32, error) {
	r := rng.Borrow()
	defer rng.Release(r)
	ids := make([]xid.NodeID, 0, count)
	weights := make([]float32, 0, count)
	for i := 0; i < count; i++ {
		id, w, err := coll.Sample(r)
		if err != nil {
			return ids, weights, err
		}
		ids = append(ids, xid.NodeID(id))
		weights = append(weights, w)
	}
	return ids, weights, nil
}

// --- neighbor queries ------------------------------------------------

// NeighborRow is one (neighbor id, weight, edge type) triple, the unit both
// GetFullNeighbor and GetTopKNeighbor operate over.
type NeighborRow struct {
	ID     xid.NodeID
	Weight float32
	Type   int32
}

// GetFullNeighbor returns every outgoing neighbor of n across the given
// edge types, as a permutation of the union of each type's group (spec §8
// invariant). A missing node yields an empty, non-error result.
func (s *Store) GetFullNeighbor(n xid.NodeID, edgeTypes []int32) []NeighborRow {
	node, ok := s.nodes[n]
	if !ok {
		return nil
	}
	var out []NeighborRow
	for _, et := range edgeTypes {
		g, ok := node.Neighbors[et]
		if !ok {
			continue
		}
		for i, id := range g.NeighborIDs {
			out = append(out, NeighborRow{ID: id, Weight: g.WeightOf(i), Type: et})
		}
	}
	return out
}

// GetSortedFullNeighbor returns GetFullNeighbor's rows sorted ascending by
// neighbor id, implemented as a k-way merge over each edge type's
// already-sorted run via a min-heap, rather than re-sorting the
// concatenation (spec §4.2, §8: equals sort_by_id(GetFullNeighbor)).
func (s *Store) GetSortedFullNeighbor(n xid.NodeID, edgeTypes []int32) []NeighborRow {
	node, ok := s.nodes[n]
	if !ok {
		return nil
	}
	h := &mergeHeap{}
	for _, et := range edgeTypes {
		g, ok := node.Neighbors[et]
		if !ok || len(g.NeighborIDs) == 0 {
			continue
		}
		heap.Push(h, &mergeCursor{group: g, pos: 0})
	}
	var out []NeighborRow
	for h.Len() > 0 {
		cur := heap.Pop(h).(*mergeCursor)
		out = append(out, NeighborRow{
			ID:     cur.group.NeighborIDs[cur.pos],
			Weight: cur.group.WeightOf(cur.pos),
			Type:   cur.group.EdgeType,
		})
		if cur.pos+1 < len(cur.group.NeighborIDs) {
			cur.pos++
			heap.Push(h, cur)
		}
	}
	return out
}

type mergeCursor struct {
	group *NeighborGroup
	pos   int
}

type mergeHeap []*mergeCursor

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return h[i].group.NeighborIDs[h[i].pos] < h[j].group.NeighborIDs[h[j].pos]
}
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeCursor)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// GetTopKNeighbor returns the k largest-weight entries of GetFullNeighbor,
// stable tie-broken by ascending id (spec §8 invariant). It sorts every
// neighbor and then truncates to k, so the cost is O(n log n); no bounded
// heap of candidates is kept.
func (s *Store) GetTopKNeighbor(n xid.NodeID, edgeTypes []int32, k int) []NeighborRow {
	all := s.GetFullNeighbor(n, edgeTypes)
	sort.Slice(all, func(i, j int) bool {
		if all[i].Weight != all[j].Weight {
			return all[i].Weight > all[j].Weight
		}
		return all[i].ID < all[j].ID
	})
	if k < len(all) {
		all = all[:k]
	}
	return all
}

// SampleNeighbor draws count neighbors of n weighted across the given edge
// types. With no eligible neighbors, returns an empty result (caller fills
// defaults) rather than an error (spec §4.5 API_SAMPLE_NB contract).
func (s *Store) SampleNeighbor(n xid.NodeID, edgeTypes []int32, count int) ([]NeighborRow, error) {
	full := s.GetFullNeighbor(n, edgeTypes)
	if len(full) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(full))
	weights := make([]float32, len(full))
	for i, row := range full {
		ids[i] = int64(row.ID)
		weights[i] = row.Weight
	}
	coll := sampler.NewCompact(ids, weights)
	r := rng.Borrow()
	defer rng.Release(r)

	out := make([]NeighborRow, 0, count)
	for i := 0; i < count; i++ {
		id, w, err := coll.Sample(r)
		if err != nil {
			return out, nil
		}
		// Recover the type of the sampled neighbor id by scanning full —
		// full is small per request (bounded by a node's degree) so this
		// is cheaper than carrying a parallel type slice through Compact.
		typ := int32(0)
		for _, row := range full {
			if int64(row.ID) == id {
				typ = row.Type
				break
			}
		}
		out = append(out, NeighborRow{ID: xid.NodeID(id), Weight: w, Type: typ})
	}
	return out, nil
}
