package kernel

import (
	"math"
	"sort"
	"strings"

	"github.com/dreamware/euler/internal/graph"
	"github.com/dreamware/euler/internal/rng"
	"github.com/dreamware/euler/internal/sampler"
	"github.com/dreamware/euler/internal/tensor"
	"github.com/dreamware/euler/internal/xid"
)

// kernelGetNbNode implements API_GET_NB_NODE(node_ids, edge_types, dnf?,
// post_process?) → (idx[N,2], ids[M], weights[M], types[M]). A neighbor
// index (registered with prefix key "root::value") is applied per root; a
// plain index is applied as a uniform filter across every root's rows
// (spec §4.5).
func kernelGetNbNode(env Env, ctx *tensor.Context, spec Spec) error {
	roots := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))
	edgeTypes := asInt32s(mustGetOrNil(ctx, spec.Input(1)))

	var uniform *graph.IndexResult
	var neighborField string
	if len(spec.DNF) > 0 {
		field, isNeighbor, clauses, err := classifyDNF(env, spec.DNF)
		if err != nil {
			return err
		}
		if isNeighbor {
			neighborField = field
		} else {
			uniform, err = env.Indexes.Eval(clauses)
			if err != nil {
				return err
			}
		}
	}

	var idx []int64
	var ids []uint64
	var weights []float32
	var types []int32
	var cursor int64

	for _, root := range roots {
		rows := env.Store.GetFullNeighbor(root, edgeTypes)
		if neighborField != "" {
			fidx, ok := env.Indexes.Index(neighborField)
			if ok {
				nb := fidx.LookupNeighbor(int64(root), "")
				rows = filterRowsByIDSet(rows, nb)
			}
		} else if uniform != nil {
			rows = filterRowsByIDSet(rows, uniform)
		}
		rows = applyRowPostProcess(rows, spec.PostProcess)

		idx = append(idx, cursor, cursor+int64(len(rows)))
		cursor += int64(len(rows))
		for _, row := range rows {
			ids = append(ids, uint64(row.ID))
			weights = append(weights, row.Weight)
			types = append(types, row.Type)
		}
	}

	idxOut := tensor.FromInt64(outputName(spec, 0), idx)
	idxOut.Shape = []int64{int64(len(roots)), 2}
	ctx.Put(outputName(spec, 0), idxOut)
	ctx.Put(outputName(spec, 1), tensor.FromUint64(outputName(spec, 1), ids))
	ctx.Put(outputName(spec, 2), tensor.FromFloat32(outputName(spec, 2), weights))
	ctx.Put(outputName(spec, 3), tensor.FromInt32(outputName(spec, 3), types))
	return nil
}

// kernelGetNbEdge implements API_GET_NB_EDGE, identical in shape to
// API_GET_NB_NODE except the "ids" output carries the hash(EdgeID) UID of
// each (root, neighbor, type) edge rather than the neighbor's node id,
// matching §4.4's UID convention for edges.
func kernelGetNbEdge(env Env, ctx *tensor.Context, spec Spec) error {
	roots := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))
	edgeTypes := asInt32s(mustGetOrNil(ctx, spec.Input(1)))

	var idx []int64
	var ids []uint64
	var weights []float32
	var types []int32
	var cursor int64

	for _, root := range roots {
		rows := env.Store.GetFullNeighbor(root, edgeTypes)
		rows = applyRowPostProcess(rows, spec.PostProcess)
		idx = append(idx, cursor, cursor+int64(len(rows)))
		cursor += int64(len(rows))
		for _, row := range rows {
			uid := xid.EdgeID{Src: root, Dst: row.ID, Type: row.Type}.Hash()
			ids = append(ids, uint64(uid))
			weights = append(weights, row.Weight)
			types = append(types, row.Type)
		}
	}

	idxOut := tensor.FromInt64(outputName(spec, 0), idx)
	idxOut.Shape = []int64{int64(len(roots)), 2}
	ctx.Put(outputName(spec, 0), idxOut)
	ctx.Put(outputName(spec, 1), tensor.FromUint64(outputName(spec, 1), ids))
	ctx.Put(outputName(spec, 2), tensor.FromFloat32(outputName(spec, 2), weights))
	ctx.Put(outputName(spec, 3), tensor.FromInt32(outputName(spec, 3), types))
	return nil
}

func classifyDNF(env Env, raw []string) (field string, isNeighbor bool, clauses []graph.Clause, err error) {
	clauses, err = graph.ParseDNF(raw)
	if err != nil {
		return "", false, nil, err
	}
	for _, c := range clauses {
		for _, t := range c {
			if fidx, ok := env.Indexes.Index(t.Field); ok && fidx.IsNeighborIndex() {
				return t.Field, true, clauses, nil
			}
		}
	}
	return "", false, clauses, nil
}

func filterRowsByIDSet(rows []graph.NeighborRow, set *graph.IndexResult) []graph.NeighborRow {
	if set == nil {
		return rows
	}
	allowed := make(map[int64]bool, set.Size())
	for _, id := range set.GetIds() {
		allowed[id] = true
	}
	var out []graph.NeighborRow
	for _, r := range rows {
		if allowed[int64(r.ID)] {
			out = append(out, r)
		}
	}
	return out
}

// applyRowPostProcess applies "order_by id|weight asc|desc" and "limit k"
// to a single root's neighbor rows (spec §4.5).
func applyRowPostProcess(rows []graph.NeighborRow, directives []string) []graph.NeighborRow {
	for _, d := range directives {
		fields := strings.Fields(d)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "order_by":
			if len(fields) < 3 {
				continue
			}
			desc := fields[2] == "desc"
			key := fields[1]
			sort.SliceStable(rows, func(i, j int) bool {
				var less bool
				if key == "weight" {
					less = rows[i].Weight < rows[j].Weight
				} else {
					less = rows[i].ID < rows[j].ID
				}
				if desc {
					return !less
				}
				return less
			})
		case "limit":
			if len(fields) < 2 {
				continue
			}
			k := parseUint(fields[1])
			if k >= 0 && k < len(rows) {
				rows = rows[:k]
			}
		}
	}
	return rows
}

func parseUint(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// kernelSampleNb implements API_SAMPLE_NB(node_ids, edge_types, count,
// default_node, dnf?). Rows with no neighbors are filled with count copies
// of default_node at weight 0, type 0 (spec §4.5).
func kernelSampleNb(env Env, ctx *tensor.Context, spec Spec) error {
	roots := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))
	edgeTypes := asInt32s(mustGetOrNil(ctx, spec.Input(1)))
	count := int(firstInt(mustGetOrNil(ctx, spec.Input(2))))
	defaultNode := xid.NodeID(firstInt(mustGetOrNil(ctx, spec.Input(3))))

	var allIDs []uint64
	var allW []float32
	var allT []int32

	var dnfIDs *graph.IndexResult
	if len(spec.DNF) > 0 {
		clauses, err := graph.ParseDNF(spec.DNF)
		if err != nil {
			return err
		}
		dnfIDs, err = env.Indexes.Eval(clauses)
		if err != nil {
			return err
		}
	}

	for _, root := range roots {
		var rows []graph.NeighborRow
		var err error
		if dnfIDs == nil {
			rows, err = env.Store.SampleNeighbor(root, edgeTypes, count)
		} else {
			full := env.Store.GetFullNeighbor(root, edgeTypes)
			full = filterRowsByIDSet(full, dnfIDs)
			rows, err = sampleRowsWeighted(full, count)
		}
		if err != nil || len(rows) == 0 {
			for i := 0; i < count; i++ {
				allIDs = append(allIDs, uint64(defaultNode))
				allW = append(allW, 0)
				allT = append(allT, 0)
			}
			continue
		}
		for len(rows) < count {
			rows = append(rows, graph.NeighborRow{ID: defaultNode, Weight: 0, Type: 0})
		}
		for _, r := range rows[:count] {
			allIDs = append(allIDs, uint64(r.ID))
			allW = append(allW, r.Weight)
			allT = append(allT, r.Type)
		}
	}

	idsOut := tensor.FromUint64(outputName(spec, 0), allIDs)
	idsOut.Shape = []int64{int64(len(roots)), int64(count)}
	ctx.Put(outputName(spec, 0), idsOut)
	ctx.Put(outputName(spec, 1), tensor.FromFloat32(outputName(spec, 1), allW))
	ctx.Put(outputName(spec, 2), tensor.FromInt32(outputName(spec, 2), allT))
	return nil
}

func sampleRowsWeighted(rows []graph.NeighborRow, count int) ([]graph.NeighborRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(rows))
	weights := make([]float32, len(rows))
	for i, r := range rows {
		ids[i] = int64(r.ID)
		weights[i] = r.Weight
	}
	coll := sampler.NewCompact(ids, weights)
	r := rng.Borrow()
	defer rng.Release(r)
	out := make([]graph.NeighborRow, 0, count)
	for i := 0; i < count; i++ {
		id, w, err := coll.Sample(r)
		if err != nil {
			break
		}
		typ := int32(0)
		for _, row := range rows {
			if int64(row.ID) == id {
				typ = row.Type
				break
			}
		}
		out = append(out, graph.NeighborRow{ID: xid.NodeID(id), Weight: w, Type: typ})
	}
	return out, nil
}

// kernelSampleL implements API_SAMPLE_L(layer_roots, edge_types,
// default_node): per-root sample exactly one neighbor, default on empty.
func kernelSampleL(env Env, ctx *tensor.Context, spec Spec) error {
	roots := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))
	edgeTypes := asInt32s(mustGetOrNil(ctx, spec.Input(1)))
	defaultNode := xid.NodeID(firstInt(mustGetOrNil(ctx, spec.Input(2))))

	ids := make([]uint64, len(roots))
	weights := make([]float32, len(roots))
	types := make([]int32, len(roots))
	for i, root := range roots {
		rows, err := env.Store.SampleNeighbor(root, edgeTypes, 1)
		if err != nil || len(rows) == 0 {
			ids[i] = uint64(defaultNode)
			continue
		}
		ids[i] = uint64(rows[0].ID)
		weights[i] = rows[0].Weight
		types[i] = rows[0].Type
	}
	ctx.Put(outputName(spec, 0), tensor.FromUint64(outputName(spec, 0), ids))
	ctx.Put(outputName(spec, 1), tensor.FromFloat32(outputName(spec, 1), weights))
	ctx.Put(outputName(spec, 2), tensor.FromInt32(outputName(spec, 2), types))
	return nil
}

// kernelLocalSampleL implements API_LOCAL_SAMPLE_L(batch_nb_idx,
// batch_nb_id, batch_nb_w, batch_nb_t, n, m, weight_func, default_node):
// aggregate duplicate (id,type) pairs inside each batch by summing
// weights, optionally apply a sqrt transform, then sample with
// replacement m times; empty batches are filled with default_node (spec
// §4.5).
func kernelLocalSampleL(env Env, ctx *tensor.Context, spec Spec) error {
	idxT := mustGetOrNil(ctx, spec.Input(0))
	idT := mustGetOrNil(ctx, spec.Input(1))
	wT := mustGetOrNil(ctx, spec.Input(2))
	tT := mustGetOrNil(ctx, spec.Input(3))
	m := int(firstInt(mustGetOrNil(ctx, spec.Input(5))))
	defaultNode := xid.NodeID(firstInt(mustGetOrNil(ctx, spec.Input(7))))

	useSqrt := false
	for _, p := range spec.UDFStrParams {
		if p == "sqrt" {
			useSqrt = true
		}
	}

	idxPairs := idxT.I64
	batchIDs := idT.U64
	batchW := wT.F32
	batchT := tT.I32

	var outIDs []uint64
	var outW []float32
	var outT []int32

	for i := 0; i+1 < len(idxPairs); i += 2 {
		begin, end := idxPairs[i], idxPairs[i+1]
		type key struct {
			id  uint64
			typ int32
		}
		agg := map[key]float64{}
		var order []key
		for j := begin; j < end; j++ {
			k := key{id: batchIDs[j], typ: batchT[j]}
			if _, ok := agg[k]; !ok {
				order = append(order, k)
			}
			agg[k] += float64(batchW[j])
		}
		if len(order) == 0 {
			for k := 0; k < m; k++ {
				outIDs = append(outIDs, uint64(defaultNode))
				outW = append(outW, 0)
				outT = append(outT, 0)
			}
			continue
		}
		ids := make([]int64, len(order))
		weights := make([]float32, len(order))
		for idx, k := range order {
			ids[idx] = int64(k.id)
			w := agg[k]
			if useSqrt {
				w = math.Sqrt(w)
			}
			weights[idx] = float32(w)
		}
		coll := sampler.NewCompact(ids, weights)
		r := rng.Borrow()
		for k := 0; k < m; k++ {
			id, w, err := coll.Sample(r)
			if err != nil {
				outIDs = append(outIDs, uint64(defaultNode))
				outW = append(outW, 0)
				outT = append(outT, 0)
				continue
			}
			typ := int32(0)
			for _, kk := range order {
				if int64(kk.id) == id {
					typ = kk.typ
					break
				}
			}
			outIDs = append(outIDs, uint64(id))
			outW = append(outW, w)
			outT = append(outT, typ)
		}
		rng.Release(r)
	}

	ctx.Put(outputName(spec, 0), tensor.FromUint64(outputName(spec, 0), outIDs))
	ctx.Put(outputName(spec, 1), tensor.FromFloat32(outputName(spec, 1), outW))
	ctx.Put(outputName(spec, 2), tensor.FromInt32(outputName(spec, 2), outT))
	return nil
}

// kernelSparseGenAdj implements API_SPARSE_GEN_ADJ: emits (root, batch)
// pairs, assigning each distinct root id a sequential batch index in
// order of first appearance.
func kernelSparseGenAdj(env Env, ctx *tensor.Context, spec Spec) error {
	roots := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))
	seen := map[xid.NodeID]int64{}
	rootOut := make([]uint64, len(roots))
	batchOut := make([]int64, len(roots))
	for i, root := range roots {
		b, ok := seen[root]
		if !ok {
			b = int64(len(seen))
			seen[root] = b
		}
		rootOut[i] = uint64(root)
		batchOut[i] = b
	}
	ctx.Put(outputName(spec, 0), tensor.FromUint64(outputName(spec, 0), rootOut))
	ctx.Put(outputName(spec, 1), tensor.FromInt64(outputName(spec, 1), batchOut))
	return nil
}

// kernelSparseGetAdj implements API_SPARSE_GET_ADJ: scans each root's
// outgoing neighbors, keeps those whose dst lies in the provided
// layer-node set l_nb, and emits (idx[N,2], adj_ids[]).
func kernelSparseGetAdj(env Env, ctx *tensor.Context, spec Spec) error {
	roots := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))
	edgeTypes := asInt32s(mustGetOrNil(ctx, spec.Input(1)))
	layer := asNodeIDs(mustGetOrNil(ctx, spec.Input(2)))

	layerSet := make(map[xid.NodeID]bool, len(layer))
	for _, id := range layer {
		layerSet[id] = true
	}

	var idx []int64
	var adjIDs []uint64
	var cursor int64
	for _, root := range roots {
		rows := env.Store.GetFullNeighbor(root, edgeTypes)
		var kept []uint64
		for _, row := range rows {
			if layerSet[row.ID] {
				kept = append(kept, uint64(row.ID))
			}
		}
		idx = append(idx, cursor, cursor+int64(len(kept)))
		cursor += int64(len(kept))
		adjIDs = append(adjIDs, kept...)
	}

	idxOut := tensor.FromInt64(outputName(spec, 0), idx)
	idxOut.Shape = []int64{int64(len(roots)), 2}
	ctx.Put(outputName(spec, 0), idxOut)
	ctx.Put(outputName(spec, 1), tensor.FromUint64(outputName(spec, 1), adjIDs))
	return nil
}

// kernelGetEdgeSumWeight implements API_GET_EDGE_SUM_WEIGHT(roots,
// edge_types) → (roots[,1], sum_weight[,1]).
func kernelGetEdgeSumWeight(env Env, ctx *tensor.Context, spec Spec) error {
	roots := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))
	edgeTypes := asInt32s(mustGetOrNil(ctx, spec.Input(1)))

	sums := make([]float32, len(roots))
	for i, root := range roots {
		var sum float64
		for _, et := range edgeTypes {
			if n, ok := env.Store.GetNodeByID(root); ok {
				if g, ok := n.Neighbors[et]; ok {
					sum += g.TotalWeight()
				}
			}
		}
		sums[i] = float32(sum)
	}
	rootsOut := tensor.FromUint64(outputName(spec, 0), nodeIDsToUint64(roots))
	rootsOut.Shape = []int64{int64(len(roots)), 1}
	ctx.Put(outputName(spec, 0), rootsOut)
	sumsOut := tensor.FromFloat32(outputName(spec, 1), sums)
	sumsOut.Shape = []int64{int64(len(roots)), 1}
	ctx.Put(outputName(spec, 1), sumsOut)
	return nil
}
