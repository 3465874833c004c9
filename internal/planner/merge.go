package planner

import (
	"golang.org/x/exp/slices"

	"github.com/dreamware/euler/internal/eulererr"
	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/tensor"
)

// outputNames lists the "<name>:<k>" outputs a remote stub must ship
// back. Arity is static per op except API_GET_P, whose output count
// follows the requested feature list.
func (p *Planner) outputNames(n kernel.Spec, tctx *tensor.Context) []string {
	count := 1
	switch n.Op {
	case "API_SAMPLE_NODE", "API_SAMPLE_EDGE", "API_SAMPLE_N_WITH_TYPES",
		"API_GET_EDGE_SUM_WEIGHT", "API_SPARSE_GET_ADJ", "API_GET_GRAPH_BY_LABEL":
		count = 2
	case "API_SAMPLE_NB", "API_SAMPLE_L":
		count = 3
	case "API_GET_NB_NODE", "API_GET_NB_EDGE":
		count = 4
	case "API_GET_P":
		count = 2 * p.featureCount(n, tctx)
	}
	out := make([]string, count)
	for k := range out {
		out[k] = n.Name + ":" + itoa(k)
	}
	return out
}

func (p *Planner) featureCount(n kernel.Spec, tctx *tensor.Context) int {
	if len(n.Inputs) < 2 {
		return 0
	}
	t, ok := tctx.Get(n.Inputs[1])
	if !ok {
		return 0
	}
	return len(t.Str)
}

// stashShardOutputs binds one remote node's per-shard responses (plus
// the synthesized merge-index tensor) into tctx under colon-free names the
// merge kernel specs reference. The append-idx tensors are bound by
// appendMerge.
func stashShardOutputs(n kernel.Spec, shard int, out map[string]*tensor.Tensor, mergeIdx []int64, tctx *tensor.Context) {
	for k := 0; ; k++ {
		t, ok := out[n.Name+":"+itoa(k)]
		if !ok {
			break
		}
		tctx.Put(shardOutName(n.Name, shard, k), t)
	}
	midx := shardMidxName(n.Name, shard)
	tctx.Put(midx, tensor.FromInt64(midx, mergeIdx))
}

func shardOutName(node string, shard, k int) string {
	return node + "@" + itoa(shard) + "/" + itoa(k)
}

func shardMidxName(node string, shard int) string {
	return node + "@" + itoa(shard) + "/midx"
}

// mergeNode reassembles one remote operator's shard outputs into the
// original tensor namespace by running the declared *_MERGE kernel(s)
// locally and aliasing their outputs under "<name>:<k>" (spec §4.7
// point 3: downstream consumers read from the merge node's outputs).
//
// Shard inputs are ordered by ascending shard index, and
// DATA_ROW_APPEND_MERGE merges in exactly that order — the input order
// of the merge node is the contract (§9 Open Question decision).
func (p *Planner) mergeNode(n kernel.Spec, split *splitResult, perShard map[int]map[string]*tensor.Tensor, tctx *tensor.Context) error {
	var shards []int
	for shard := range split.perShard {
		if _, ok := perShard[shard]; ok {
			shards = append(shards, shard)
		}
	}
	slices.Sort(shards)
	for _, shard := range shards {
		stashShardOutputs(n, shard, perShard[shard], split.mergeIdx[shard], tctx)
	}

	totalName := n.Name + "/total"
	tctx.Put(totalName, tensor.FromInt64(totalName, []int64{int64(split.totalRows)}))

	switch n.Op {
	case "API_SAMPLE_NODE":
		return p.appendMerge(n, shards, []int{0, 1}, tctx, nil)
	case "API_SAMPLE_EDGE":
		return p.appendMerge(n, shards, []int{0, 1}, tctx, map[int]int64{0: 3})
	case "API_GET_NODE", "API_GET_EDGE", "API_SAMPLE_GRAPH_LABEL":
		widths := map[int]int64(nil)
		if n.Op == "API_GET_EDGE" {
			widths = map[int]int64{0: 3}
		}
		return p.appendMerge(n, shards, []int{0}, tctx, widths)
	case "API_GET_NODE_T":
		return p.regularMerge(n, shards, []int{0}, 1, tctx)
	case "API_GET_EDGE_SUM_WEIGHT":
		return p.regularMerge(n, shards, []int{0, 1}, 1, tctx)
	case "API_SAMPLE_L":
		return p.regularMerge(n, shards, []int{0, 1, 2}, 1, tctx)
	case "API_SAMPLE_NB":
		count := int(firstIntOf(mustResolve(tctx, n.Inputs, 2)))
		if count <= 0 {
			count = 1
		}
		return p.regularMerge(n, shards, []int{0, 1, 2}, count, tctx)
	case "API_GET_NB_NODE", "API_GET_NB_EDGE":
		return p.idxDataMerge(n, shards, 0, []int{1, 2, 3}, tctx)
	case "API_SPARSE_GET_ADJ", "API_GET_GRAPH_BY_LABEL", "API_SAMPLE_N_WITH_TYPES":
		return p.idxDataMerge(n, shards, 0, []int{1}, tctx)
	case "API_GET_P":
		for j := 0; j < p.featureCount(n, tctx); j++ {
			if err := p.idxDataMerge(n, shards, 2*j, []int{2*j + 1}, tctx); err != nil {
				return err
			}
		}
		return nil
	}
	return eulererr.New(eulererr.InvalidArgument, "planner: no merge plan for op %q", n.Op)
}

func mustResolve(tctx *tensor.Context, inputs []string, i int) *tensor.Tensor {
	if i >= len(inputs) || inputs[i] == "" {
		return nil
	}
	t, _ := tctx.Get(inputs[i])
	return t
}

// appendMerge concatenates each listed output across shards in shard
// order via DATA_ROW_APPEND_MERGE. widths, when set, reshapes output k
// to [rows, width] after the merge (e.g. edge triples).
func (p *Planner) appendMerge(n kernel.Spec, shards []int, outs []int, tctx *tensor.Context, widths map[int]int64) error {
	for _, k := range outs {
		spec := kernel.Spec{
			Name:   n.Name + "/merge" + itoa(k),
			Op:     "DATA_ROW_APPEND_MERGE",
			Inputs: []string{n.Name + "/total"},
		}
		for _, shard := range shards {
			dataName := shardOutName(n.Name, shard, k)
			idxName := dataName + "/appendidx"
			rows := int64(0)
			if t, ok := tctx.Get(dataName); ok {
				rows = int64(t.Len())
			}
			tctx.Put(idxName, tensor.FromInt64(idxName, []int64{0, rows}))
			spec.Inputs = append(spec.Inputs, dataName, idxName, "")
		}
		if err := p.Kernels.Run(p.localEnv, tctx, spec); err != nil {
			return err
		}
		merged, ok := tctx.Get(spec.Name + ":1")
		if !ok {
			// Every shard was skipped (all rows foreign, or zero-count
			// split); an empty output row set is the contract, not a fault.
			merged = tensor.FromUint64(spec.Name+":1", nil)
			tctx.Put(spec.Name+":1", merged)
		}
		if w, has := widths[k]; has && w > 0 {
			merged.Shape = []int64{int64(merged.Len()) / w, w}
		}
		tctx.Alias(n.Name+":"+itoa(k), spec.Name+":1")
	}
	return nil
}

// regularMerge scatters fixed-width [rows,width] shard outputs into
// their merge-index slots via REGULAR_DATA_MERGE; rows never dispatched
// (the foreign bitmask) keep the dtype sentinel (spec §4.7).
func (p *Planner) regularMerge(n kernel.Spec, shards []int, outs []int, width int, tctx *tensor.Context) error {
	widthName := n.Name + "/width"
	tctx.Put(widthName, tensor.FromInt64(widthName, []int64{int64(width)}))
	for _, k := range outs {
		spec := kernel.Spec{
			Name:   n.Name + "/merge" + itoa(k),
			Op:     "REGULAR_DATA_MERGE",
			Inputs: []string{n.Name + "/total", widthName},
		}
		for _, shard := range shards {
			spec.Inputs = append(spec.Inputs, shardOutName(n.Name, shard, k), shardMidxName(n.Name, shard))
		}
		if err := p.Kernels.Run(p.localEnv, tctx, spec); err != nil {
			return err
		}
		tctx.Alias(n.Name+":"+itoa(k), spec.Name+":0")
	}
	return nil
}

// idxDataMerge remaps (idx, data) shard outputs into one global pair via
// DATA_MERGE: idxOut is the shared per-row offsets tensor, each data out
// merges against it, and the first merge's global idx serves them all.
func (p *Planner) idxDataMerge(n kernel.Spec, shards []int, idxOut int, dataOuts []int, tctx *tensor.Context) error {
	first := true
	for _, k := range dataOuts {
		spec := kernel.Spec{
			Name:   n.Name + "/merge" + itoa(k),
			Op:     "DATA_MERGE",
			Inputs: []string{n.Name + "/total"},
		}
		for _, shard := range shards {
			spec.Inputs = append(spec.Inputs,
				shardOutName(n.Name, shard, k),
				shardOutName(n.Name, shard, idxOut),
				shardMidxName(n.Name, shard))
		}
		if err := p.Kernels.Run(p.localEnv, tctx, spec); err != nil {
			return err
		}
		if first {
			tctx.Alias(n.Name+":"+itoa(idxOut), spec.Name+":0")
			first = false
		}
		tctx.Alias(n.Name+":"+itoa(k), spec.Name+":1")
	}
	return nil
}
