package kernel

import (
	"github.com/dreamware/euler/internal/graph"
	"github.com/dreamware/euler/internal/rng"
	"github.com/dreamware/euler/internal/sampler"
	"github.com/dreamware/euler/internal/tensor"
	"github.com/dreamware/euler/internal/xid"
)

// dnfRejectSampleThreshold is the index-size cutoff below which SAMPLE_NODE
// /SAMPLE_EDGE build an exact reduced weighted collection over the
// filtered candidates ("traverse and reweight"), and above which they fall
// back to rejection sampling against the full per-type collection (spec
// §4.5).
const dnfRejectSampleThreshold = 32000
const maxRejectRounds = 50

func kernelSampleNode(env Env, ctx *tensor.Context, spec Spec) error {
	typ := int32(firstInt(mustGetOrNil(ctx, spec.Input(0))))
	if spec.Input(0) == "" {
		typ = -1
	}
	count := int(firstInt(mustGetOrNil(ctx, spec.Input(1))))

	var ids []xid.NodeID
	var weights []float32
	var err error
	if len(spec.DNF) == 0 {
		ids, weights, err = env.Store.SampleNode(typ, count)
	} else {
		ids, weights, err = sampleNodeWithDNF(env, typ, count, spec.DNF)
	}
	if err != nil {
		ids, weights = nil, nil
	}
	ctx.Put(outputName(spec, 0), tensor.FromUint64(outputName(spec, 0), nodeIDsToUint64(ids)))
	ctx.Put(outputName(spec, 1), tensor.FromFloat32(outputName(spec, 1), weights))
	return nil
}

func sampleNodeWithDNF(env Env, typ int32, count int, dnfRaw []string) ([]xid.NodeID, []float32, error) {
	clauses, err := graph.ParseDNF(dnfRaw)
	if err != nil {
		return nil, nil, err
	}
	idx, err := env.Indexes.Eval(clauses)
	if err != nil {
		return nil, nil, err
	}

	var candidates []*graph.Node
	if typ == -1 {
		for _, t := range env.Store.NodeTypes() {
			candidates = append(candidates, env.Store.NodesOfType(t)...)
		}
	} else {
		candidates = env.Store.NodesOfType(typ)
	}

	if idx.Size() < dnfRejectSampleThreshold {
		ids, weights := reducedCollectionFromIDs(candidates, idx)
		coll := sampler.NewCompact(ids, weights)
		return drawNodeIDs(coll, count)
	}

	allowed := make(map[int64]bool, idx.Size())
	for _, id := range idx.GetIds() {
		allowed[id] = true
	}
	r := rng.Borrow()
	defer rng.Release(r)
	var outIDs []xid.NodeID
	var outW []float32
	for i := 0; i < count; i++ {
		for round := 0; round < maxRejectRounds; round++ {
			nids, nws, err := env.Store.SampleNode(typ, 1)
			if err != nil || len(nids) == 0 {
				break
			}
			if allowed[int64(nids[0])] {
				outIDs = append(outIDs, nids[0])
				outW = append(outW, nws[0])
				break
			}
		}
	}
	return outIDs, outW, nil
}

func drawNodeIDs(coll sampler.Collection, count int) ([]xid.NodeID, []float32, error) {
	r := rng.Borrow()
	defer rng.Release(r)
	ids := make([]xid.NodeID, 0, count)
	weights := make([]float32, 0, count)
	for i := 0; i < count; i++ {
		id, w, err := coll.Sample(r)
		if err != nil {
			return ids, weights, nil
		}
		ids = append(ids, xid.NodeID(id))
		weights = append(weights, w)
	}
	return ids, weights, nil
}

func kernelSampleEdge(env Env, ctx *tensor.Context, spec Spec) error {
	typ := int32(firstInt(mustGetOrNil(ctx, spec.Input(0))))
	count := int(firstInt(mustGetOrNil(ctx, spec.Input(1))))

	ids, weights, err := env.Store.SampleEdge(typ, count)
	if err != nil {
		ids, weights = nil, nil
	}
	flat := make([]int64, 0, len(ids)*3)
	for _, id := range ids {
		flat = append(flat, int64(id.Src), int64(id.Dst), int64(id.Type))
	}
	out := tensor.FromInt64(outputName(spec, 0), flat)
	out.Shape = []int64{int64(len(ids)), 3}
	ctx.Put(outputName(spec, 0), out)
	ctx.Put(outputName(spec, 1), tensor.FromFloat32(outputName(spec, 1), weights))
	return nil
}

// kernelSampleNWithTypes implements API_SAMPLE_N_WITH_TYPES(types[],
// counts[]): per type sample counts[i] nodes and emit (idx[T,2], ids[total]).
func kernelSampleNWithTypes(env Env, ctx *tensor.Context, spec Spec) error {
	typesT := mustGetOrNil(ctx, spec.Input(0))
	countsT := mustGetOrNil(ctx, spec.Input(1))
	types := asInt32s(typesT)
	counts := asInt32s(countsT)

	idx := make([]int64, 0, len(types)*2)
	var allIDs []xid.NodeID
	var cursor int64
	for i, t := range types {
		c := 0
		if i < len(counts) {
			c = int(counts[i])
		}
		ids, _, err := env.Store.SampleNode(t, c)
		if err != nil {
			ids = nil
		}
		idx = append(idx, cursor, cursor+int64(len(ids)))
		cursor += int64(len(ids))
		allIDs = append(allIDs, ids...)
	}
	idxOut := tensor.FromInt64(outputName(spec, 0), idx)
	idxOut.Shape = []int64{int64(len(types)), 2}
	ctx.Put(outputName(spec, 0), idxOut)
	ctx.Put(outputName(spec, 1), tensor.FromUint64(outputName(spec, 1), nodeIDsToUint64(allIDs)))
	return nil
}

// kernelSampleRoot implements API_SAMPLE_ROOT: multinomial root sample
// weighted by pre-attached root weights carried in the input tensors
// (ids, weights).
func kernelSampleRoot(env Env, ctx *tensor.Context, spec Spec) error {
	idsT := mustGetOrNil(ctx, spec.Input(0))
	weightsT := mustGetOrNil(ctx, spec.Input(1))
	countT := mustGetOrNil(ctx, spec.Input(2))
	count := int(firstInt(countT))

	ids := asNodeIDs(idsT)
	var weights []float32
	if weightsT != nil {
		weights = weightsT.F32
	}
	i64 := make([]int64, len(ids))
	for i, id := range ids {
		i64[i] = int64(id)
	}
	coll := sampler.NewCompact(i64, weights)
	outIDs, outW, err := drawNodeIDs(coll, count)
	if err != nil {
		outIDs, outW = nil, nil
	}
	ctx.Put(outputName(spec, 0), tensor.FromUint64(outputName(spec, 0), nodeIDsToUint64(outIDs)))
	ctx.Put(outputName(spec, 1), tensor.FromFloat32(outputName(spec, 1), outW))
	return nil
}

// graphLabelFeatureName is the reserved binary feature name graph labels
// are stored under (spec §4.5: "a reserved binary feature").
const graphLabelFeatureName = "graph_label"

// kernelSampleGraphLabel implements API_SAMPLE_GRAPH_LABEL: sampling over
// the distinct node-level graph-label values, uniformly among the labels
// observed on this shard.
func kernelSampleGraphLabel(env Env, ctx *tensor.Context, spec Spec) error {
	countT := mustGetOrNil(ctx, spec.Input(0))
	count := int(firstInt(countT))

	labels := distinctGraphLabels(env.Store)
	ids := make([]int64, len(labels))
	weights := make([]float32, len(labels))
	for i := range labels {
		ids[i] = int64(i)
		weights[i] = 1
	}
	coll := sampler.NewCompact(ids, weights)
	r := rng.Borrow()
	defer rng.Release(r)
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, _, err := coll.Sample(r)
		if err != nil {
			break
		}
		out = append(out, labels[id])
	}
	ctx.Put(outputName(spec, 0), tensor.FromString(outputName(spec, 0), out))
	return nil
}

// kernelGetGraphByLabel implements API_GET_GRAPH_BY_LABEL: returns the
// node ids carrying each requested label.
func kernelGetGraphByLabel(env Env, ctx *tensor.Context, spec Spec) error {
	labelsT := mustGetOrNil(ctx, spec.Input(0))
	feat, ok := env.Store.Meta.Feature(graphLabelFeatureName)
	var idx []int64
	var ids []xid.NodeID
	var cursor int64
	if ok {
		for _, label := range stringsOf(labelsT) {
			matched := nodesWithLabel(env.Store, feat.ID, label)
			idx = append(idx, cursor, cursor+int64(len(matched)))
			cursor += int64(len(matched))
			ids = append(ids, matched...)
		}
	}
	idxOut := tensor.FromInt64(outputName(spec, 0), idx)
	idxOut.Shape = []int64{int64(len(stringsOf(labelsT))), 2}
	ctx.Put(outputName(spec, 0), idxOut)
	ctx.Put(outputName(spec, 1), tensor.FromUint64(outputName(spec, 1), nodeIDsToUint64(ids)))
	return nil
}

func distinctGraphLabels(store *graph.Store) []string {
	feat, ok := store.Meta.Feature(graphLabelFeatureName)
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, typ := range store.NodeTypes() {
		for _, n := range store.NodesOfType(typ) {
			v := string(n.Features.Binary.BinValue(int(feat.ID)))
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func nodesWithLabel(store *graph.Store, featureID int32, label string) []xid.NodeID {
	var out []xid.NodeID
	for _, typ := range store.NodeTypes() {
		for _, n := range store.NodesOfType(typ) {
			if string(n.Features.Binary.BinValue(int(featureID))) == label {
				out = append(out, n.ID)
			}
		}
	}
	return out
}

func stringsOf(t *tensor.Tensor) []string {
	if t == nil {
		return nil
	}
	return t.Str
}

// mustGetOrNil resolves name in ctx, returning nil rather than erroring
// when the name is empty or unbound — kernels treat a missing optional
// input as "not provided" (spec §4.5: several inputs are marked `?`).
func mustGetOrNil(ctx *tensor.Context, name string) *tensor.Tensor {
	if name == "" {
		return nil
	}
	t, ok := ctx.Get(name)
	if !ok {
		return nil
	}
	return t
}
