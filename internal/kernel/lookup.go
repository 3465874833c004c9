package kernel

import (
	"sort"
	"strings"

	"github.com/dreamware/euler/internal/graph"
	"github.com/dreamware/euler/internal/tensor"
	"github.com/dreamware/euler/internal/xid"
)

// kernelGetNode implements API_GET_NODE(ids?, dnf?, post_process?) →
// nodes[]: when both ids and dnf are present, ids are filtered by dnf;
// post_process supports "order_by id asc|desc" and "limit k" (spec §4.5).
func kernelGetNode(env Env, ctx *tensor.Context, spec Spec) error {
	ids := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))

	if len(spec.DNF) > 0 {
		matched, err := evalDNFIDs(env, spec.DNF)
		if err != nil {
			return err
		}
		if ids == nil {
			ids = matched
		} else {
			ids = intersectNodeIDs(ids, matched)
		}
	}

	ids = applyNodePostProcess(ids, spec.PostProcess)
	ctx.Put(outputName(spec, 0), tensor.FromUint64(outputName(spec, 0), nodeIDsToUint64(ids)))
	return nil
}

func evalDNFIDs(env Env, dnf []string) ([]xid.NodeID, error) {
	clauses, err := graph.ParseDNF(dnf)
	if err != nil {
		return nil, err
	}
	r, err := env.Indexes.Eval(clauses)
	if err != nil {
		return nil, err
	}
	out := make([]xid.NodeID, len(r.GetIds()))
	for i, id := range r.GetIds() {
		out[i] = xid.NodeID(id)
	}
	return out, nil
}

func intersectNodeIDs(a, b []xid.NodeID) []xid.NodeID {
	set := make(map[xid.NodeID]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	var out []xid.NodeID
	for _, id := range a {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

// applyNodePostProcess applies "order_by id asc|desc" and "limit k"
// directives, in the order given.
func applyNodePostProcess(ids []xid.NodeID, directives []string) []xid.NodeID {
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
			sort.Slice(ids, func(i, j int) bool {
				if desc {
					return ids[i] > ids[j]
				}
				return ids[i] < ids[j]
			})
		case "limit":
			if len(fields) < 2 {
				continue
			}
			k := 0
			for _, c := range fields[1] {
				if c < '0' || c > '9' {
					k = -1
					break
				}
				k = k*10 + int(c-'0')
			}
			if k >= 0 && k < len(ids) {
				ids = ids[:k]
			}
		}
	}
	return ids
}

// kernelGetEdge implements API_GET_EDGE(ids?, dnf?) → edges[,3]. ids here
// are edge UIDs (hash(EdgeID), per spec §4.4); a dnf's index results are
// UIDs directly.
func kernelGetEdge(env Env, ctx *tensor.Context, spec Spec) error {
	uidsT := mustGetOrNil(ctx, spec.Input(0))
	var uids []xid.UID
	if uidsT != nil {
		for _, v := range uidsT.U64 {
			uids = append(uids, xid.UID(v))
		}
	}

	if len(spec.DNF) > 0 {
		clauses, err := graph.ParseDNF(spec.DNF)
		if err != nil {
			return err
		}
		r, err := env.Indexes.Eval(clauses)
		if err != nil {
			return err
		}
		var matched []xid.UID
		for _, id := range r.GetIds() {
			matched = append(matched, xid.UID(id))
		}
		if uids == nil {
			uids = matched
		} else {
			set := map[xid.UID]bool{}
			for _, u := range matched {
				set[u] = true
			}
			var filtered []xid.UID
			for _, u := range uids {
				if set[u] {
					filtered = append(filtered, u)
				}
			}
			uids = filtered
		}
	}

	flat := make([]int64, 0, len(uids)*3)
	for _, u := range uids {
		e, ok := env.Store.GetEdgeByUID(u)
		if !ok {
			continue
		}
		flat = append(flat, int64(e.ID.Src), int64(e.ID.Dst), int64(e.ID.Type))
	}
	out := tensor.FromInt64(outputName(spec, 0), flat)
	out.Shape = []int64{int64(len(flat) / 3), 3}
	ctx.Put(outputName(spec, 0), out)
	return nil
}

// kernelGetNodeT implements API_GET_NODE_T(ids) → types[,1]. A missing id
// yields the int32 sentinel rather than shortening the output, keeping the
// row correspondence to ids intact.
func kernelGetNodeT(env Env, ctx *tensor.Context, spec Spec) error {
	ids := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))
	types := make([]int32, len(ids))
	for i, id := range ids {
		if n, ok := env.Store.GetNodeByID(id); ok {
			types[i] = n.Type
		} else {
			types[i] = sentinelInt32()
		}
	}
	out := tensor.FromInt32(outputName(spec, 0), types)
	out.Shape = []int64{int64(len(types)), 1}
	ctx.Put(outputName(spec, 0), out)
	return nil
}

// kernelGetP implements API_GET_P(ids, feature_name_1, …) → (idx_j, data_j)
// pairs per feature. idx[i] = (begin,end) into data; data[begin:end] is
// node i's values for that feature. A udf_name, when set, reduces each
// node's values for that feature to a single scalar before being written
// (spec §4.5).
func kernelGetP(env Env, ctx *tensor.Context, spec Spec) error {
	ids := asNodeIDs(mustGetOrNil(ctx, spec.Input(0)))
	names := stringsOf(mustGetOrNil(ctx, spec.Input(1)))

	var udf UDFFunc
	if spec.UDFName != "" {
		fn, ok := GetUDF(spec.UDFName)
		if ok {
			udf = fn
		}
	}

	for j, name := range names {
		feat, ok := env.Store.Meta.Feature(name)
		var idx []int64
		var data []float32
		var cursor int64
		for _, id := range ids {
			n, found := env.Store.GetNodeByID(id)
			var values []float32
			if found && ok {
				values = featureValuesAsFloat32(n, feat)
			}
			if udf != nil {
				values = []float32{udf(values)}
			}
			idx = append(idx, cursor, cursor+int64(len(values)))
			cursor += int64(len(values))
			data = append(data, values...)
		}
		idxOut := tensor.FromInt64(outputName(spec, 2*j), idx)
		idxOut.Shape = []int64{int64(len(ids)), 2}
		ctx.Put(outputName(spec, 2*j), idxOut)
		ctx.Put(outputName(spec, 2*j+1), tensor.FromFloat32(outputName(spec, 2*j+1), data))
	}
	return nil
}

// featureValuesAsFloat32 reads one node's values for feat, converting
// sparse uint64 token ids and binary byte lengths to float32 uniformly so
// API_GET_P's output tensor stays a single dtype regardless of the
// feature's underlying kind.
func featureValuesAsFloat32(n *graph.Node, feat graph.FeatureSchemaEntry) []float32 {
	switch feat.Kind {
	case graph.FeatureDense:
		return n.Features.Dense.F32Values(int(feat.ID))
	case graph.FeatureSparse:
		u := n.Features.Sparse.U64Values(int(feat.ID))
		out := make([]float32, len(u))
		for i, v := range u {
			out[i] = float32(v)
		}
		return out
	case graph.FeatureBinary:
		b := n.Features.Binary.BinValue(int(feat.ID))
		return []float32{float32(len(b))}
	}
	return nil
}
