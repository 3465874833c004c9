package kernel

import (
	"github.com/dreamware/euler/internal/tensor"
)

// Merge kernels accept a variadic tuple of (data, idx, merge_idx) per
// shard (spec §4.7). Spec.Inputs for every merge kernel below is laid out
// as: Input(0) = total row count (an INT64 scalar, the row count of the
// pre-split operator's output), then groups of three input names per
// shard: data_i, idx_i, merge_idx_i.

type shardTriple struct {
	data     *tensor.Tensor
	idx      []int64 // (begin,end) per row, length 2*rows
	mergeIdx []int64 // per-row original position
}

func shardTriples(ctx *tensor.Context, spec Spec) []shardTriple {
	var out []shardTriple
	for i := 1; i+2 < len(spec.Inputs); i += 3 {
		data := mustGetOrNil(ctx, spec.Input(i))
		idxT := mustGetOrNil(ctx, spec.Input(i+1))
		mergeT := mustGetOrNil(ctx, spec.Input(i+2))
		if data == nil || idxT == nil {
			continue
		}
		var mergeIdx []int64
		if mergeT != nil {
			mergeIdx = mergeT.I64
		}
		out = append(out, shardTriple{data: data, idx: idxT.I64, mergeIdx: mergeIdx})
	}
	return out
}

// kernelDataMerge implements DATA_MERGE: concatenates a sharded (idx,
// data) pair into a single (idx, data), remapping per-shard idx offsets
// to the global output and writing each shard's rows to their merge_idx
// position.
func kernelDataMerge(env Env, ctx *tensor.Context, spec Spec) error {
	totalRows := int(firstInt(mustGetOrNil(ctx, spec.Input(0))))
	triples := shardTriples(ctx, spec)

	type rowRef struct {
		data      *tensor.Tensor
		positions []int64
	}
	rows := make([][]rowRef, totalRows) // each row: the selected element positions, per contributing shard's data tensor
	dtype := tensor.INT64
	var proto *tensor.Tensor
	for _, tr := range triples {
		if proto == nil {
			proto = tr.data
			dtype = tr.data.DType
		}
		for r := 0; r*2+1 < len(tr.idx); r++ {
			begin, end := tr.idx[r*2], tr.idx[r*2+1]
			target := r
			if r < len(tr.mergeIdx) {
				target = int(tr.mergeIdx[r])
			}
			if target < 0 || target >= totalRows {
				continue
			}
			var positions []int64
			for p := begin; p < end; p++ {
				positions = append(positions, p)
			}
			rows[target] = append(rows[target], rowRef{data: tr.data, positions: elemRefs(tr.data, positions)})
		}
	}

	idx := make([]int64, 0, totalRows*2)
	var cursor int64
	merged := newAppender(dtype)
	for _, row := range rows {
		var n int64
		for _, ref := range row {
			n += int64(len(ref.positions))
			appendElems(merged, ref.data, ref.positions)
		}
		idx = append(idx, cursor, cursor+n)
		cursor += n
	}

	idxOut := tensor.FromInt64(outputName(spec, 0), idx)
	idxOut.Shape = []int64{int64(totalRows), 2}
	ctx.Put(outputName(spec, 0), idxOut)
	ctx.Put(outputName(spec, 1), finishAppender(merged, outputName(spec, 1)))
	return nil
}

// kernelGPDataMerge implements GP_DATA_MERGE: DATA_MERGE plus, per shard,
// a row-to-output remap tensor for downstream joins.
func kernelGPDataMerge(env Env, ctx *tensor.Context, spec Spec) error {
	if err := kernelDataMerge(env, ctx, spec); err != nil {
		return err
	}
	triples := shardTriples(ctx, spec)
	for i, tr := range triples {
		remap := append([]int64(nil), tr.mergeIdx...)
		ctx.Put(outputName(spec, 2+i), tensor.FromInt64(outputName(spec, 2+i), remap))
	}
	return nil
}

// kernelDataRowAppendMerge implements DATA_ROW_APPEND_MERGE: concatenates
// shards in input order without an explicit merge-index. The spec leaves
// ordering across shards to the caller; this merges in the literal input
// order of the merge node's shard list and never reorders it (per the
// documented §9 decision).
func kernelDataRowAppendMerge(env Env, ctx *tensor.Context, spec Spec) error {
	triples := shardTriples(ctx, spec)
	idx := make([]int64, 0)
	var cursor int64
	var proto *tensor.Tensor
	appender := (*dataAppender)(nil)
	for _, tr := range triples {
		if proto == nil {
			proto = tr.data
			appender = newAppender(tr.data.DType)
		}
		for r := 0; r*2+1 < len(tr.idx); r++ {
			begin, end := tr.idx[r*2], tr.idx[r*2+1]
			var positions []int64
			for p := begin; p < end; p++ {
				positions = append(positions, p)
			}
			idx = append(idx, cursor, cursor+int64(len(positions)))
			cursor += int64(len(positions))
			appendElems(appender, tr.data, positions)
		}
	}
	idxOut := tensor.FromInt64(outputName(spec, 0), idx)
	idxOut.Shape = []int64{int64(len(idx) / 2), 2}
	ctx.Put(outputName(spec, 0), idxOut)
	if appender != nil {
		ctx.Put(outputName(spec, 1), finishAppender(appender, outputName(spec, 1)))
	}
	return nil
}

// kernelRegularDataMerge implements REGULAR_DATA_MERGE: for fixed-width
// per-row outputs [N,k]. Each output slot starts filled with the
// dtype-specific sentinel; non-sentinel slots from shards overwrite in
// merge_idx order, so the last non-sentinel value wins (spec §4.7).
func kernelRegularDataMerge(env Env, ctx *tensor.Context, spec Spec) error {
	totalRows := int(firstInt(mustGetOrNil(ctx, spec.Input(0))))
	width := int(firstInt(mustGetOrNil(ctx, spec.Input(1))))
	triples := shardTriplesFixedWidth(ctx, spec, 2)

	switch firstDType(triples) {
	case tensor.UINT64:
		out := fill(totalRows*width, sentinelUint64())
		for _, tr := range triples {
			overlayUint64(out, tr, width)
		}
		t := tensor.FromUint64(outputName(spec, 0), out)
		t.Shape = []int64{int64(totalRows), int64(width)}
		ctx.Put(outputName(spec, 0), t)
	case tensor.INT32:
		out := fillI32(totalRows*width, sentinelInt32())
		for _, tr := range triples {
			overlayInt32(out, tr, width)
		}
		t := tensor.FromInt32(outputName(spec, 0), out)
		t.Shape = []int64{int64(totalRows), int64(width)}
		ctx.Put(outputName(spec, 0), t)
	default: // FLOAT
		out := fillF32(totalRows*width, sentinelFloat32())
		for _, tr := range triples {
			overlayFloat32(out, tr, width)
		}
		t := tensor.FromFloat32(outputName(spec, 0), out)
		t.Shape = []int64{int64(totalRows), int64(width)}
		ctx.Put(outputName(spec, 0), t)
	}
	return nil
}

// kernelGPRegularDataMerge implements GP_REGULAR_DATA_MERGE:
// REGULAR_DATA_MERGE plus per-shard row-to-output remap tensors.
func kernelGPRegularDataMerge(env Env, ctx *tensor.Context, spec Spec) error {
	if err := kernelRegularDataMerge(env, ctx, spec); err != nil {
		return err
	}
	triples := shardTriplesFixedWidth(ctx, spec, 2)
	for i, tr := range triples {
		remap := append([]int64(nil), tr.mergeIdx...)
		ctx.Put(outputName(spec, 1+i), tensor.FromInt64(outputName(spec, 1+i), remap))
	}
	return nil
}

// fixedWidthTriple is one shard's (data, merge_idx) pair for a
// fixed-width [rows,k] merge; there is no idx tensor since row width is
// uniform.
type fixedWidthTriple struct {
	data     *tensor.Tensor
	mergeIdx []int64
}

func shardTriplesFixedWidth(ctx *tensor.Context, spec Spec, start int) []fixedWidthTriple {
	var out []fixedWidthTriple
	for i := start; i+1 < len(spec.Inputs); i += 2 {
		data := mustGetOrNil(ctx, spec.Input(i))
		mergeT := mustGetOrNil(ctx, spec.Input(i+1))
		if data == nil {
			continue
		}
		var mergeIdx []int64
		if mergeT != nil {
			mergeIdx = mergeT.I64
		}
		out = append(out, fixedWidthTriple{data: data, mergeIdx: mergeIdx})
	}
	return out
}

func firstDType(triples []fixedWidthTriple) tensor.DType {
	if len(triples) == 0 {
		return tensor.FLOAT
	}
	return triples[0].data.DType
}

func fill(n int, v uint64) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
func fillI32(n int, v int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
func fillF32(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func overlayUint64(out []uint64, tr fixedWidthTriple, width int) {
	src := tr.data.U64
	rows := len(src) / width
	for r := 0; r < rows; r++ {
		target := r
		if r < len(tr.mergeIdx) {
			target = int(tr.mergeIdx[r])
		}
		if target < 0 || (target+1)*width > len(out) {
			continue
		}
		for c := 0; c < width; c++ {
			v := src[r*width+c]
			if v != sentinelUint64() {
				out[target*width+c] = v
			}
		}
	}
}

func overlayInt32(out []int32, tr fixedWidthTriple, width int) {
	src := tr.data.I32
	rows := len(src) / width
	for r := 0; r < rows; r++ {
		target := r
		if r < len(tr.mergeIdx) {
			target = int(tr.mergeIdx[r])
		}
		if target < 0 || (target+1)*width > len(out) {
			continue
		}
		for c := 0; c < width; c++ {
			v := src[r*width+c]
			if v != sentinelInt32() {
				out[target*width+c] = v
			}
		}
	}
}

func overlayFloat32(out []float32, tr fixedWidthTriple, width int) {
	src := tr.data.F32
	rows := len(src) / width
	for r := 0; r < rows; r++ {
		target := r
		if r < len(tr.mergeIdx) {
			target = int(tr.mergeIdx[r])
		}
		if target < 0 || (target+1)*width > len(out) {
			continue
		}
		for c := 0; c < width; c++ {
			v := src[r*width+c]
			if !isSentinelFloat32(v) {
				out[target*width+c] = v
			}
		}
	}
}

// --- generic variable-width data append helpers -------------------------

// dataAppender accumulates elements of one dtype across shards for
// DATA_MERGE/DATA_ROW_APPEND_MERGE's variable-width data output.
type dataAppender struct {
	dtype tensor.DType
	i8    []int8
	i16   []int16
	i32   []int32
	i64   []int64
	u32   []uint32
	u64   []uint64
	f32   []float32
	f64   []float64
	str   []string
}

func newAppender(dtype tensor.DType) *dataAppender {
	return &dataAppender{dtype: dtype}
}

// elemRefs returns positions verbatim; kept as a named seam so a future
// dtype-aware fast path (e.g. bulk memcpy per shard) can replace the
// per-element copy in appendElems without changing callers.
func elemRefs(t *tensor.Tensor, positions []int64) []int64 { return positions }

func appendElems(a *dataAppender, src *tensor.Tensor, positions []int64) {
	if a == nil || src == nil {
		return
	}
	switch a.dtype {
	case tensor.INT8:
		for _, p := range positions {
			a.i8 = append(a.i8, src.I8[p])
		}
	case tensor.INT16:
		for _, p := range positions {
			a.i16 = append(a.i16, src.I16[p])
		}
	case tensor.INT32:
		for _, p := range positions {
			a.i32 = append(a.i32, src.I32[p])
		}
	case tensor.INT64:
		for _, p := range positions {
			a.i64 = append(a.i64, src.I64[p])
		}
	case tensor.UINT32:
		for _, p := range positions {
			a.u32 = append(a.u32, src.U32[p])
		}
	case tensor.UINT64:
		for _, p := range positions {
			a.u64 = append(a.u64, src.U64[p])
		}
	case tensor.FLOAT:
		for _, p := range positions {
			a.f32 = append(a.f32, src.F32[p])
		}
	case tensor.DOUBLE:
		for _, p := range positions {
			a.f64 = append(a.f64, src.F64[p])
		}
	case tensor.STRING:
		for _, p := range positions {
			a.str = append(a.str, src.Str[p])
		}
	}
}

func finishAppender(a *dataAppender, name string) *tensor.Tensor {
	switch a.dtype {
	case tensor.INT8:
		return &tensor.Tensor{Name: name, DType: tensor.INT8, Shape: []int64{int64(len(a.i8))}, I8: a.i8}
	case tensor.INT16:
		return &tensor.Tensor{Name: name, DType: tensor.INT16, Shape: []int64{int64(len(a.i16))}, I16: a.i16}
	case tensor.INT32:
		return tensor.FromInt32(name, a.i32)
	case tensor.INT64:
		return tensor.FromInt64(name, a.i64)
	case tensor.UINT32:
		return &tensor.Tensor{Name: name, DType: tensor.UINT32, Shape: []int64{int64(len(a.u32))}, U32: a.u32}
	case tensor.UINT64:
		return tensor.FromUint64(name, a.u64)
	case tensor.FLOAT:
		return tensor.FromFloat32(name, a.f32)
	case tensor.DOUBLE:
		return tensor.FromFloat64(name, a.f64)
	case tensor.STRING:
		return tensor.FromString(name, a.str)
	}
	return tensor.FromFloat32(name, nil)
}
