// Package tensor implements Euler's named, dtype-tagged, shape-tagged
// buffers and the per-request Context kernels read and write them
// through (spec §3, §4.6).
package tensor

import "fmt"

// DType tags a Tensor's element type, matching the wire form's dtype enum
// (spec §6) plus the stdlib mapping each case unpacks to.
type DType int

const (
	INT8 DType = iota
	INT16
	INT32
	INT64
	UINT32
	UINT64
	FLOAT
	DOUBLE
	STRING
)

func (d DType) String() string {
	switch d {
	case INT8:
		return "INT8"
	case INT16:
		return "INT16"
	case INT32:
		return "INT32"
	case INT64:
		return "INT64"
	case UINT32:
		return "UINT32"
	case UINT64:
		return "UINT64"
	case FLOAT:
		return "FLOAT"
	case DOUBLE:
		return "DOUBLE"
	case STRING:
		return "STRING"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// Tensor is a named buffer of one dtype, shaped by an ordered sequence of
// non-negative dimensions. Exactly one of the typed slices below is
// populated, selected by DType. String tensors own their string data
// directly (spec §3: "owned externally" in the original runtime, owned by
// the Go GC here).
type Tensor struct {
	Name  string
	DType DType
	Shape []int64

	I8  []int8
	I16 []int16
	I32 []int32
	I64 []int64
	U32 []uint32
	U64 []uint64
	F32 []float32
	F64 []float64
	Str []string
}

// NumElements returns the product of Shape, i.e. the tensor's element
// count (spec §3).
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return 0
		}
		n *= d
	}
	if len(shape) == 0 {
		return 0
	}
	return n
}

// New allocates a zero-valued tensor of the given name, dtype, and shape.
func New(name string, dtype DType, shape []int64) *Tensor {
	n := int(NumElements(shape))
	t := &Tensor{Name: name, DType: dtype, Shape: append([]int64(nil), shape...)}
	switch dtype {
	case INT8:
		t.I8 = make([]int8, n)
	case INT16:
		t.I16 = make([]int16, n)
	case INT32:
		t.I32 = make([]int32, n)
	case INT64:
		t.I64 = make([]int64, n)
	case UINT32:
		t.U32 = make([]uint32, n)
	case UINT64:
		t.U64 = make([]uint64, n)
	case FLOAT:
		t.F32 = make([]float32, n)
	case DOUBLE:
		t.F64 = make([]float64, n)
	case STRING:
		t.Str = make([]string, n)
	}
	return t
}

// FromInt64 wraps an existing []int64 as a 1-D INT64 tensor.
func FromInt64(name string, data []int64) *Tensor {
	return &Tensor{Name: name, DType: INT64, Shape: []int64{int64(len(data))}, I64: data}
}

// FromUint64 wraps an existing []uint64 as a 1-D UINT64 tensor.
func FromUint64(name string, data []uint64) *Tensor {
	return &Tensor{Name: name, DType: UINT64, Shape: []int64{int64(len(data))}, U64: data}
}

// FromInt32 wraps an existing []int32 as a 1-D INT32 tensor.
func FromInt32(name string, data []int32) *Tensor {
	return &Tensor{Name: name, DType: INT32, Shape: []int64{int64(len(data))}, I32: data}
}

// FromFloat32 wraps an existing []float32 as a 1-D FLOAT tensor.
func FromFloat32(name string, data []float32) *Tensor {
	return &Tensor{Name: name, DType: FLOAT, Shape: []int64{int64(len(data))}, F32: data}
}

// FromFloat64 wraps an existing []float64 as a 1-D DOUBLE tensor.
func FromFloat64(name string, data []float64) *Tensor {
	return &Tensor{Name: name, DType: DOUBLE, Shape: []int64{int64(len(data))}, F64: data}
}

// FromString wraps an existing []string as a 1-D STRING tensor.
func FromString(name string, data []string) *Tensor {
	return &Tensor{Name: name, DType: STRING, Shape: []int64{int64(len(data))}, Str: data}
}

// Len reports the tensor's element count along its populated slice,
// independent of Shape (useful while a tensor is being built up before its
// final shape is known).
func (t *Tensor) Len() int {
	switch t.DType {
	case INT8:
		return len(t.I8)
	case INT16:
		return len(t.I16)
	case INT32:
		return len(t.I32)
	case INT64:
		return len(t.I64)
	case UINT32:
		return len(t.U32)
	case UINT64:
		return len(t.U64)
	case FLOAT:
		return len(t.F32)
	case DOUBLE:
		return len(t.F64)
	case STRING:
		return len(t.Str)
	default:
		return 0
	}
}
