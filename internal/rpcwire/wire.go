// Package rpcwire implements Euler's wire protocol: the Tensor and DAG
// envelopes spec §6 declares, an HTTP/chi transport carrying them (the
// teacher never speaks gRPC, so the wire runs over the same
// cluster.PostJSON/GetJSON-style HTTP the teacher's coordinator/node pair
// uses), and the error-code → HTTP-status mapping spec §7 requires at the
// process boundary.
package rpcwire

import (
	"encoding/binary"
	"math"

	"github.com/dreamware/euler/internal/eulererr"
	"github.com/dreamware/euler/internal/tensor"
)

// TensorWire is the wire form of a tensor.Tensor: {name, dtype, shape,
// tensor_content} per spec §6. TensorContent packs the typed slice as
// little-endian fixed-width values, except STRING, which is a sequence of
// (u32 length, bytes) records.
type TensorWire struct {
	Name          string      `json:"name"`
	DType         tensor.DType `json:"dtype"`
	Shape         []int64     `json:"shape"`
	TensorContent []byte      `json:"tensor_content"`
}

// EncodeTensor packs t into its wire form.
func EncodeTensor(t *tensor.Tensor) TensorWire {
	w := TensorWire{Name: t.Name, DType: t.DType, Shape: append([]int64(nil), t.Shape...)}
	switch t.DType {
	case tensor.INT8:
		w.TensorContent = make([]byte, len(t.I8))
		for i, v := range t.I8 {
			w.TensorContent[i] = byte(v)
		}
	case tensor.INT16:
		w.TensorContent = packUint(len(t.I16), 2, func(i int) uint64 { return uint64(uint16(t.I16[i])) })
	case tensor.INT32:
		w.TensorContent = packUint(len(t.I32), 4, func(i int) uint64 { return uint64(uint32(t.I32[i])) })
	case tensor.INT64:
		w.TensorContent = packUint(len(t.I64), 8, func(i int) uint64 { return uint64(t.I64[i]) })
	case tensor.UINT32:
		w.TensorContent = packUint(len(t.U32), 4, func(i int) uint64 { return uint64(t.U32[i]) })
	case tensor.UINT64:
		w.TensorContent = packUint(len(t.U64), 8, func(i int) uint64 { return t.U64[i] })
	case tensor.FLOAT:
		w.TensorContent = packUint(len(t.F32), 4, func(i int) uint64 { return uint64(float32bits(t.F32[i])) })
	case tensor.DOUBLE:
		w.TensorContent = packUint(len(t.F64), 8, func(i int) uint64 { return float64bits(t.F64[i]) })
	case tensor.STRING:
		w.TensorContent = encodeStrings(t.Str)
	}
	return w
}

// DecodeTensor unpacks w into a tensor.Tensor.
func DecodeTensor(w TensorWire) (*tensor.Tensor, error) {
	t := &tensor.Tensor{Name: w.Name, DType: w.DType, Shape: append([]int64(nil), w.Shape...)}
	n := len(w.TensorContent)
	switch w.DType {
	case tensor.INT8:
		t.I8 = make([]int8, n)
		for i, b := range w.TensorContent {
			t.I8[i] = int8(b)
		}
	case tensor.INT16:
		vals, err := unpackUint(w.TensorContent, 2)
		if err != nil {
			return nil, err
		}
		t.I16 = make([]int16, len(vals))
		for i, v := range vals {
			t.I16[i] = int16(v)
		}
	case tensor.INT32:
		vals, err := unpackUint(w.TensorContent, 4)
		if err != nil {
			return nil, err
		}
		t.I32 = make([]int32, len(vals))
		for i, v := range vals {
			t.I32[i] = int32(v)
		}
	case tensor.INT64:
		vals, err := unpackUint(w.TensorContent, 8)
		if err != nil {
			return nil, err
		}
		t.I64 = make([]int64, len(vals))
		for i, v := range vals {
			t.I64[i] = int64(v)
		}
	case tensor.UINT32:
		vals, err := unpackUint(w.TensorContent, 4)
		if err != nil {
			return nil, err
		}
		t.U32 = make([]uint32, len(vals))
		for i, v := range vals {
			t.U32[i] = uint32(v)
		}
	case tensor.UINT64:
		vals, err := unpackUint(w.TensorContent, 8)
		if err != nil {
			return nil, err
		}
		t.U64 = vals
	case tensor.FLOAT:
		vals, err := unpackUint(w.TensorContent, 4)
		if err != nil {
			return nil, err
		}
		t.F32 = make([]float32, len(vals))
		for i, v := range vals {
			t.F32[i] = float32frombits(uint32(v))
		}
	case tensor.DOUBLE:
		vals, err := unpackUint(w.TensorContent, 8)
		if err != nil {
			return nil, err
		}
		t.F64 = make([]float64, len(vals))
		for i, v := range vals {
			t.F64[i] = float64frombits(v)
		}
	case tensor.STRING:
		strs, err := decodeStrings(w.TensorContent)
		if err != nil {
			return nil, err
		}
		t.Str = strs
	default:
		return nil, eulererr.New(eulererr.InvalidArgument, "rpcwire: unknown dtype %d", w.DType)
	}
	return t, nil
}

func packUint(count, width int, at func(i int) uint64) []byte {
	buf := make([]byte, count*width)
	for i := 0; i < count; i++ {
		v := at(i)
		off := i * width
		switch width {
		case 2:
			binary.LittleEndian.PutUint16(buf[off:], uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(buf[off:], uint32(v))
		case 8:
			binary.LittleEndian.PutUint64(buf[off:], v)
		}
	}
	return buf
}

func unpackUint(buf []byte, width int) ([]uint64, error) {
	if len(buf)%width != 0 {
		return nil, eulererr.New(eulererr.InvalidArgument, "rpcwire: tensor_content length %d not a multiple of %d", len(buf), width)
	}
	n := len(buf) / width
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		off := i * width
		switch width {
		case 2:
			out[i] = uint64(binary.LittleEndian.Uint16(buf[off:]))
		case 4:
			out[i] = uint64(binary.LittleEndian.Uint32(buf[off:]))
		case 8:
			out[i] = binary.LittleEndian.Uint64(buf[off:])
		}
	}
	return out, nil
}

func encodeStrings(strs []string) []byte {
	var buf []byte
	var lenBuf [4]byte
	for _, s := range strs {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, s...)
	}
	return buf
}

func decodeStrings(buf []byte) ([]string, error) {
	var out []string
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, eulererr.New(eulererr.InvalidArgument, "rpcwire: truncated string length prefix")
		}
		n := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if uint32(len(buf)) < n {
			return nil, eulererr.New(eulererr.InvalidArgument, "rpcwire: truncated string body")
		}
		out = append(out, string(buf[:n]))
		buf = buf[n:]
	}
	return out, nil
}

// DAGNodeWire is one DAG node's wire form, matching spec §6's DAG schema
// and §3's node fields verbatim.
type DAGNodeWire struct {
	Name         string    `json:"name"`
	Op           string    `json:"op"`
	Inputs       []string  `json:"inputs,omitempty"`
	DNF          []string  `json:"dnf,omitempty"`
	PostProcess  []string  `json:"post_process,omitempty"`
	UDFName      string    `json:"udf_name,omitempty"`
	UDFStrParams []string  `json:"udf_str_params,omitempty"`
	UDFNumParams []float64 `json:"udf_num_params,omitempty"`
}

// DAGWire is the wire form of a whole query plan.
type DAGWire struct {
	Nodes []DAGNodeWire `json:"nodes"`
}

// ExecuteRequest is the body of POST /rpc/execute: a DAG plus the tensors
// the caller pre-populates as request inputs, and the output tensor names
// it wants materialized (spec §6).
type ExecuteRequest struct {
	DAG     DAGWire      `json:"dag"`
	Inputs  []TensorWire `json:"inputs"`
	Outputs []string     `json:"outputs"`
}

// ExecuteResponse is the body of a successful POST /rpc/execute response.
type ExecuteResponse struct {
	Tensors []TensorWire `json:"tensors"`
}

// ErrorResponse is the JSON body an error status is reported as.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusToHTTP maps an eulererr.Code to the HTTP status spec §7's taxonomy
// implies at the process boundary.
func StatusToHTTP(code eulererr.Code) int {
	switch code {
	case eulererr.OK:
		return 200
	case eulererr.InvalidArgument:
		return 400
	case eulererr.NotFound:
		return 404
	case eulererr.OutOfRange:
		return 416
	case eulererr.Unavailable:
		return 503
	case eulererr.Internal:
		return 500
	default:
		return 500
	}
}

// ErrorFromHTTP reconstructs an eulererr.Status from an HTTP status code
// and message, the inverse of StatusToHTTP, for the client side of the
// wire.
func ErrorFromHTTP(status int, message string) error {
	var code eulererr.Code
	switch status {
	case 400:
		code = eulererr.InvalidArgument
	case 404:
		code = eulererr.NotFound
	case 416:
		code = eulererr.OutOfRange
	case 503:
		code = eulererr.Unavailable
	default:
		code = eulererr.Internal
	}
	return eulererr.New(code, "%s", message)
}

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float64bits(f float64) uint64     { return math.Float64bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }
