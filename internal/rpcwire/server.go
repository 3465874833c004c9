package rpcwire

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/euler/internal/dagexec"
	"github.com/dreamware/euler/internal/eulererr"
	"github.com/dreamware/euler/internal/graph"
	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/tensor"
	"github.com/dreamware/euler/internal/xid"
)

// Server exposes one shard's query engine over HTTP: the canonical
// /rpc/Execute entry plus the legacy fine-grained methods spec §6 lists.
// Each handler delegates either to the DAG executor or straight to the
// graph store, so the wire layer carries no graph semantics of its own.
type Server struct {
	Env        kernel.Env
	Exec       *dagexec.Executor
	ShardIndex int
	Log        *logrus.Entry
}

// NewServer constructs a Server around a shard's kernel environment.
func NewServer(env kernel.Env, reg *kernel.Registry, shardIndex int) *Server {
	return &Server{
		Env:        env,
		Exec:       dagexec.NewExecutor(reg),
		ShardIndex: shardIndex,
		Log:        logrus.WithField("shard", shardIndex),
	}
}

// Router builds the chi router carrying every RPC method. Method names live
// in the path ("/rpc/Execute", "/rpc/SampleNode") so a wire capture reads
// like the spec's method table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/rpc/Ping", s.handlePing)
	r.Post("/rpc/Execute", s.handleExecute)
	r.Post("/rpc/SampleNode", s.handleSampleNode)
	r.Post("/rpc/SampleEdge", s.handleSampleEdge)
	r.Post("/rpc/GetNodeType", s.handleGetNodeType)
	r.Post("/rpc/GetNodeFloat32Feature", s.handleGetNodeFloat32Feature)
	r.Post("/rpc/GetNodeUInt64Feature", s.handleGetNodeUInt64Feature)
	r.Post("/rpc/GetNodeBinaryFeature", s.handleGetNodeBinaryFeature)
	r.Post("/rpc/GetEdgeFloat32Feature", s.handleGetEdgeFloat32Feature)
	r.Post("/rpc/GetEdgeUInt64Feature", s.handleGetEdgeUInt64Feature)
	r.Post("/rpc/GetEdgeBinaryFeature", s.handleGetEdgeBinaryFeature)
	r.Post("/rpc/GetFullNeighbor", s.handleGetFullNeighbor)
	r.Post("/rpc/GetSortedNeighbor", s.handleGetSortedNeighbor)
	r.Post("/rpc/GetTopKNeighbor", s.handleGetTopKNeighbor)
	r.Post("/rpc/SampleNeighbor", s.handleSampleNeighbor)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
			"elapsed":    time.Since(start),
		}).Debug("rpc request")
	})
}

func decode(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return eulererr.New(eulererr.InvalidArgument, "rpcwire: bad request body: %v", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Log.WithError(err).Error("rpcwire: encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := eulererr.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusToHTTP(code))
	_ = json.NewEncoder(w).Encode(ErrorResponse{Code: code.String(), Message: err.Error()})
}

// PingResponse is the body of /rpc/Ping.
type PingResponse struct {
	Pong       bool `json:"pong"`
	ShardIndex int  `json:"shard_index"`
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, PingResponse{Pong: true, ShardIndex: s.ShardIndex})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	inputs := make(map[string]*tensor.Tensor, len(req.Inputs))
	for _, tw := range req.Inputs {
		t, err := DecodeTensor(tw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		inputs[tw.Name] = t
	}
	out, err := s.Exec.Run(r.Context(), s.Env, DAGFromWire(req.DAG), inputs, req.Outputs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := ExecuteResponse{Tensors: make([]TensorWire, 0, len(req.Outputs))}
	for _, name := range req.Outputs {
		resp.Tensors = append(resp.Tensors, EncodeTensor(out[name]))
	}
	s.writeJSON(w, resp)
}

// --- legacy fine-grained methods ---------------------------------------
//
// Each takes flat ids/types/count fields and returns flat result arrays,
// semantics equal to the corresponding kernel (spec §6). "Nothing matched"
// is an empty array with a 200, never an error status (spec §7).

// SampleNodeRequest asks for Count nodes of NodeType; Types, when
// non-empty, takes precedence and samples across the union of types.
type SampleNodeRequest struct {
	NodeType int32   `json:"node_type"`
	Types    []int32 `json:"types,omitempty"`
	Count    int     `json:"count"`
}

// SampleNodeResponse carries the sampled ids and their weights.
type SampleNodeResponse struct {
	IDs     []uint64  `json:"ids"`
	Weights []float32 `json:"weights"`
}

func (s *Server) handleSampleNode(w http.ResponseWriter, r *http.Request) {
	var req SampleNodeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	var (
		ids     []xid.NodeID
		weights []float32
		err     error
	)
	if len(req.Types) > 0 {
		ids, weights, err = s.Env.Store.SampleNodeTypes(req.Types, req.Count)
	} else {
		ids, weights, err = s.Env.Store.SampleNode(req.NodeType, req.Count)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := SampleNodeResponse{IDs: make([]uint64, len(ids)), Weights: weights}
	for i, id := range ids {
		out.IDs[i] = uint64(id)
	}
	s.writeJSON(w, out)
}

// SampleEdgeRequest asks for Count edges of EdgeType (or the union of
// Types).
type SampleEdgeRequest struct {
	EdgeType int32   `json:"edge_type"`
	Types    []int32 `json:"types,omitempty"`
	Count    int     `json:"count"`
}

// SampleEdgeResponse carries sampled edges as flat (src,dst,type) triples.
type SampleEdgeResponse struct {
	Edges   []int64   `json:"edges"` // len = 3 * sample count
	Weights []float32 `json:"weights"`
}

func (s *Server) handleSampleEdge(w http.ResponseWriter, r *http.Request) {
	var req SampleEdgeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	var (
		ids     []xid.EdgeID
		weights []float32
		err     error
	)
	if len(req.Types) > 0 {
		ids, weights, err = s.Env.Store.SampleEdgeTypes(req.Types, req.Count)
	} else {
		ids, weights, err = s.Env.Store.SampleEdge(req.EdgeType, req.Count)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := SampleEdgeResponse{Edges: make([]int64, 0, len(ids)*3), Weights: weights}
	for _, id := range ids {
		out.Edges = append(out.Edges, int64(id.Src), int64(id.Dst), int64(id.Type))
	}
	s.writeJSON(w, out)
}

// GetNodeTypeRequest looks up the type of each id.
type GetNodeTypeRequest struct {
	IDs []uint64 `json:"ids"`
}

// GetNodeTypeResponse carries one type per requested id; a missing node
// yields -1.
type GetNodeTypeResponse struct {
	Types []int32 `json:"types"`
}

func (s *Server) handleGetNodeType(w http.ResponseWriter, r *http.Request) {
	var req GetNodeTypeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	types := make([]int32, len(req.IDs))
	for i, id := range req.IDs {
		if n, ok := s.Env.Store.GetNodeByID(xid.NodeID(id)); ok {
			types[i] = n.Type
		} else {
			types[i] = -1
		}
	}
	s.writeJSON(w, GetNodeTypeResponse{Types: types})
}

// FeatureRequest addresses node or edge features by name. For edge
// methods, Edges holds flat (src,dst,type) triples instead of IDs.
type FeatureRequest struct {
	IDs          []uint64 `json:"ids,omitempty"`
	Edges        []int64  `json:"edges,omitempty"`
	FeatureNames []string `json:"feature_names"`
}

// FloatFeatureResult is one feature's (idx, values) pair: idx[i*2:i*2+2]
// delimits entity i's values.
type FloatFeatureResult struct {
	Idx    []int64   `json:"idx"`
	Values []float32 `json:"values"`
}

// UInt64FeatureResult mirrors FloatFeatureResult for sparse features.
type UInt64FeatureResult struct {
	Idx    []int64  `json:"idx"`
	Values []uint64 `json:"values"`
}

// BinaryFeatureResult mirrors FloatFeatureResult for binary features; each
// entity's blob is one element.
type BinaryFeatureResult struct {
	Values [][]byte `json:"values"`
}

func (s *Server) edgesOf(req FeatureRequest) []xid.EdgeID {
	out := make([]xid.EdgeID, 0, len(req.Edges)/3)
	for i := 0; i+2 < len(req.Edges); i += 3 {
		out = append(out, xid.EdgeID{
			Src:  xid.NodeID(req.Edges[i]),
			Dst:  xid.NodeID(req.Edges[i+1]),
			Type: int32(req.Edges[i+2]),
		})
	}
	return out
}

// forEachEntity visits the Features block of every requested node (or
// edge, when nodes is false) in request order, passing nil for a missing
// entity so it still contributes an empty row — the §7 contract that a
// foreign or absent id is a normal signal, not an error.
func forEachEntity(s *Server, req FeatureRequest, nodes bool, fn func(*graph.Features)) {
	if nodes {
		for _, id := range req.IDs {
			if n, ok := s.Env.Store.GetNodeByID(xid.NodeID(id)); ok {
				fn(&n.Features)
			} else {
				fn(nil)
			}
		}
		return
	}
	for _, eid := range s.edgesOf(req) {
		if e, ok := s.Env.Store.GetEdgeByID(eid); ok {
			fn(&e.Features)
		} else {
			fn(nil)
		}
	}
}

func (s *Server) handleGetNodeFloat32Feature(w http.ResponseWriter, r *http.Request) {
	s.handleFloat32Feature(w, r, true)
}

func (s *Server) handleGetEdgeFloat32Feature(w http.ResponseWriter, r *http.Request) {
	s.handleFloat32Feature(w, r, false)
}

func (s *Server) handleFloat32Feature(w http.ResponseWriter, r *http.Request, nodes bool) {
	var req FeatureRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	results := make([]FloatFeatureResult, 0, len(req.FeatureNames))
	for _, name := range req.FeatureNames {
		feat, ok := s.Env.Store.Meta.Feature(name)
		var res FloatFeatureResult
		var cursor int64
		forEachEntity(s, req, nodes, func(f *graph.Features) {
			var vals []float32
			if ok && f != nil {
				vals = f.Dense.F32Values(int(feat.ID))
			}
			res.Idx = append(res.Idx, cursor, cursor+int64(len(vals)))
			cursor += int64(len(vals))
			res.Values = append(res.Values, vals...)
		})
		results = append(results, res)
	}
	s.writeJSON(w, results)
}

func (s *Server) handleGetNodeUInt64Feature(w http.ResponseWriter, r *http.Request) {
	s.handleUInt64Feature(w, r, true)
}

func (s *Server) handleGetEdgeUInt64Feature(w http.ResponseWriter, r *http.Request) {
	s.handleUInt64Feature(w, r, false)
}

func (s *Server) handleUInt64Feature(w http.ResponseWriter, r *http.Request, nodes bool) {
	var req FeatureRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	results := make([]UInt64FeatureResult, 0, len(req.FeatureNames))
	for _, name := range req.FeatureNames {
		feat, ok := s.Env.Store.Meta.Feature(name)
		var res UInt64FeatureResult
		var cursor int64
		forEachEntity(s, req, nodes, func(f *graph.Features) {
			var vals []uint64
			if ok && f != nil {
				vals = f.Sparse.U64Values(int(feat.ID))
			}
			res.Idx = append(res.Idx, cursor, cursor+int64(len(vals)))
			cursor += int64(len(vals))
			res.Values = append(res.Values, vals...)
		})
		results = append(results, res)
	}
	s.writeJSON(w, results)
}

func (s *Server) handleGetNodeBinaryFeature(w http.ResponseWriter, r *http.Request) {
	s.handleBinaryFeature(w, r, true)
}

func (s *Server) handleGetEdgeBinaryFeature(w http.ResponseWriter, r *http.Request) {
	s.handleBinaryFeature(w, r, false)
}

func (s *Server) handleBinaryFeature(w http.ResponseWriter, r *http.Request, nodes bool) {
	var req FeatureRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	results := make([]BinaryFeatureResult, 0, len(req.FeatureNames))
	for _, name := range req.FeatureNames {
		feat, ok := s.Env.Store.Meta.Feature(name)
		var res BinaryFeatureResult
		forEachEntity(s, req, nodes, func(f *graph.Features) {
			var val []byte
			if ok && f != nil {
				val = f.Binary.BinValue(int(feat.ID))
			}
			res.Values = append(res.Values, val)
		})
		results = append(results, res)
	}
	s.writeJSON(w, results)
}

// NeighborRequest addresses neighbor queries by root ids and edge types.
type NeighborRequest struct {
	IDs         []uint64 `json:"ids"`
	EdgeTypes   []int32  `json:"edge_types"`
	K           int      `json:"k,omitempty"`            // GetTopKNeighbor only
	Count       int      `json:"count,omitempty"`        // SampleNeighbor only
	DefaultNode uint64   `json:"default_node,omitempty"` // SampleNeighbor only
}

// NeighborResponse carries per-root neighbor runs: idx[i*2:i*2+2] delimits
// root i's rows within the flat Neighbors/Weights/Types arrays.
type NeighborResponse struct {
	Idx       []int64   `json:"idx"`
	Neighbors []uint64  `json:"neighbors"`
	Weights   []float32 `json:"weights"`
	Types     []int32   `json:"types"`
}

func (s *Server) handleGetFullNeighbor(w http.ResponseWriter, r *http.Request) {
	s.neighborQuery(w, r, func(req NeighborRequest, id xid.NodeID) []graph.NeighborRow {
		return (s.Env.Store.GetFullNeighbor(id, req.EdgeTypes))
	})
}

func (s *Server) handleGetSortedNeighbor(w http.ResponseWriter, r *http.Request) {
	s.neighborQuery(w, r, func(req NeighborRequest, id xid.NodeID) []graph.NeighborRow {
		return (s.Env.Store.GetSortedFullNeighbor(id, req.EdgeTypes))
	})
}

func (s *Server) handleGetTopKNeighbor(w http.ResponseWriter, r *http.Request) {
	s.neighborQuery(w, r, func(req NeighborRequest, id xid.NodeID) []graph.NeighborRow {
		return (s.Env.Store.GetTopKNeighbor(id, req.EdgeTypes, req.K))
	})
}

func (s *Server) handleSampleNeighbor(w http.ResponseWriter, r *http.Request) {
	s.neighborQuery(w, r, func(req NeighborRequest, id xid.NodeID) []graph.NeighborRow {
		rows, _ := s.Env.Store.SampleNeighbor(id, req.EdgeTypes, req.Count)
		if len(rows) == 0 && req.Count > 0 {
			// Fill with default_node at weight 0, type 0, matching
			// API_SAMPLE_NB's empty-row contract.
			out := make([]graph.NeighborRow, req.Count)
			for i := range out {
				out[i] = graph.NeighborRow{ID: xid.NodeID(req.DefaultNode)}
			}
			return out
		}
		return (rows)
	})
}

func (s *Server) neighborQuery(w http.ResponseWriter, r *http.Request, fn func(NeighborRequest, xid.NodeID) []graph.NeighborRow) {
	var req NeighborRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	var resp NeighborResponse
	var cursor int64
	for _, id := range req.IDs {
		rows := fn(req, xid.NodeID(id))
		resp.Idx = append(resp.Idx, cursor, cursor+int64(len(rows)))
		cursor += int64(len(rows))
		for _, row := range rows {
			resp.Neighbors = append(resp.Neighbors, uint64(row.ID))
			resp.Weights = append(resp.Weights, row.Weight)
			resp.Types = append(resp.Types, row.Type)
		}
	}
	s.writeJSON(w, resp)
}
