package kernel

import (
	"fmt"
	"sync"

	"github.com/dreamware/euler/internal/eulererr"
	"github.com/dreamware/euler/internal/graph"
	"github.com/dreamware/euler/internal/tensor"
)

// Env bundles the per-shard resources a kernel needs beyond its Spec and
// Context: the immutable graph store it reads and the index manager it
// resolves dnf clauses through.
type Env struct {
	Store   *graph.Store
	Indexes *graph.IndexManager
}

// Func is one kernel's implementation: validate inputs, allocate outputs
// under "<name>:<k>" in ctx, and report failure per the declared contract
// (spec §4.5) — never panic on semantically empty input; reserve actual
// errors for shape mismatches the caller cannot reconcile.
type Func func(env Env, ctx *tensor.Context, spec Spec) error

// AsyncFunc is the async-kernel shape spec §4.6 calls for: it returns
// immediately and reports completion through done, possibly from a worker
// goroutine distinct from the one that called it. A DAG executor must not
// block its own goroutine waiting out the callback inline; it parks on a
// channel instead (see dagexec.Executor.Run).
type AsyncFunc func(env Env, ctx *tensor.Context, spec Spec, done func(error))

// SplitStrategy names how the planner partitions a remote operator's
// inputs across shards (spec §4.7).
type SplitStrategy int

const (
	// NoSplit marks an operator that always runs locally (merge kernels,
	// and any operator the registry has not declared a strategy for).
	NoSplit SplitStrategy = iota
	// SplitByNodeHash routes each node-id input to its owning shard: the
	// id's hash selects a partition, and partition mod shard_count selects
	// the shard.
	SplitByNodeHash
	// SplitByTypeWeight partitions type-only inputs by edge_type-weighted
	// sampling across shards.
	SplitByTypeWeight
	// SplitBroadcast sends the full input to every shard; each shard
	// answers for the entities it owns and the merge reassembles. Used
	// where the input carries no per-shard routing information (edge UIDs,
	// graph labels).
	SplitBroadcast
)

// entry pairs a kernel with the metadata the planner needs to decide
// whether and how to split it remotely.
type entry struct {
	fn        Func
	asyncFn   AsyncFunc
	split     SplitStrategy
	mergeOp   string
	foreignOK bool
}

// Registry is a name → kernel mapping, thread-safe for concurrent reads
// after construction (every shard server shares one process-wide
// registry, built once at start-up).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a kernel under op name with the given split strategy. A
// non-empty mergeOp is recorded and reported by MergeOpOf; the planner's
// merge step chooses its merge kernel per op itself and does not read it.
// foreignOK marks an operator that tolerates ids not owned by the local
// shard (spec §4.7 point 4).
func (r *Registry) Register(op string, fn Func, split SplitStrategy, mergeOp string, foreignOK bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[op] = entry{fn: fn, split: split, mergeOp: mergeOp, foreignOK: foreignOK}
}

// RegisterAsync adds an async kernel under op, for operators the shard
// wants to hand off to a worker thread rather than run to completion
// inline (spec §4.6). A single op never carries both a sync and an async
// implementation; Register and RegisterAsync are mutually exclusive per op.
func (r *Registry) RegisterAsync(op string, fn AsyncFunc, split SplitStrategy, mergeOp string, foreignOK bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[op] = entry{asyncFn: fn, split: split, mergeOp: mergeOp, foreignOK: foreignOK}
}

// Get resolves op to its kernel function.
func (r *Registry) Get(op string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[op]
	if !ok || e.fn == nil {
		return nil, false
	}
	return e.fn, true
}

// GetAsync resolves op to its async kernel function, if it was registered
// via RegisterAsync rather than Register.
func (r *Registry) GetAsync(op string) (AsyncFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[op]
	if !ok || e.asyncFn == nil {
		return nil, false
	}
	return e.asyncFn, true
}

// SplitStrategyOf reports the declared split strategy for op, or NoSplit
// if op is unregistered or never declared remote.
func (r *Registry) SplitStrategyOf(op string) SplitStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[op].split
}

// MergeOpOf returns the merge kernel name paired with op, if any.
func (r *Registry) MergeOpOf(op string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[op]
	if !ok || e.mergeOp == "" {
		return "", false
	}
	return e.mergeOp, true
}

// ToleratesForeignIDs reports whether op is declared safe to run on a
// shard for ids that shard does not own (spec §4.7 point 4).
func (r *Registry) ToleratesForeignIDs(op string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[op].foreignOK
}

// Run resolves and invokes the kernel named by spec.Op, returning an
// InvalidArgument status for an unknown op (spec §7).
func (r *Registry) Run(env Env, ctx *tensor.Context, spec Spec) error {
	fn, ok := r.Get(spec.Op)
	if !ok {
		return eulererr.New(eulererr.InvalidArgument, "unknown kernel op %q", spec.Op)
	}
	return fn(env, ctx, spec)
}

// asyncify wraps a synchronous kernel so it runs on its own goroutine and
// reports completion through done, giving a kernel the async shape without
// a bespoke implementation — used for kernels worth moving off the request
// goroutine but whose logic is otherwise identical to the sync form.
func asyncify(fn Func) AsyncFunc {
	return func(env Env, ctx *tensor.Context, spec Spec, done func(error)) {
		go func() { done(fn(env, ctx, spec)) }()
	}
}

// outputName synthesizes the "<name>:<k>" tensor name a kernel's k-th
// output is bound under (spec §4.6).
func outputName(spec Spec, k int) string {
	return fmt.Sprintf("%s:%d", spec.Name, k)
}

// NewDefaultRegistry builds a Registry with every kernel this package
// implements registered under its spec-assigned name and split strategy.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("API_SAMPLE_NODE", kernelSampleNode, SplitByTypeWeight, "REGULAR_DATA_MERGE", true)
	r.Register("API_SAMPLE_EDGE", kernelSampleEdge, SplitByTypeWeight, "REGULAR_DATA_MERGE", true)
	r.Register("API_GET_NODE", kernelGetNode, SplitByNodeHash, "DATA_MERGE", true)
	r.Register("API_GET_EDGE", kernelGetEdge, SplitBroadcast, "DATA_ROW_APPEND_MERGE", true)
	r.Register("API_GET_NODE_T", kernelGetNodeT, SplitByNodeHash, "REGULAR_DATA_MERGE", true)
	r.Register("API_GET_P", kernelGetP, SplitByNodeHash, "GP_DATA_MERGE", true)
	r.Register("API_GET_NB_NODE", kernelGetNbNode, SplitByNodeHash, "GP_DATA_MERGE", true)
	r.Register("API_GET_NB_EDGE", kernelGetNbEdge, SplitByNodeHash, "GP_DATA_MERGE", true)
	r.Register("API_SAMPLE_NB", kernelSampleNb, SplitByNodeHash, "DATA_ROW_APPEND_MERGE", true)
	r.Register("API_SAMPLE_N_WITH_TYPES", kernelSampleNWithTypes, SplitByTypeWeight, "GP_DATA_MERGE", true)
	r.Register("API_GET_EDGE_SUM_WEIGHT", kernelGetEdgeSumWeight, SplitByNodeHash, "REGULAR_DATA_MERGE", true)
	r.Register("API_SAMPLE_L", kernelSampleL, SplitByNodeHash, "DATA_ROW_APPEND_MERGE", true)
	r.Register("API_LOCAL_SAMPLE_L", kernelLocalSampleL, NoSplit, "", false)
	r.Register("API_SAMPLE_ROOT", kernelSampleRoot, NoSplit, "", false)
	r.Register("API_SPARSE_GEN_ADJ", kernelSparseGenAdj, NoSplit, "", false)
	r.Register("API_SPARSE_GET_ADJ", kernelSparseGetAdj, SplitByNodeHash, "GP_DATA_MERGE", true)
	r.Register("API_SAMPLE_GRAPH_LABEL", kernelSampleGraphLabel, SplitBroadcast, "DATA_ROW_APPEND_MERGE", true)
	// API_GET_GRAPH_BY_LABEL scans every node carrying a requested label;
	// on a shard with a large label index this is the one kernel worth
	// handing off to a worker goroutine rather than running inline on the
	// request goroutine (spec §4.6's async kernel shape).
	r.RegisterAsync("API_GET_GRAPH_BY_LABEL", asyncify(kernelGetGraphByLabel), SplitBroadcast, "DATA_MERGE", true)

	r.Register("DATA_MERGE", kernelDataMerge, NoSplit, "", false)
	r.Register("GP_DATA_MERGE", kernelGPDataMerge, NoSplit, "", false)
	r.Register("DATA_ROW_APPEND_MERGE", kernelDataRowAppendMerge, NoSplit, "", false)
	r.Register("REGULAR_DATA_MERGE", kernelRegularDataMerge, NoSplit, "", false)
	r.Register("GP_REGULAR_DATA_MERGE", kernelGPRegularDataMerge, NoSplit, "", false)

	RegisterDefaultUDFs()
	return r
}
