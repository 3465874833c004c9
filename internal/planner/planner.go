// Package planner implements Euler's client-side query planner: it takes
// a single operator DAG, rewrites every remotely executable operator into
// a split / per-shard-stub / merge triple, dispatches the per-shard
// sub-DAGs through the fan-out pool, and reassembles shard outputs into
// the caller's tensor namespace using merge-index tensors emitted at the
// split sites (spec §4.7).
//
// The rewrite is staged: operators whose producers have all completed
// form a round; each round's remote operators are batched into one
// sub-DAG per shard (one streaming request per shard per round), merged
// locally by the *_MERGE kernels, and their outputs aliased back under
// the original "<name>:<k>" names so downstream consumers never know the
// operator ran remotely.
package planner

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/dreamware/euler/internal/dagexec"
	"github.com/dreamware/euler/internal/eulererr"
	"github.com/dreamware/euler/internal/fanout"
	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/registry"
	"github.com/dreamware/euler/internal/rpcwire"
	"github.com/dreamware/euler/internal/tensor"
	"github.com/dreamware/euler/internal/xid"
)

// Planner fans a query DAG out across a shard cluster.
type Planner struct {
	Kernels       *kernel.Registry
	Pool          *fanout.Pool
	NumShards     int
	NumPartitions int
	// Clients maps shard index to its RPC handle; a shard missing here is
	// treated as unavailable.
	Clients map[int]*rpcwire.Client
	// Shards, when set, is consulted for availability and receives
	// MarkUnavailable on dispatch failure.
	Shards *registry.Registry
	// Weights carries each shard's per-type sampling weights, used to
	// apportion counts for type-weighted splits so global sampling stays
	// probability-correct (spec §1, §4.7).
	Weights map[int]registry.ShardMeta

	// localEnv is the storeless environment merge and local kernels run
	// in; none of them touch the graph store.
	localEnv kernel.Env
}

// New constructs a Planner over the given cluster view.
func New(kernels *kernel.Registry, pool *fanout.Pool, numShards, numPartitions int, clients map[int]*rpcwire.Client) *Planner {
	return &Planner{
		Kernels:       kernels,
		Pool:          pool,
		NumShards:     numShards,
		NumPartitions: numPartitions,
		Clients:       clients,
	}
}

// availableShards returns the dispatchable shard indexes in ascending
// order: those with a client and not marked unavailable.
func (p *Planner) availableShards() []int {
	var out []int
	for idx := range p.Clients {
		if p.Shards != nil && !p.Shards.IsAvailable(idx) {
			continue
		}
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// Execute runs dag to completion: local operators inline, remote
// operators via split / fan-out / merge. The returned map holds the
// requested output tensors; on error the map is nil and no partial
// results are exposed (spec §7).
func (p *Planner) Execute(ctx context.Context, dag dagexec.DAG, inputs map[string]*tensor.Tensor, outputs []string) (map[string]*tensor.Tensor, error) {
	tctx := tensor.NewContext()
	for name, t := range inputs {
		tctx.Put(name, t)
	}

	done := make(map[string]bool, len(dag.Nodes))
	remaining := len(dag.Nodes)
	for remaining > 0 {
		var localReady, remoteReady []kernel.Spec
		for _, n := range dag.Nodes {
			if done[n.Name] || !p.ready(n, done, dag) {
				continue
			}
			if p.isRemote(n.Op) {
				remoteReady = append(remoteReady, n)
			} else {
				localReady = append(localReady, n)
			}
		}
		if len(localReady) == 0 && len(remoteReady) == 0 {
			return nil, eulererr.New(eulererr.InvalidArgument, "planner: dag has a dependency cycle or an unbound producer")
		}

		for _, n := range localReady {
			if err := p.runLocal(n, tctx); err != nil {
				return nil, err
			}
			done[n.Name] = true
			remaining--
		}
		if len(remoteReady) > 0 {
			if err := p.runRemoteRound(ctx, remoteReady, tctx); err != nil {
				return nil, err
			}
			for _, n := range remoteReady {
				done[n.Name] = true
				remaining--
			}
		}
	}

	result := make(map[string]*tensor.Tensor, len(outputs))
	for _, name := range outputs {
		t, ok := tctx.Get(name)
		if !ok {
			return nil, eulererr.New(eulererr.InvalidArgument, "planner: requested output %q was never produced", name)
		}
		result[name] = t
	}
	return result, nil
}

// ready reports whether every producer named in n's inputs has completed.
// Inputs without a known producer are request inputs.
func (p *Planner) ready(n kernel.Spec, done map[string]bool, dag dagexec.DAG) bool {
	names := make(map[string]bool, len(dag.Nodes))
	for _, m := range dag.Nodes {
		names[m.Name] = true
	}
	for _, in := range n.Inputs {
		if i := lastColon(in); i >= 0 {
			producer := in[:i]
			if names[producer] && !done[producer] {
				return false
			}
		}
	}
	return true
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// isRemote reports whether op carries a declared split strategy (spec
// §4.7 point 1).
func (p *Planner) isRemote(op string) bool {
	return p.Kernels.SplitStrategyOf(op) != kernel.NoSplit
}

// runLocal executes one local (unsplittable) operator against the shared
// context. Async kernels are parked on a channel, never spun on.
func (p *Planner) runLocal(n kernel.Spec, tctx *tensor.Context) error {
	if asyncFn, ok := p.Kernels.GetAsync(n.Op); ok {
		result := make(chan error, 1)
		asyncFn(p.localEnv, tctx, n, func(err error) { result <- err })
		return <-result
	}
	return p.Kernels.Run(p.localEnv, tctx, n)
}

// splitResult is one remote operator's split site: per-shard input
// tensors plus the merge-index bookkeeping the merge node consumes.
type splitResult struct {
	// perShard maps shard index to that shard's synthesized input
	// tensors, keyed by the names the remote stub will reference.
	perShard map[int]map[string]*tensor.Tensor
	// mergeIdx maps shard index to the original-row position of each
	// shard-local row (spec §4.7's companion merge-index tensor).
	mergeIdx map[int][]int64
	// totalRows is the pre-split row count the merge node restores.
	totalRows int
	// foreign marks original rows that were never dispatched to any
	// shard (owner shard unavailable); the merge leaves their slots at
	// the sentinel/empty value (SPEC_FULL §4.17).
	foreign *bitset.BitSet
}

// runRemoteRound splits every ready remote operator, dispatches one
// sub-DAG per shard, and merges the results back into tctx.
func (p *Planner) runRemoteRound(ctx context.Context, nodes []kernel.Spec, tctx *tensor.Context) error {
	shards := p.availableShards()
	if len(shards) == 0 {
		return eulererr.New(eulererr.Unavailable, "planner: no shard available for dispatch")
	}

	splits := make(map[string]*splitResult, len(nodes))
	shardDAGs := make(map[int]*dagexec.DAG)
	shardInputs := make(map[int]map[string]*tensor.Tensor)
	shardOutputs := make(map[int][]string)

	for _, n := range nodes {
		split, stub, err := p.splitNode(n, shards, tctx)
		if err != nil {
			return err
		}
		splits[n.Name] = split
		outs := p.outputNames(n, tctx)
		for shard, ins := range split.perShard {
			if shardDAGs[shard] == nil {
				shardDAGs[shard] = &dagexec.DAG{}
				shardInputs[shard] = make(map[string]*tensor.Tensor)
			}
			shardDAGs[shard].Nodes = append(shardDAGs[shard].Nodes, stub)
			for name, t := range ins {
				shardInputs[shard][name] = t
			}
			shardOutputs[shard] = append(shardOutputs[shard], outs...)
		}
	}

	var calls []fanout.ShardCall
	for _, shard := range shards {
		dag, ok := shardDAGs[shard]
		if !ok {
			continue
		}
		calls = append(calls, fanout.ShardCall{
			ShardIndex: shard,
			Client:     p.Clients[shard],
			DAG:        *dag,
			Inputs:     shardInputs[shard],
			Outputs:    shardOutputs[shard],
		})
	}

	perShard, err := p.Pool.ExecuteAll(ctx, calls)
	if err != nil {
		if p.Shards != nil && eulererr.CodeOf(err) == eulererr.Unavailable {
			for _, c := range calls {
				if _, ok := perShard[c.ShardIndex]; !ok {
					p.Shards.MarkUnavailable(c.ShardIndex)
				}
			}
		}
		logrus.WithError(err).Error("planner: fan-out failed")
		return err
	}

	for _, n := range nodes {
		if err := p.mergeNode(n, splits[n.Name], perShard, tctx); err != nil {
			return err
		}
	}
	return nil
}

// splitNode partitions n's inputs per its declared strategy and returns
// the per-shard split plus the stub node every shard executes. The stub
// keeps n's name so shard-side outputs come back as "<name>:<k>".
func (p *Planner) splitNode(n kernel.Spec, shards []int, tctx *tensor.Context) (*splitResult, kernel.Spec, error) {
	stub := n
	stub.Inputs = make([]string, len(n.Inputs))
	resolved := make([]*tensor.Tensor, len(n.Inputs))
	for i, in := range n.Inputs {
		stub.Inputs[i] = synthName(n.Name, i)
		if in == "" {
			stub.Inputs[i] = ""
			continue
		}
		t, ok := tctx.Get(in)
		if !ok {
			return nil, stub, eulererr.New(eulererr.InvalidArgument, "planner: input %q of node %q is not bound", in, n.Name)
		}
		resolved[i] = t
	}

	switch p.Kernels.SplitStrategyOf(n.Op) {
	case kernel.SplitByNodeHash:
		return p.splitByNodeHash(n, stub, resolved, shards)
	case kernel.SplitByTypeWeight:
		return p.splitByTypeWeight(n, stub, resolved, shards)
	default: // SplitBroadcast
		return p.splitBroadcast(n, stub, resolved, shards)
	}
}

// synthName is the wire name input i of node travels under; it carries
// no colon so a shard-side executor treats it as a request input.
func synthName(node string, i int) string {
	return node + "/in" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [8]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// splitByNodeHash partitions the id tensor (input 0 by convention) so
// each row travels only to its owning shard; remaining inputs broadcast.
func (p *Planner) splitByNodeHash(n kernel.Spec, stub kernel.Spec, resolved []*tensor.Tensor, shards []int) (*splitResult, kernel.Spec, error) {
	idsT := resolved[0]
	if idsT == nil {
		return nil, stub, eulererr.New(eulererr.InvalidArgument, "planner: node %q needs an id input to hash-split", n.Name)
	}
	ids := idValues(idsT)

	available := make(map[int]bool, len(shards))
	for _, s := range shards {
		available[s] = true
	}

	split := &splitResult{
		perShard:  make(map[int]map[string]*tensor.Tensor),
		mergeIdx:  make(map[int][]int64),
		totalRows: len(ids),
		foreign:   bitset.New(uint(len(ids))),
	}
	rows := make(map[int][]uint64)
	for i, id := range ids {
		shard := p.ownerShard(id)
		if !available[shard] {
			split.foreign.Set(uint(i))
			continue
		}
		rows[shard] = append(rows[shard], id)
		split.mergeIdx[shard] = append(split.mergeIdx[shard], int64(i))
	}

	if split.foreign.Any() && !p.Kernels.ToleratesForeignIDs(n.Op) {
		return nil, stub, eulererr.New(eulererr.Unavailable, "planner: %d row(s) of node %q map to unavailable shards", split.foreign.Count(), n.Name)
	}

	for shard, shardIDs := range rows {
		ins := make(map[string]*tensor.Tensor)
		idName := synthName(n.Name, 0)
		ins[idName] = tensor.FromUint64(idName, shardIDs)
		for i := 1; i < len(resolved); i++ {
			if resolved[i] == nil {
				continue
			}
			name := synthName(n.Name, i)
			ins[name] = renamed(resolved[i], name)
		}
		split.perShard[shard] = ins
	}
	return split, stub, nil
}

// splitByTypeWeight apportions a sample count across shards proportional
// to their registered per-type sum-of-weights, keeping global sampling
// probability-correct (spec §1, §4.9).
func (p *Planner) splitByTypeWeight(n kernel.Spec, stub kernel.Spec, resolved []*tensor.Tensor, shards []int) (*splitResult, kernel.Spec, error) {
	split := &splitResult{
		perShard: make(map[int]map[string]*tensor.Tensor),
		mergeIdx: make(map[int][]int64),
	}

	if n.Op == "API_SAMPLE_N_WITH_TYPES" {
		return p.splitSampleNWithTypes(n, stub, resolved, shards, split)
	}

	typ := int32(-1)
	if resolved[0] != nil {
		typ = int32(firstIntOf(resolved[0]))
	}
	count := int(firstIntOf(resolved[1]))
	counts := p.apportion(count, typ, n.Op == "API_SAMPLE_EDGE", shards)
	split.totalRows = count

	var cursor int64
	for i, shard := range shards {
		if counts[i] == 0 {
			continue
		}
		ins := make(map[string]*tensor.Tensor)
		for j, t := range resolved {
			if t == nil {
				continue
			}
			name := synthName(n.Name, j)
			if j == 1 {
				ins[name] = tensor.FromInt64(name, []int64{int64(counts[i])})
			} else {
				ins[name] = renamed(t, name)
			}
		}
		split.perShard[shard] = ins
		for r := 0; r < counts[i]; r++ {
			split.mergeIdx[shard] = append(split.mergeIdx[shard], cursor)
			cursor++
		}
	}
	return split, stub, nil
}

// splitSampleNWithTypes splits each per-type count independently; the
// merge restores one row per requested type.
func (p *Planner) splitSampleNWithTypes(n kernel.Spec, stub kernel.Spec, resolved []*tensor.Tensor, shards []int, split *splitResult) (*splitResult, kernel.Spec, error) {
	typesT, countsT := resolved[0], resolved[1]
	if typesT == nil || countsT == nil {
		return nil, stub, eulererr.New(eulererr.InvalidArgument, "planner: node %q needs types and counts inputs", n.Name)
	}
	types := int32Values(typesT)
	counts := int32Values(countsT)
	split.totalRows = len(types)

	perShardCounts := make(map[int][]int32)
	for i, t := range types {
		c := 0
		if i < len(counts) {
			c = int(counts[i])
		}
		alloc := p.apportion(c, t, false, shards)
		for j, shard := range shards {
			perShardCounts[shard] = append(perShardCounts[shard], int32(alloc[j]))
		}
	}

	for _, shard := range shards {
		ins := make(map[string]*tensor.Tensor)
		tName := synthName(n.Name, 0)
		cName := synthName(n.Name, 1)
		ins[tName] = renamed(typesT, tName)
		ins[cName] = tensor.FromInt32(cName, perShardCounts[shard])
		split.perShard[shard] = ins
		for r := 0; r < len(types); r++ {
			split.mergeIdx[shard] = append(split.mergeIdx[shard], int64(r))
		}
	}
	return split, stub, nil
}

// splitBroadcast copies every input to every shard; the merge index is
// the identity since each shard answers over the full input.
func (p *Planner) splitBroadcast(n kernel.Spec, stub kernel.Spec, resolved []*tensor.Tensor, shards []int) (*splitResult, kernel.Spec, error) {
	rowsOf := 0
	if resolved[0] != nil {
		rowsOf = resolved[0].Len()
	}
	split := &splitResult{
		perShard:  make(map[int]map[string]*tensor.Tensor),
		mergeIdx:  make(map[int][]int64),
		totalRows: rowsOf,
	}
	identity := make([]int64, rowsOf)
	for i := range identity {
		identity[i] = int64(i)
	}
	for _, shard := range shards {
		ins := make(map[string]*tensor.Tensor)
		for i, t := range resolved {
			if t == nil {
				continue
			}
			name := synthName(n.Name, i)
			ins[name] = renamed(t, name)
		}
		split.perShard[shard] = ins
		split.mergeIdx[shard] = identity
	}
	return split, stub, nil
}

// apportion distributes count draws across shards proportional to their
// registered weight for typ, using largest remainders so the shares sum
// exactly to count. With no registered weights every shard gets an equal
// share.
func (p *Planner) apportion(count int, typ int32, edges bool, shards []int) []int {
	weights := make([]float64, len(shards))
	var total float64
	for i, shard := range shards {
		w := p.shardWeight(shard, typ, edges)
		weights[i] = w
		total += w
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(shards))
	}

	out := make([]int, len(shards))
	type rem struct {
		idx  int
		frac float64
	}
	var rems []rem
	assigned := 0
	for i, w := range weights {
		exact := float64(count) * w / total
		out[i] = int(exact)
		assigned += out[i]
		rems = append(rems, rem{idx: i, frac: exact - float64(out[i])})
	}
	sort.Slice(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < count; i++ {
		out[rems[i%len(rems)].idx]++
		assigned++
	}
	return out
}

func (p *Planner) shardWeight(shard int, typ int32, edges bool) float64 {
	meta, ok := p.Weights[shard]
	if !ok {
		return 0
	}
	m := meta.NodeSumWeight
	if edges {
		m = meta.EdgeSumWeight
	}
	if typ == -1 {
		var sum float64
		for _, w := range m {
			sum += w
		}
		return sum
	}
	return m[typ]
}

// ownerShard resolves a node id to the shard owning its partition.
func (p *Planner) ownerShard(id uint64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	partition := xid.PartitionOf(buf[:], p.NumPartitions)
	return xid.ShardOf(partition, p.NumShards)
}

// idValues reads an id tensor as raw uint64s regardless of signedness.
func idValues(t *tensor.Tensor) []uint64 {
	switch t.DType {
	case tensor.UINT64:
		return t.U64
	case tensor.INT64:
		out := make([]uint64, len(t.I64))
		for i, v := range t.I64 {
			out[i] = uint64(v)
		}
		return out
	}
	return nil
}

func int32Values(t *tensor.Tensor) []int32 {
	switch t.DType {
	case tensor.INT32:
		return t.I32
	case tensor.INT64:
		out := make([]int32, len(t.I64))
		for i, v := range t.I64 {
			out[i] = int32(v)
		}
		return out
	}
	return nil
}

func firstIntOf(t *tensor.Tensor) int64 {
	if t == nil {
		return 0
	}
	switch t.DType {
	case tensor.INT32:
		if len(t.I32) > 0 {
			return int64(t.I32[0])
		}
	case tensor.INT64:
		if len(t.I64) > 0 {
			return t.I64[0]
		}
	case tensor.UINT64:
		if len(t.U64) > 0 {
			return int64(t.U64[0])
		}
	}
	return 0
}

// renamed shallow-copies t under a new name; the data is shared, only
// the wire identity changes.
func renamed(t *tensor.Tensor, name string) *tensor.Tensor {
	cp := *t
	cp.Name = name
	return &cp
}
