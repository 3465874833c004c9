package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dreamware/euler/internal/rng"
	"github.com/dreamware/euler/internal/sampler"
)

// IndexResult is a weighted set of UIDs (a NodeID for a node index, or
// hash(EdgeID) for an edge index), supporting the set algebra DNF
// evaluation needs and weighted sampling over the surviving set (spec
// §4.4).
type IndexResult struct {
	ids     []int64
	weights []float32
}

// NewIndexResult builds a result from parallel id/weight slices. The
// caller is expected to hand over slices it owns; IndexResult never
// mutates them in place (Intersection/Union always allocate fresh slices)
// so a result view can be shared safely.
func NewIndexResult(ids []int64, weights []float32) *IndexResult {
	return &IndexResult{ids: ids, weights: weights}
}

// GetIds returns the result's ids, in their stored order.
func (r *IndexResult) GetIds() []int64 { return r.ids }

// GetWeights returns the result's per-id weights, parallel to GetIds.
func (r *IndexResult) GetWeights() []float32 { return r.weights }

// Size returns the number of ids in the result.
func (r *IndexResult) Size() int { return len(r.ids) }

// Intersection returns the set of ids present in both r and other,
// weighted by the product of each side's weight — matching the "intersect
// per-triple index results" evaluation rule (spec §4.4).
func (r *IndexResult) Intersection(other *IndexResult) *IndexResult {
	idx := make(map[int64]float32, other.Size())
	for i, id := range other.ids {
		idx[id] = other.weights[i]
	}
	var ids []int64
	var weights []float32
	for i, id := range r.ids {
		if w, ok := idx[id]; ok {
			ids = append(ids, id)
			weights = append(weights, r.weights[i]*w)
		}
	}
	return &IndexResult{ids: ids, weights: weights}
}

// Union returns the set of ids present in r or other. An id present in
// both keeps the larger of the two weights, matching "union across
// clauses" where a duplicate match should not be double-counted (spec
// §4.4).
func (r *IndexResult) Union(other *IndexResult) *IndexResult {
	idx := make(map[int64]float32, r.Size()+other.Size())
	order := make([]int64, 0, r.Size()+other.Size())
	for i, id := range r.ids {
		if _, ok := idx[id]; !ok {
			order = append(order, id)
		}
		idx[id] = r.weights[i]
	}
	for i, id := range other.ids {
		if w, ok := idx[id]; !ok {
			order = append(order, id)
			idx[id] = other.weights[i]
		} else if other.weights[i] > w {
			idx[id] = other.weights[i]
		}
	}
	ids := make([]int64, len(order))
	weights := make([]float32, len(order))
	for i, id := range order {
		ids[i] = id
		weights[i] = idx[id]
	}
	return &IndexResult{ids: ids, weights: weights}
}

// Sample draws count ids weighted by their stored weight, per spec §4.4.
func (r *IndexResult) Sample(count int) ([]int64, []float32, error) {
	coll := sampler.NewCompact(r.ids, r.weights)
	out := make([]int64, 0, count)
	outW := make([]float32, 0, count)
	rnd := rng.Borrow()
	defer rng.Release(rnd)
	for i := 0; i < count; i++ {
		id, w, err := coll.Sample(rnd)
		if err != nil {
			return out, outW, err
		}
		out = append(out, id)
		outW = append(outW, w)
	}
	return out, outW, nil
}

// --- single-field index --------------------------------------------------

// FieldIndex maps a stringified feature value to the weighted set of ids
// carrying it, e.g. "city:Boston" → node ids of Boston-located nodes (spec
// §4.4).
type FieldIndex struct {
	Field       string
	byValue     map[string]*IndexResult
	neighborKey bool // true when entries are keyed "<root_id>::<value>"
}

// NewFieldIndex constructs an empty index over the named field.
// neighborKey marks a hash-range index used as a *neighbor* index, whose
// entries are keyed by "<root_id>::<value>" rather than bare values (spec
// §4.4's "the planner detects this by a prefix registered in the index
// metadata").
func NewFieldIndex(field string, neighborKey bool) *FieldIndex {
	return &FieldIndex{Field: field, byValue: make(map[string]*IndexResult), neighborKey: neighborKey}
}

// IsNeighborIndex reports whether this index is a neighbor index, so the
// planner can route a DAG node's dnf lookups accordingly.
func (f *FieldIndex) IsNeighborIndex() bool { return f.neighborKey }

// Put registers id (weight w) under the given stringified value.
func (f *FieldIndex) Put(value string, id int64, w float32) {
	r, ok := f.byValue[value]
	if !ok {
		f.byValue[value] = &IndexResult{ids: []int64{id}, weights: []float32{w}}
		return
	}
	r.ids = append(r.ids, id)
	r.weights = append(r.weights, w)
}

// Lookup returns the IndexResult for an exact value match, or an empty
// result if the value was never indexed.
func (f *FieldIndex) Lookup(value string) *IndexResult {
	if r, ok := f.byValue[value]; ok {
		return r
	}
	return &IndexResult{}
}

// LookupNeighbor resolves a neighbor-index entry keyed "rootID::value".
func (f *FieldIndex) LookupNeighbor(rootID int64, value string) *IndexResult {
	return f.Lookup(fmt.Sprintf("%d::%s", rootID, value))
}

// LookupCompare returns the union of every value satisfying `value op
// token`. Values that parse as numbers compare numerically ("10" > "2"),
// everything else falls back to string ordering, so a price index keyed
// by stringified floats still answers "price gt 2" correctly.
func (f *FieldIndex) LookupCompare(op Op, token string) *IndexResult {
	want, wantErr := strconv.ParseFloat(token, 64)
	out := &IndexResult{}
	for k, r := range f.byValue {
		var cmp int
		if got, err := strconv.ParseFloat(k, 64); wantErr == nil && err == nil {
			switch {
			case got < want:
				cmp = -1
			case got > want:
				cmp = 1
			}
		} else {
			cmp = strings.Compare(k, token)
		}
		keep := false
		switch op {
		case OpGt:
			keep = cmp > 0
		case OpGe:
			keep = cmp >= 0
		case OpLt:
			keep = cmp < 0
		case OpLe:
			keep = cmp <= 0
		}
		if keep {
			out = out.Union(r)
		}
	}
	return out
}

// LookupRange returns the union of every value whose string falls within
// [lo, hi] under ordinary string ordering — a linear scan, acceptable
// because range indexes are expected to be small relative to the full
// corpus (spec leaves range-index performance unspecified beyond
// correctness).
func (f *FieldIndex) LookupRange(lo, hi string) *IndexResult {
	keys := make([]string, 0, len(f.byValue))
	for k := range f.byValue {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &IndexResult{}
	for _, k := range keys {
		if k < lo || k > hi {
			continue
		}
		out = out.Union(f.byValue[k])
	}
	return out
}

// --- manager + DNF evaluation -------------------------------------------

// Op is a comparison operator inside one DNF triple "field op token".
type Op string

const (
	OpEq       Op = "="
	OpRange    Op = "range" // token is "lo,hi"
	OpNeighbor Op = "nb"    // token is "rootID,value"
	OpGt       Op = "gt"
	OpGe       Op = "ge"
	OpLt       Op = "lt"
	OpLe       Op = "le"
)

// Triple is one parsed "field op token" clause element.
type Triple struct {
	Field string
	Op    Op
	Token string
}

// Clause is a comma-separated list of triples, intersected together.
type Clause []Triple

// IndexManager resolves a DAG node's dnf[] against the registered field
// indexes, caching recently evaluated clause strings (spec §4.4,
// SPEC_FULL.md §4.13).
type IndexManager struct {
	indexes map[string]*FieldIndex
	cache   *lru.Cache[string, *IndexResult]
}

// NewIndexManager constructs a manager with an LRU cache of the given
// size (0 disables caching).
func NewIndexManager(cacheSize int) *IndexManager {
	m := &IndexManager{indexes: make(map[string]*FieldIndex)}
	if cacheSize > 0 {
		c, err := lru.New[string, *IndexResult](cacheSize)
		if err == nil {
			m.cache = c
		}
	}
	return m
}

// Register adds or replaces a field index.
func (m *IndexManager) Register(idx *FieldIndex) {
	m.indexes[idx.Field] = idx
}

// BuildNodeFieldIndex scans every node on the shard and indexes it under
// the stringified values of the named feature: each dense value with %g,
// each sparse token with %d, a binary blob as its raw string. Index
// construction happens once at start-up, before serving (spec §9's
// singleton lifecycle).
func BuildNodeFieldIndex(store *Store, featureName string) (*FieldIndex, error) {
	feat, ok := store.Meta.Feature(featureName)
	if !ok {
		return nil, fmt.Errorf("graph index: unknown feature %q", featureName)
	}
	idx := NewFieldIndex(featureName, false)
	for _, typ := range store.NodeTypes() {
		for _, n := range store.NodesOfType(typ) {
			switch feat.Kind {
			case FeatureDense:
				for _, v := range n.Features.Dense.F32Values(int(feat.ID)) {
					idx.Put(strconv.FormatFloat(float64(v), 'g', -1, 32), int64(n.ID), n.Weight)
				}
			case FeatureSparse:
				for _, v := range n.Features.Sparse.U64Values(int(feat.ID)) {
					idx.Put(strconv.FormatUint(v, 10), int64(n.ID), n.Weight)
				}
			case FeatureBinary:
				if b := n.Features.Binary.BinValue(int(feat.ID)); len(b) > 0 {
					idx.Put(string(b), int64(n.ID), n.Weight)
				}
			}
		}
	}
	return idx, nil
}

// Index returns the registered index for field, if any.
func (m *IndexManager) Index(field string) (*FieldIndex, bool) {
	idx, ok := m.indexes[field]
	return idx, ok
}

// ParseDNF parses a dnf[] string array (one clause per entry, triples
// comma-separated) into a slice of Clause.
func ParseDNF(raw []string) ([]Clause, error) {
	clauses := make([]Clause, 0, len(raw))
	for _, c := range raw {
		clause, err := parseClause(c)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

func parseClause(s string) (Clause, error) {
	parts := strings.Split(s, ",")
	clause := make(Clause, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields := strings.Fields(p)
		if len(fields) != 3 {
			return nil, fmt.Errorf("graph index: malformed dnf triple %q", p)
		}
		clause = append(clause, Triple{Field: fields[0], Op: Op(fields[1]), Token: fields[2]})
	}
	return clause, nil
}

// Eval evaluates a parsed dnf against the registered indexes: intersect
// within each clause, then union across clauses (spec §4.4). The result is
// cached by the clause list's canonical string form.
func (m *IndexManager) Eval(clauses []Clause) (*IndexResult, error) {
	key := canonicalDNF(clauses)
	if m.cache != nil {
		if r, ok := m.cache.Get(key); ok {
			return r, nil
		}
	}

	var out *IndexResult
	for _, clause := range clauses {
		r, err := m.evalClause(clause)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = r
		} else {
			out = out.Union(r)
		}
	}
	if out == nil {
		out = &IndexResult{}
	}

	if m.cache != nil {
		m.cache.Add(key, out)
	}
	return out, nil
}

func (m *IndexManager) evalClause(clause Clause) (*IndexResult, error) {
	var acc *IndexResult
	for _, t := range clause {
		idx, ok := m.indexes[t.Field]
		if !ok {
			return nil, fmt.Errorf("graph index: unknown field %q", t.Field)
		}
		var r *IndexResult
		switch t.Op {
		case OpEq, "eq":
			r = idx.Lookup(t.Token)
		case OpGt, OpGe, OpLt, OpLe:
			r = idx.LookupCompare(t.Op, t.Token)
		case OpRange:
			bounds := strings.SplitN(t.Token, ",", 2)
			if len(bounds) != 2 {
				return nil, fmt.Errorf("graph index: malformed range token %q", t.Token)
			}
			r = idx.LookupRange(bounds[0], bounds[1])
		case OpNeighbor:
			parts := strings.SplitN(t.Token, ",", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("graph index: malformed neighbor token %q", t.Token)
			}
			root, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("graph index: bad root id in %q: %w", t.Token, err)
			}
			r = idx.LookupNeighbor(root, parts[1])
		default:
			return nil, fmt.Errorf("graph index: unknown op %q", t.Op)
		}
		if acc == nil {
			acc = r
		} else {
			acc = acc.Intersection(r)
		}
	}
	if acc == nil {
		acc = &IndexResult{}
	}
	return acc, nil
}

func canonicalDNF(clauses []Clause) string {
	var b strings.Builder
	for i, c := range clauses {
		if i > 0 {
			b.WriteString("|")
		}
		for j, t := range c {
			if j > 0 {
				b.WriteString(",")
			}
			b.WriteString(string(t.Field))
			b.WriteString(" ")
			b.WriteString(string(t.Op))
			b.WriteString(" ")
			b.WriteString(t.Token)
		}
	}
	return b.String()
}
