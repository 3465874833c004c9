package graph

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dreamware/euler/internal/eulererr"
	"github.com/dreamware/euler/internal/sampler"
	"github.com/dreamware/euler/internal/xid"
)

// ChunkSource opens the chunk files a Builder loads, abstracting over a
// local directory and a Tencent Cloud Object Storage bucket prefix so a
// shard can boot from either without the builder knowing which (spec
// SPEC_FULL.md §4.15).
type ChunkSource interface {
	// List returns the file names available under this source, e.g.
	// "graph_0.dat", "graph_3.dat".
	List(ctx context.Context) ([]string, error)
	// Open returns a reader for the named chunk file. The caller closes it.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirSource is a ChunkSource backed by a local directory, the default and
// the one exercised by tests.
type DirSource struct {
	Dir string
}

func (d DirSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("graph builder: read dir %s: %w", d.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".dat") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("graph builder: open %s: %w", name, err)
	}
	return f, nil
}

// BuildOptions controls what a Builder loads and which global samplers it
// constructs afterward, mirroring the `load_data_type` and
// `global_sampler_type` server options (spec §6, §4.3).
type BuildOptions struct {
	Source         ChunkSource
	Name           string
	Version        string
	ShardIndex     int
	ShardNumber    int
	PartitionCount int
	LoadData       LoadDataType
	GlobalSampler  GlobalSamplerType
	// Workers bounds the number of concurrent file-processing goroutines;
	// 0 selects runtime.NumCPU().
	Workers int
}

// Builder loads a shard's chunk files into a Store: each matching file is
// parsed by a worker into thread-local node/edge slices, then a single
// reducer merges everything into the store serially, taking no lock, after
// which the requested global samplers are constructed (spec §4.3).
type Builder struct {
	opts BuildOptions
}

// NewBuilder constructs a Builder for the given options.
func NewBuilder(opts BuildOptions) *Builder {
	return &Builder{opts: opts}
}

// parsedFile is one worker's thread-local output for a single chunk file.
type parsedFile struct {
	nodes []*Node
	edges []*Edge
}

// Build loads every `<name>_<partition>.dat` file this shard owns
// (partition mod shard_number == shard_index) and returns the assembled
// store.
func (b *Builder) Build(ctx context.Context) (*Store, error) {
	if b.opts.LoadData == LoadNone {
		meta := NewMetadata(b.opts.Name, b.opts.Version, b.opts.PartitionCount)
		return NewStore(meta), nil
	}

	names, err := b.opts.Source.List(ctx)
	if err != nil {
		return nil, err
	}

	prefix := b.opts.Name + "_"
	var owned []string
	maxPartition := -1
	for _, n := range names {
		part, ok := partitionOf(n, prefix)
		if !ok {
			continue
		}
		if part > maxPartition {
			maxPartition = part
		}
		if xid.ShardOf(part, b.opts.ShardNumber) == b.opts.ShardIndex {
			owned = append(owned, n)
		}
	}
	// An unset partition count is inferred from the full file listing;
	// every shard sees the same listing, so they agree.
	if b.opts.PartitionCount <= 0 {
		b.opts.PartitionCount = maxPartition + 1
	}

	workers := b.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(owned) && len(owned) > 0 {
		workers = len(owned)
	}

	jobs := make(chan string, len(owned))
	for _, n := range owned {
		jobs <- n
	}
	close(jobs)

	results := make(chan parsedFile, len(owned))
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				pf, err := b.parseFile(ctx, name)
				if err != nil {
					errs <- err
					return
				}
				results <- pf
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
		close(errs)
	}()

	meta := NewMetadata(b.opts.Name, b.opts.Version, b.opts.PartitionCount)
	store := NewStore(meta)

	var nodeCount, edgeCount int64
	for pf := range results {
		b.reduce(store, pf)
		nodeCount += int64(len(pf.nodes))
		edgeCount += int64(len(pf.edges))
	}
	if err := <-errsOrNil(errs); err != nil {
		return nil, err
	}

	meta.NodeCount = nodeCount
	meta.EdgeCount = edgeCount
	store.loadedEdges = b.opts.LoadData == LoadEdge || b.opts.LoadData == LoadAll
	if err := meta.Validate(nodeCount, edgeCount); err != nil {
		return nil, eulererr.New(eulererr.Internal, "%v", err)
	}

	b.buildGlobalSamplers(store)
	return store, nil
}

func errsOrNil(errs <-chan error) <-chan error {
	out := make(chan error, 1)
	go func() {
		for e := range errs {
			if e != nil {
				out <- e
				return
			}
		}
		out <- nil
	}()
	return out
}

// partitionOf extracts the partition number from a "<prefix><partition>.dat"
// file name.
func partitionOf(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".dat") {
		return 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".dat")
	n, err := strconv.Atoi(mid)
	if err != nil {
		return 0, false
	}
	return n, true
}

// reduce merges one worker's thread-local output into the store's maps.
// Builder runs reduce serially from Build's goroutine and takes no lock;
// Store itself has no insert locks.
func (b *Builder) reduce(store *Store, pf parsedFile) {
	for _, n := range pf.nodes {
		store.nodes[n.ID] = n
		store.nodesByType[n.Type] = append(store.nodesByType[n.Type], n)
	}
	for _, e := range pf.edges {
		store.edges[e.ID] = e
		store.uids[e.ID.Hash()] = e.ID
		store.edgesByType[e.ID.Type] = append(store.edgesByType[e.ID.Type], e)
		store.loadedEdgeTypes.Set(uint(uint32(e.ID.Type)))
	}
}

// NewNeighborGroup assembles one edge type's neighbor run from parallel
// id/weight slices, sorting by id and building the weight prefix-sum the
// store's invariants require — the same normalization decodeNode applies
// to records read from disk.
func NewNeighborGroup(edgeType int32, ids []xid.NodeID, weights []float32) *NeighborGroup {
	idsCp := append([]xid.NodeID(nil), ids...)
	wCp := append([]float32(nil), weights...)
	if !sort.SliceIsSorted(idsCp, func(i, j int) bool { return idsCp[i] < idsCp[j] }) {
		order := make([]int, len(idsCp))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(i, j int) bool { return ids[order[i]] < ids[order[j]] })
		for i, o := range order {
			idsCp[i] = ids[o]
			wCp[i] = weights[o]
		}
	}
	prefix := make([]float64, len(wCp))
	var running float64
	for i, w := range wCp {
		running += float64(w)
		prefix[i] = running
	}
	return &NeighborGroup{EdgeType: edgeType, NeighborIDs: idsCp, WeightPrefix: prefix}
}

// NewStoreFromRecords assembles a Store directly from in-memory records,
// bypassing the chunk-file codec — the path tests and embedding callers
// use when the graph is generated rather than loaded (the builder's
// reduce step and sampler construction are shared, so the resulting
// store is indistinguishable from a chunk-loaded one).
func NewStoreFromRecords(meta *Metadata, nodes []*Node, edges []*Edge, samplerType GlobalSamplerType) *Store {
	store := NewStore(meta)
	b := &Builder{opts: BuildOptions{GlobalSampler: samplerType}}
	b.reduce(store, parsedFile{nodes: nodes, edges: edges})
	meta.NodeCount = int64(len(nodes))
	meta.EdgeCount = int64(len(edges))
	store.loadedEdges = len(edges) > 0
	b.buildGlobalSamplers(store)
	return store
}

// buildGlobalSamplers constructs the per-type and type-over-types samplers
// the requested GlobalSamplerType calls for.
func (b *Builder) buildGlobalSamplers(store *Store) {
	switch b.opts.GlobalSampler {
	case SamplerNode:
		buildNodeSamplers(store)
	case SamplerEdge:
		buildEdgeSamplers(store)
	case SamplerAll:
		buildNodeSamplers(store)
		buildEdgeSamplers(store)
	}
}

func buildNodeSamplers(store *Store) {
	typeIDs := make([]int64, 0, len(store.nodesByType))
	typeWeights := make([]float32, 0, len(store.nodesByType))
	for typ, nodes := range store.nodesByType {
		ids := make([]int64, len(nodes))
		weights := make([]float32, len(nodes))
		var sum float32
		for i, n := range nodes {
			ids[i] = int64(n.ID)
			weights[i] = n.Weight
			sum += n.Weight
		}
		store.nodeSamplerByType[typ] = sampler.NewAlias(ids, weights)
		typeIDs = append(typeIDs, int64(typ))
		typeWeights = append(typeWeights, sum)
	}
	store.nodeTypeSampler = sampler.NewCompact(typeIDs, typeWeights)
}

func buildEdgeSamplers(store *Store) {
	typeIDs := make([]int64, 0, len(store.edgesByType))
	typeWeights := make([]float32, 0, len(store.edgesByType))
	for typ, edges := range store.edgesByType {
		ids := make([]int64, len(edges))
		weights := make([]float32, len(edges))
		var sum float32
		for i, e := range edges {
			ids[i] = int64(e.ID.Hash())
			weights[i] = e.Weight
			sum += e.Weight
		}
		store.edgeSamplerByType[typ] = sampler.NewAlias(ids, weights)
		typeIDs = append(typeIDs, int64(typ))
		typeWeights = append(typeWeights, sum)
	}
	store.edgeTypeSampler = sampler.NewCompact(typeIDs, typeWeights)
}

// --- wire-format decoding (spec §6 "On-disk chunk format") --------------

// parseFile reads every block of a chunk file into thread-local node/edge
// slices. Parsing fails closed on the first checksum mismatch (spec §4.3).
func (b *Builder) parseFile(ctx context.Context, name string) (parsedFile, error) {
	rc, err := b.opts.Source.Open(ctx, name)
	if err != nil {
		return parsedFile{}, err
	}
	defer rc.Close()

	r := bufio.NewReader(rc)
	var pf parsedFile
	loadNodes := b.opts.LoadData == LoadNode || b.opts.LoadData == LoadAll
	loadEdges := b.opts.LoadData == LoadEdge || b.opts.LoadData == LoadAll

	for {
		node, edges, err := readBlock(r, loadNodes, loadEdges)
		if err == io.EOF {
			break
		}
		if err != nil {
			return parsedFile{}, fmt.Errorf("graph builder: %s: %w", name, err)
		}
		if node != nil {
			pf.nodes = append(pf.nodes, node)
		}
		pf.edges = append(pf.edges, edges...)
	}
	return pf, nil
}

// readBlock decodes one block: `u32 block_size | u32 node_bytes |
// node_bytes | u32 edge_count | edge_count × u32 edge_bytes_i |
// concatenated edge records | u32 checksum` where checksum is the sum of
// node_bytes and every edge_bytes_i (spec §6).
func readBlock(r *bufio.Reader, loadNodes, loadEdges bool) (*Node, []*Edge, error) {
	var blockSize uint32
	if err := binary.Read(r, binary.LittleEndian, &blockSize); err != nil {
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		return nil, nil, fmt.Errorf("read block_size: %w", err)
	}
	body := make([]byte, blockSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("read block body: %w", err)
	}

	var checksum uint32
	if err := binary.Read(r, binary.LittleEndian, &checksum); err != nil {
		return nil, nil, fmt.Errorf("read checksum: %w", err)
	}

	br := &byteReader{buf: body}
	nodeBytes := br.u32()
	nodeBuf := br.bytes(int(nodeBytes))
	edgeCount := br.u32()
	edgeLens := make([]uint32, edgeCount)
	for i := range edgeLens {
		edgeLens[i] = br.u32()
	}
	var edgeBufs [][]byte
	for _, l := range edgeLens {
		edgeBufs = append(edgeBufs, br.bytes(int(l)))
	}
	if br.err != nil {
		return nil, nil, br.err
	}

	var sum uint32 = nodeBytes
	for _, l := range edgeLens {
		sum += l
	}
	if sum != checksum {
		return nil, nil, eulererr.New(eulererr.Internal, "chunk checksum mismatch: got %d want %d", checksum, sum)
	}

	var node *Node
	if loadNodes && len(nodeBuf) > 0 {
		var err error
		node, err = decodeNode(nodeBuf)
		if err != nil {
			return nil, nil, err
		}
	}
	var edges []*Edge
	if loadEdges {
		for _, eb := range edgeBufs {
			e, err := decodeEdge(eb)
			if err != nil {
				return nil, nil, err
			}
			edges = append(edges, e)
		}
	}
	return node, edges, nil
}

// decodeNode parses a node record: `u64 id | i32 type | f32 weight | i32
// edge_group_count | edge_group_count × i32 size | edge_group_count × f32
// group_weight | per-group neighbor ids | per-group neighbor weights |
// three feature blocks`. Group i's edge type is its index in the group
// array (spec §6, §3).
func decodeNode(buf []byte) (*Node, error) {
	br := &byteReader{buf: buf}
	n := &Node{
		ID:        xid.NodeID(br.u64()),
		Type:      br.i32(),
		Weight:    br.f32(),
		Neighbors: make(map[int32]*NeighborGroup),
	}
	groupCount := int(br.i32())
	sizes := make([]int32, groupCount)
	for i := range sizes {
		sizes[i] = br.i32()
	}
	groupWeights := make([]float32, groupCount)
	for i := range groupWeights {
		groupWeights[i] = br.f32()
	}
	neighborIDs := make([][]xid.NodeID, groupCount)
	for g := 0; g < groupCount; g++ {
		ids := make([]xid.NodeID, sizes[g])
		for i := range ids {
			ids[i] = xid.NodeID(br.u64())
		}
		neighborIDs[g] = ids
	}
	for g := 0; g < groupCount; g++ {
		raw := make([]float32, sizes[g])
		for i := range raw {
			raw[i] = br.f32()
		}
		if sizes[g] == 0 {
			continue
		}
		ids := neighborIDs[g]
		// Inputs may arrive unsorted; the store's invariant is ascending
		// neighbor id within each group, enforced here at load time.
		if !sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }) {
			order := make([]int, len(ids))
			for i := range order {
				order[i] = i
			}
			sort.Slice(order, func(i, j int) bool { return ids[order[i]] < ids[order[j]] })
			sortedIDs := make([]xid.NodeID, len(ids))
			sortedW := make([]float32, len(raw))
			for i, o := range order {
				sortedIDs[i] = ids[o]
				sortedW[i] = raw[o]
			}
			ids, raw = sortedIDs, sortedW
		}
		prefix := make([]float64, len(raw))
		var running float64
		for i, w := range raw {
			running += float64(w)
			prefix[i] = running
		}
		n.Neighbors[int32(g)] = &NeighborGroup{
			EdgeType:     int32(g),
			NeighborIDs:  ids,
			WeightPrefix: prefix,
		}
	}
	feats, err := decodeFeatures(br)
	if err != nil {
		return nil, err
	}
	n.Features = feats
	return n, br.err
}

// decodeEdge parses an edge record: the three feature blocks followed by
// `u64 src, u64 dst, i32 type, f32 weight` (spec §6).
func decodeEdge(buf []byte) (*Edge, error) {
	br := &byteReader{buf: buf}
	feats, err := decodeFeatures(br)
	if err != nil {
		return nil, err
	}
	src := xid.NodeID(br.u64())
	dst := xid.NodeID(br.u64())
	typ := br.i32()
	weight := br.f32()
	e := &Edge{
		ID:       xid.EdgeID{Src: src, Dst: dst, Type: typ},
		Weight:   weight,
		Features: feats,
	}
	return e, br.err
}

// decodeFeatures reads the three feature blocks (sparse, dense, binary),
// each `i32 N | N × i32 count | concatenated values`, in that fixed order.
func decodeFeatures(br *byteReader) (Features, error) {
	sparse := decodeFeatureBlock(br, FeatureSparse)
	dense := decodeFeatureBlock(br, FeatureDense)
	binary := decodeFeatureBlock(br, FeatureBinary)
	return Features{Sparse: sparse, Dense: dense, Binary: binary}, br.err
}

func decodeFeatureBlock(br *byteReader, kind FeatureKind) *FeatureBlock {
	n := int(br.i32())
	counts := make([]int32, n)
	for i := range counts {
		counts[i] = br.i32()
	}
	offsets := make([]int32, n+1)
	for i, c := range counts {
		offsets[i+1] = offsets[i] + c
	}
	total := int(offsets[n])
	fb := &FeatureBlock{Offsets: offsets, Kind: kind}
	switch kind {
	case FeatureSparse:
		fb.U64 = make([]uint64, total)
		for i := range fb.U64 {
			fb.U64[i] = br.u64()
		}
	case FeatureDense:
		fb.F32 = make([]float32, total)
		for i := range fb.F32 {
			fb.F32[i] = br.f32()
		}
	case FeatureBinary:
		fb.Bin = br.bytes(total)
	}
	return fb
}

// byteReader is a tiny little-endian cursor over an in-memory buffer,
// recording the first short-read error rather than panicking, so a
// truncated chunk file surfaces as a normal error (spec §7 Internal).
type byteReader struct {
	buf []byte
	pos int
	err error
}

func (b *byteReader) need(n int) bool {
	if b.err != nil {
		return false
	}
	if b.pos+n > len(b.buf) {
		b.err = eulererr.New(eulererr.Internal, "chunk record truncated")
		return false
	}
	return true
}

func (b *byteReader) u32() uint32 {
	if !b.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(b.buf[b.pos:])
	b.pos += 4
	return v
}

func (b *byteReader) i32() int32 { return int32(b.u32()) }

func (b *byteReader) u64() uint64 {
	if !b.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(b.buf[b.pos:])
	b.pos += 8
	return v
}

func (b *byteReader) f32() float32 {
	return math.Float32frombits(b.u32())
}

func (b *byteReader) bytes(n int) []byte {
	if n == 0 {
		return nil
	}
	if !b.need(n) {
		return nil
	}
	v := b.buf[b.pos : b.pos+n]
	b.pos += n
	return v
}
