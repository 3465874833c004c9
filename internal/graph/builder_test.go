package graph

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/euler/internal/xid"
)

// testNode is the minimal shape used to hand-encode a node record for
// these tests: one neighbor group (edge type 0) holding neighborIDs, which
// may be empty.
type testNode struct {
	id          uint64
	typ         int32
	weight      float32
	neighborIDs []uint64
	neighborW   []float32
}

func encodeFeatureBlock(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, int32(0)) // N=0 features
}

func encodeNode(n testNode) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, n.id)
	binary.Write(&buf, binary.LittleEndian, n.typ)
	binary.Write(&buf, binary.LittleEndian, n.weight)
	binary.Write(&buf, binary.LittleEndian, int32(1)) // 1 edge group
	binary.Write(&buf, binary.LittleEndian, int32(len(n.neighborIDs)))
	var groupWeight float32
	for _, w := range n.neighborW {
		groupWeight += w
	}
	binary.Write(&buf, binary.LittleEndian, groupWeight)
	for _, id := range n.neighborIDs {
		binary.Write(&buf, binary.LittleEndian, id)
	}
	for _, w := range n.neighborW {
		binary.Write(&buf, binary.LittleEndian, w)
	}
	encodeFeatureBlock(&buf) // sparse
	encodeFeatureBlock(&buf) // dense
	encodeFeatureBlock(&buf) // binary
	return buf.Bytes()
}

func encodeEdge(src, dst uint64, typ int32, weight float32) []byte {
	var buf bytes.Buffer
	encodeFeatureBlock(&buf) // sparse
	encodeFeatureBlock(&buf) // dense
	encodeFeatureBlock(&buf) // binary
	binary.Write(&buf, binary.LittleEndian, src)
	binary.Write(&buf, binary.LittleEndian, dst)
	binary.Write(&buf, binary.LittleEndian, typ)
	binary.Write(&buf, binary.LittleEndian, weight)
	return buf.Bytes()
}

func encodeBlock(nodeBytes []byte, edgeBytesList [][]byte, corruptChecksum bool) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(len(nodeBytes)))
	body.Write(nodeBytes)
	binary.Write(&body, binary.LittleEndian, uint32(len(edgeBytesList)))
	for _, eb := range edgeBytesList {
		binary.Write(&body, binary.LittleEndian, uint32(len(eb)))
	}
	for _, eb := range edgeBytesList {
		body.Write(eb)
	}

	checksum := uint32(len(nodeBytes))
	for _, eb := range edgeBytesList {
		checksum += uint32(len(eb))
	}
	if corruptChecksum {
		checksum++
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	binary.Write(&out, binary.LittleEndian, checksum)
	return out.Bytes()
}

func TestBuilderLoadsNodesAndEdges(t *testing.T) {
	dir := t.TempDir()

	nodeBuf := encodeNode(testNode{
		id: 1, typ: 0, weight: 1.0,
		neighborIDs: []uint64{2, 3},
		neighborW:   []float32{1, 1},
	})
	edgeBuf := encodeEdge(1, 2, 0, 2.5)
	block := encodeBlock(nodeBuf, [][]byte{edgeBuf}, false)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "g_0.dat"), block, 0o644))

	b := NewBuilder(BuildOptions{
		Source:         DirSource{Dir: dir},
		Name:           "g",
		Version:        "v1",
		ShardIndex:     0,
		ShardNumber:    1,
		PartitionCount: 1,
		LoadData:       LoadAll,
		GlobalSampler:  SamplerAll,
	})
	store, err := b.Build(context.Background())
	require.NoError(t, err)

	n, ok := store.GetNodeByID(xid.NodeID(1))
	require.True(t, ok)
	require.Equal(t, int32(0), n.Type)
	require.Len(t, n.Neighbors[0].NeighborIDs, 2)

	e, ok := store.GetEdgeByID(xid.EdgeID{Src: 1, Dst: 2, Type: 0})
	require.True(t, ok)
	require.Equal(t, float32(2.5), e.Weight)

	ids, _, err := store.SampleNode(0, 5)
	require.NoError(t, err)
	require.Len(t, ids, 5)
	require.True(t, store.HasLoadedEdges())
}

func TestBuilderChecksumMismatchFailsClosed(t *testing.T) {
	dir := t.TempDir()
	nodeBuf := encodeNode(testNode{id: 1, typ: 0, weight: 1.0})
	block := encodeBlock(nodeBuf, nil, true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g_0.dat"), block, 0o644))

	b := NewBuilder(BuildOptions{
		Source:         DirSource{Dir: dir},
		Name:           "g",
		ShardNumber:    1,
		PartitionCount: 1,
		LoadData:       LoadAll,
	})
	_, err := b.Build(context.Background())
	require.Error(t, err)
}

func TestBuilderShardOwnershipSkipsForeignPartitions(t *testing.T) {
	dir := t.TempDir()
	nodeBuf := encodeNode(testNode{id: 1, typ: 0, weight: 1.0})
	block := encodeBlock(nodeBuf, nil, false)
	// Partition 1 belongs to shard 1 under a 2-shard cluster (1 mod 2 == 1).
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g_1.dat"), block, 0o644))

	b := NewBuilder(BuildOptions{
		Source:         DirSource{Dir: dir},
		Name:           "g",
		ShardIndex:     0,
		ShardNumber:    2,
		PartitionCount: 2,
		LoadData:       LoadAll,
	})
	store, err := b.Build(context.Background())
	require.NoError(t, err)
	_, ok := store.GetNodeByID(xid.NodeID(1))
	require.False(t, ok, "shard 0 must not load partition 1's file")
}
