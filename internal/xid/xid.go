// Package xid defines the node and edge identifiers shared across Euler's
// graph store, tensor kernels, and shard planner, along with the stable
// hashing used to address edges and to determine partition ownership.
package xid

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// NodeID identifies a node in the graph. It is stable across process
// restarts and, for a correctly partitioned graph, across shards.
type NodeID uint64

// EdgeID identifies a directed, typed edge. Two edges with the same
// (Src, Dst) but different Type are distinct edges.
type EdgeID struct {
	Src  NodeID
	Dst  NodeID
	Type int32
}

// UID is the 64-bit identifier produced by hashing an EdgeID. It is used to
// address an edge inside an IndexResult, where a compact integer key is
// cheaper to carry than the 20-byte EdgeID triple.
type UID uint64

// Hash returns the stable UID for e. The encoding is little-endian and
// fixed-width so the hash is identical across processes and Go versions,
// which matters because UIDs are compared across shards during merge.
func (e EdgeID) Hash() UID {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.Src))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.Dst))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(e.Type))
	return UID(xxhash.Sum64(buf[:]))
}

func (e EdgeID) String() string {
	return fmt.Sprintf("(%d->%d,t=%d)", e.Src, e.Dst, e.Type)
}

// PartitionOf returns the partition index a key (a serialized NodeID or a
// raw string key such as a feature-index token) falls into under a
// numPartitions-way hash partitioning scheme.
func PartitionOf(key []byte, numPartitions int) int {
	if numPartitions <= 0 {
		return 0
	}
	return int(xxhash.Sum64(key) % uint64(numPartitions))
}

// ShardOf returns the shard index that owns partition p, given the total
// shard count, per the spec's "partition mod shard_number" ownership rule.
func ShardOf(partition, shardNumber int) int {
	if shardNumber <= 0 {
		return 0
	}
	return partition % shardNumber
}

// OwnsNode reports whether shardIndex owns id, given the graph's configured
// partition count and shard count. A node's partition is derived by hashing
// its id, then reduced to an owning shard via ShardOf.
func OwnsNode(id NodeID, numPartitions, shardNumber, shardIndex int) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	partition := PartitionOf(buf[:], numPartitions)
	return ShardOf(partition, shardNumber) == shardIndex
}
