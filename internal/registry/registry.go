// Package registry implements Euler's shard registry: the coordination-
// store client every shard registers itself with at start-up and every
// client fan-outs reads from to discover live shards and their sampling
// weights (spec §4.9, §6 coordination-store paths).
//
// The coordination store itself is treated as a contract, per spec §1's
// "coordination-store primitives (contracts only)" — KVStore is that
// contract. internal/storage.Store (the teacher's thread-safe key/value
// abstraction) already implements it, so the in-memory variant here is the
// teacher's MemoryStore wearing a new interface; gormstore.go adds a
// persistent variant for a deployment that wants the registry state to
// survive a coordinator restart.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/euler/internal/eulererr"
)

// KVStore is the coordination-store contract §1 and §4.9 both name only as
// an interface: get/put/delete on byte-string paths, plus the prefix
// listing a registry needs to enumerate "/shard/<k>/*" children. A real
// deployment backs this with ZooKeeper/etcd; this package never assumes a
// particular backend.
type KVStore interface {
	Get(path string) ([]byte, error)
	Put(path string, value []byte) error
	Delete(path string) error
	List() []string
}

// ClusterMeta is the cluster-wide record at "<base>/meta": shard count,
// partition count, and the serialized graph metadata every shard agrees
// on (spec §6).
type ClusterMeta struct {
	NumShards     int    `json:"num_shards"`
	NumPartitions int    `json:"num_partitions"`
	GraphMeta     []byte `json:"graph_meta"`
}

// ShardMeta is one shard's ephemeral record at "<base>/shard/<k>/<host:port>":
// its address and the per-type sampling weights and labels a client needs
// to perform probability-correct global sampling across shards (spec §6).
type ShardMeta struct {
	HostPort      string             `json:"host_port"`
	NodeSumWeight map[int32]float64  `json:"node_sum_weight"`
	EdgeSumWeight map[int32]float64  `json:"edge_sum_weight"`
	Labels        []string           `json:"labels,omitempty"`
}

// Registry is a coordination-store client layering cluster-wide metadata
// and per-shard ephemeral state under one base path (spec §4.9). It is
// used both server-side (a shard registers itself at start-up and
// deregisters at shutdown) and client-side (the fan-out planner discovers
// live shards and their weights before dispatching).
type Registry struct {
	kv       KVStore
	basePath string

	mu            sync.RWMutex
	unavailable   map[int]bool
	lastSubscribe map[int]string // shardIndex -> last-seen child path, for change detection
}

// NewRegistry constructs a Registry backed by kv under basePath (e.g.
// "/euler/cluster-a").
func NewRegistry(kv KVStore, basePath string) *Registry {
	return &Registry{
		kv:            kv,
		basePath:      strings.TrimSuffix(basePath, "/"),
		unavailable:   make(map[int]bool),
		lastSubscribe: make(map[int]string),
	}
}

func (r *Registry) metaPath() string {
	return r.basePath + "/meta"
}

func (r *Registry) shardPrefix(idx int) string {
	return fmt.Sprintf("%s/shard/%d/", r.basePath, idx)
}

func (r *Registry) shardPath(idx int, hostPort string) string {
	return r.shardPrefix(idx) + hostPort
}

// PublishClusterMeta writes the cluster-wide record. It is idempotent:
// calling it twice with the same value is indistinguishable from calling
// it once (spec §4.9).
func (r *Registry) PublishClusterMeta(meta ClusterMeta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return eulererr.New(eulererr.Internal, "registry: marshal cluster meta: %v", err)
	}
	if err := r.kv.Put(r.metaPath(), b); err != nil {
		return eulererr.New(eulererr.Internal, "registry: coordination store unreachable: %v", err)
	}
	return nil
}

// RegisterShard publishes shardIndex's ephemeral state under its host:port
// child path. Calling it again with updated weights overwrites the prior
// value in place — RegisterShard is idempotent per spec §4.9.
func (r *Registry) RegisterShard(shardIndex int, meta ShardMeta) error {
	if meta.HostPort == "" {
		return eulererr.New(eulererr.InvalidArgument, "registry: shard meta requires a host:port")
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return eulererr.New(eulererr.Internal, "registry: marshal shard meta: %v", err)
	}
	if err := r.kv.Put(r.shardPath(shardIndex, meta.HostPort), b); err != nil {
		return eulererr.New(eulererr.Internal, "registry: coordination store unreachable: %v", err)
	}
	r.mu.Lock()
	delete(r.unavailable, shardIndex)
	r.mu.Unlock()
	return nil
}

// DeregisterShard removes shardIndex's ephemeral record. Deregistering a
// shard that was never registered (or already deregistered) is not an
// error — DeregisterShard is idempotent per spec §4.9.
func (r *Registry) DeregisterShard(shardIndex int, hostPort string) error {
	if err := r.kv.Delete(r.shardPath(shardIndex, hostPort)); err != nil {
		return eulererr.New(eulererr.Internal, "registry: coordination store unreachable: %v", err)
	}
	return nil
}

// GetRegisterInfo returns the cluster-wide metadata together with every
// currently registered shard's ephemeral state, keyed by shard index
// (spec §4.9: "GetRegisterInfo returns a pair {cluster_meta, shard_meta}").
func (r *Registry) GetRegisterInfo() (ClusterMeta, map[int]ShardMeta, error) {
	var cm ClusterMeta
	raw, err := r.kv.Get(r.metaPath())
	if err == nil {
		if uerr := json.Unmarshal(raw, &cm); uerr != nil {
			return cm, nil, eulererr.New(eulererr.Internal, "registry: corrupt cluster meta: %v", uerr)
		}
	}

	shards := make(map[int]ShardMeta)
	prefix := r.basePath + "/shard/"
	for _, path := range r.kv.List() {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			continue
		}
		var idx int
		if _, serr := fmt.Sscanf(parts[0], "%d", &idx); serr != nil {
			continue
		}
		raw, gerr := r.kv.Get(path)
		if gerr != nil {
			continue
		}
		var sm ShardMeta
		if uerr := json.Unmarshal(raw, &sm); uerr != nil {
			continue
		}
		shards[idx] = sm
	}
	return cm, shards, nil
}

// MarkUnavailable records that shardIndex failed to respond at dispatch
// time, so the next request can skip it instead of retrying a shard that
// is mid-failure (spec §4.9: "on shard disappearance they mark that shard
// unavailable for the next request").
func (r *Registry) MarkUnavailable(shardIndex int) {
	r.mu.Lock()
	r.unavailable[shardIndex] = true
	r.mu.Unlock()
}

// MarkAvailable clears a prior MarkUnavailable, used once a shard
// reappears in a subsequent GetRegisterInfo poll.
func (r *Registry) MarkAvailable(shardIndex int) {
	r.mu.Lock()
	delete(r.unavailable, shardIndex)
	r.mu.Unlock()
}

// IsAvailable reports whether shardIndex is currently usable for dispatch.
func (r *Registry) IsAvailable(shardIndex int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.unavailable[shardIndex]
}

// ShardChange describes one shard's appearance, update, or disappearance
// as observed by Subscribe's poll loop.
type ShardChange struct {
	ShardIndex int
	Meta       ShardMeta
	Removed    bool
}

// Subscribe polls GetRegisterInfo every interval and invokes onChange for
// every shard whose registered host:port set differs from the previous
// poll, until stop is closed. This approximates the coordination store's
// native watch mechanism (ZooKeeper/etcd) behind the same KVStore contract
// this package otherwise treats as a plain get/put/delete/list store
// (spec §4.9: "Clients subscribe to the set of shards").
func (r *Registry) Subscribe(interval time.Duration, stop <-chan struct{}, onChange func(ShardChange)) {
	seen := make(map[int]string)
	poll := func() {
		_, shards, err := r.GetRegisterInfo()
		if err != nil {
			return
		}
		present := make(map[int]bool, len(shards))
		idxs := make([]int, 0, len(shards))
		for idx := range shards {
			idxs = append(idxs, idx)
		}
		sort.Ints(idxs)
		for _, idx := range idxs {
			meta := shards[idx]
			present[idx] = true
			if prior, ok := seen[idx]; !ok || prior != meta.HostPort {
				seen[idx] = meta.HostPort
				onChange(ShardChange{ShardIndex: idx, Meta: meta})
			}
		}
		for idx := range seen {
			if !present[idx] {
				delete(seen, idx)
				r.MarkUnavailable(idx)
				onChange(ShardChange{ShardIndex: idx, Removed: true})
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	poll()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			poll()
		}
	}
}
