// Command euler-cli is the thin client binary for an Euler cluster: it
// can issue a DAG through the planner/fan-out client and print the
// merged tensors, ping shards, and administer the shard registry
// (SPEC_FULL §2).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/euler/internal/fanout"
	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/planner"
	"github.com/dreamware/euler/internal/registry"
	"github.com/dreamware/euler/internal/rpcwire"
	"github.com/dreamware/euler/internal/storage"
	"github.com/dreamware/euler/internal/tensor"
)

func main() {
	root := &cobra.Command{
		Use:          "euler-cli",
		Short:        "Euler cluster client",
		SilenceUsage: true,
	}
	root.AddCommand(pingCmd(), shardsCmd(), registerCmd(), deregisterCmd(), executeCmd())
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("euler-cli failed")
		os.Exit(1)
	}
}

// openStore parses a --store value: "sqlite:<path>", "postgres://<dsn>",
// or "memory" (only useful inside a single process).
func openStore(store string) (registry.KVStore, error) {
	switch {
	case strings.HasPrefix(store, "sqlite:"):
		return registry.OpenGormKV("sqlite", strings.TrimPrefix(store, "sqlite:"))
	case strings.HasPrefix(store, "postgres://"):
		return registry.OpenGormKV("postgres", store)
	case store == "memory" || store == "":
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store %q (want sqlite:<path>, postgres://<dsn>, or memory)", store)
}

func pingCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check a shard's liveness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			resp, err := rpcwire.NewClient(addr).Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("shard %d: pong\n", resp.ShardIndex)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:9190", "shard base URL")
	return cmd
}

func shardsCmd() *cobra.Command {
	var store, basePath string
	cmd := &cobra.Command{
		Use:   "shards",
		Short: "List registered shards",
		RunE: func(_ *cobra.Command, _ []string) error {
			kv, err := openStore(store)
			if err != nil {
				return err
			}
			reg := registry.NewRegistry(kv, basePath)
			cm, shards, err := reg.GetRegisterInfo()
			if err != nil {
				return err
			}
			fmt.Printf("cluster: %d shard(s), %d partition(s)\n", cm.NumShards, cm.NumPartitions)
			for idx, sm := range shards {
				fmt.Printf("  shard %d @ %s node_types=%d edge_types=%d\n",
					idx, sm.HostPort, len(sm.NodeSumWeight), len(sm.EdgeSumWeight))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "sqlite:euler-registry.db", "coordination store")
	cmd.Flags().StringVar(&basePath, "zk_path", "/euler", "registry base path")
	return cmd
}

func registerCmd() *cobra.Command {
	var store, basePath, hostPort string
	var shard, numShards, numPartitions int
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a shard (synthetic clusters for local testing)",
		RunE: func(_ *cobra.Command, _ []string) error {
			kv, err := openStore(store)
			if err != nil {
				return err
			}
			reg := registry.NewRegistry(kv, basePath)
			if err := reg.PublishClusterMeta(registry.ClusterMeta{NumShards: numShards, NumPartitions: numPartitions}); err != nil {
				return err
			}
			return reg.RegisterShard(shard, registry.ShardMeta{HostPort: hostPort})
		},
	}
	cmd.Flags().StringVar(&store, "store", "sqlite:euler-registry.db", "coordination store")
	cmd.Flags().StringVar(&basePath, "zk_path", "/euler", "registry base path")
	cmd.Flags().StringVar(&hostPort, "addr", "", "shard host:port")
	cmd.Flags().IntVar(&shard, "shard", 0, "shard index")
	cmd.Flags().IntVar(&numShards, "shard_number", 1, "total shard count")
	cmd.Flags().IntVar(&numPartitions, "num_partitions", 1, "partition count")
	_ = cmd.MarkFlagRequired("addr")
	return cmd
}

func deregisterCmd() *cobra.Command {
	var store, basePath, hostPort string
	var shard int
	cmd := &cobra.Command{
		Use:   "deregister",
		Short: "Deregister a shard",
		RunE: func(_ *cobra.Command, _ []string) error {
			kv, err := openStore(store)
			if err != nil {
				return err
			}
			return registry.NewRegistry(kv, basePath).DeregisterShard(shard, hostPort)
		},
	}
	cmd.Flags().StringVar(&store, "store", "sqlite:euler-registry.db", "coordination store")
	cmd.Flags().StringVar(&basePath, "zk_path", "/euler", "registry base path")
	cmd.Flags().StringVar(&hostPort, "addr", "", "shard host:port")
	cmd.Flags().IntVar(&shard, "shard", 0, "shard index")
	_ = cmd.MarkFlagRequired("addr")
	return cmd
}

// clusterFile is the YAML cluster view `execute` dispatches against when
// it isn't reading the registry: shard addresses plus the hash space.
type clusterFile struct {
	NumShards     int `yaml:"num_shards"`
	NumPartitions int `yaml:"num_partitions"`
	Shards        []struct {
		Index int    `yaml:"index"`
		Addr  string `yaml:"addr"`
	} `yaml:"shards"`
}

// executeRequestFile is the JSON body `execute` reads: the same shape as
// the wire-level ExecuteRequest.
type executeRequestFile struct {
	DAG     rpcwire.DAGWire      `json:"dag"`
	Inputs  []rpcwire.TensorWire `json:"inputs"`
	Outputs []string             `json:"outputs"`
}

func executeCmd() *cobra.Command {
	var clusterPath, requestPath string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run a DAG across the cluster and print the merged tensors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(clusterPath)
			if err != nil {
				return err
			}
			var cluster clusterFile
			if err := yaml.Unmarshal(raw, &cluster); err != nil {
				return fmt.Errorf("parse %s: %w", clusterPath, err)
			}
			clients := make(map[int]*rpcwire.Client, len(cluster.Shards))
			for _, s := range cluster.Shards {
				clients[s.Index] = rpcwire.NewClient(s.Addr)
			}

			reqRaw, err := os.ReadFile(requestPath)
			if err != nil {
				return err
			}
			var req executeRequestFile
			if err := json.Unmarshal(reqRaw, &req); err != nil {
				return fmt.Errorf("parse %s: %w", requestPath, err)
			}
			inputs := make(map[string]*tensor.Tensor, len(req.Inputs))
			for _, tw := range req.Inputs {
				t, err := rpcwire.DecodeTensor(tw)
				if err != nil {
					return err
				}
				inputs[tw.Name] = t
			}

			p := planner.New(kernel.NewDefaultRegistry(), fanout.Default(),
				cluster.NumShards, cluster.NumPartitions, clients)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out, err := p.Execute(ctx, rpcwire.DAGFromWire(req.DAG), inputs, req.Outputs)
			if err != nil {
				return err
			}

			wires := make([]rpcwire.TensorWire, 0, len(req.Outputs))
			for _, name := range req.Outputs {
				wires = append(wires, rpcwire.EncodeTensor(out[name]))
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(wires)
		},
	}
	cmd.Flags().StringVar(&clusterPath, "cluster", "cluster.yaml", "cluster view file")
	cmd.Flags().StringVar(&requestPath, "request", "request.json", "DAG request file")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request deadline")
	_ = cmd.MarkFlagRequired("cluster")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}
