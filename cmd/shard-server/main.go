// Command shard-server runs one Euler shard: it loads the shard's
// partition of the graph from chunk files (or object storage), builds
// the requested global samplers and field indexes, registers itself with
// the shard registry, and serves /rpc/Execute plus the legacy
// fine-grained methods until stopped (spec §6, SPEC_FULL §2).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/euler/internal/config"
	"github.com/dreamware/euler/internal/graph"
	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/registry"
	"github.com/dreamware/euler/internal/rpcwire"
	"github.com/dreamware/euler/internal/storage"
	"github.com/dreamware/euler/internal/telemetry"
)

func main() {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "shard-server",
		Short:        "Euler graph shard server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}
	config.BindFlags(cmd, v)

	if err := cmd.Execute(); err != nil {
		logrus.WithError(err).Error("shard-server: startup failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts config.ServerOptions) error {
	log := logrus.WithField("shard", opts.ShardIndex)

	shutdownTracing, err := telemetry.Setup(ctx, opts.OTLPEndpoint, "euler-shard", opts.ShardIndex)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	store, err := loadGraph(ctx, opts)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"nodes": store.Meta.NodeCount,
		"edges": store.Meta.EdgeCount,
	}).Info("shard-server: graph load complete")

	indexes := graph.NewIndexManager(1024)
	for _, field := range splitFields(opts.IndexFields) {
		idx, err := graph.BuildNodeFieldIndex(store, field)
		if err != nil {
			return err
		}
		indexes.Register(idx)
		log.WithField("field", field).Info("shard-server: field index built")
	}

	reg, err := openRegistry(opts)
	if err != nil {
		return err
	}
	hostPort := listenAddr(opts)
	shardMeta := registry.ShardMeta{
		HostPort:      hostPort,
		NodeSumWeight: store.NodeSumWeights(),
		EdgeSumWeight: store.EdgeSumWeights(),
	}
	if err := reg.PublishClusterMeta(registry.ClusterMeta{
		NumShards:     opts.ShardNumber,
		NumPartitions: store.Meta.PartitionCount,
	}); err != nil {
		return err
	}
	if err := reg.RegisterShard(opts.ShardIndex, shardMeta); err != nil {
		return err
	}
	log.WithField("addr", hostPort).Info("shard-server: registered")

	env := kernel.Env{Store: store, Indexes: indexes}
	srv := rpcwire.NewServer(env, kernel.NewDefaultRegistry(), opts.ShardIndex)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      limitConcurrency(srv.Router(), opts.ServerThreadNum),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpSrv.Addr).Info("shard-server: serving")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		_ = reg.DeregisterShard(opts.ShardIndex, hostPort)
		return err
	case s := <-sig:
		log.WithField("signal", s.String()).Info("shard-server: shutting down")
	case <-ctx.Done():
	}

	if err := reg.DeregisterShard(opts.ShardIndex, hostPort); err != nil {
		log.WithError(err).Warn("shard-server: deregister failed")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// loadGraph builds the shard's store from the configured chunk source.
func loadGraph(ctx context.Context, opts config.ServerOptions) (*graph.Store, error) {
	loadType, err := opts.LoadType()
	if err != nil {
		return nil, err
	}
	samplerType, err := opts.SamplerType()
	if err != nil {
		return nil, err
	}

	var source graph.ChunkSource
	if opts.COSBucketURL != "" {
		source, err = graph.NewCOSSource(opts.COSBucketURL, opts.COSSecretID, opts.COSSecretKey, opts.DataPath)
		if err != nil {
			return nil, err
		}
	} else {
		source = graph.DirSource{Dir: opts.DataPath}
	}

	builder := graph.NewBuilder(graph.BuildOptions{
		Source:         source,
		Name:           opts.GraphName,
		ShardIndex:  opts.ShardIndex,
		ShardNumber: opts.ShardNumber,
		LoadData:    loadType,
		GlobalSampler:  samplerType,
	})
	return builder.Build(ctx)
}

// openRegistry selects the coordination-store backend from zk_server: a
// "postgres://" DSN or "sqlite:<path>" opens the gorm-backed store; empty
// falls back to an in-process memory store for single-node runs.
func openRegistry(opts config.ServerOptions) (*registry.Registry, error) {
	var kv registry.KVStore
	switch {
	case strings.HasPrefix(opts.ZKServer, "postgres://"):
		g, err := registry.OpenGormKV("postgres", opts.ZKServer)
		if err != nil {
			return nil, err
		}
		kv = g
	case strings.HasPrefix(opts.ZKServer, "sqlite:"):
		g, err := registry.OpenGormKV("sqlite", strings.TrimPrefix(opts.ZKServer, "sqlite:"))
		if err != nil {
			return nil, err
		}
		kv = g
	default:
		if opts.ZKServer != "" {
			logrus.WithField("zk_server", opts.ZKServer).
				Warn("shard-server: unrecognized coordination store scheme, using in-process store")
		}
		kv = storage.NewMemoryStore()
	}
	return registry.NewRegistry(kv, opts.ZKPath), nil
}

func listenAddr(opts config.ServerOptions) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, opts.Port)
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// limitConcurrency bounds in-flight requests to the configured worker
// count, approximating the fixed worker pool of spec §5 on top of
// net/http's goroutine-per-connection model.
func limitConcurrency(next http.Handler, n int) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
}
