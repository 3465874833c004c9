// Package config resolves Euler's server options (spec §6) from cobra
// flags, environment variables, and an optional .env file, with the
// precedence flag > env > .env > default.
package config

import (
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/euler/internal/eulererr"
	"github.com/dreamware/euler/internal/graph"
)

// ServerOptions carries every knob a shard server (and the CLI's cluster
// view) reads at start-up, named exactly as spec §6 lists them.
type ServerOptions struct {
	Port              int
	DataPath          string
	LoadDataType      string // none | node | edge | all
	GlobalSamplerType string // none | node | edge | all
	ZKServer          string
	ZKPath            string
	ShardIndex        int
	ShardNumber       int
	ServerThreadNum   int
	OTLPEndpoint      string

	// GraphName is the chunk-file prefix ("<name>_<partition>.dat").
	GraphName string
	// IndexFields is a comma-separated list of feature names to build
	// field indexes over at start-up.
	IndexFields string
	// COS options select the object-storage chunk source when BucketURL
	// is non-empty; otherwise DataPath names a local directory.
	COSBucketURL string
	COSSecretID  string
	COSSecretKey string
}

// Defaults returns the options a bare start-up resolves to.
func Defaults() ServerOptions {
	return ServerOptions{
		Port:              9190,
		DataPath:          "./data",
		LoadDataType:      "all",
		GlobalSamplerType: "all",
		ZKPath:            "/euler",
		ShardIndex:        0,
		ShardNumber:       1,
		ServerThreadNum:   2 * runtime.NumCPU(),
		GraphName:         "graph",
	}
}

// keys maps option names to their viper/env keys. The env form is the
// uppercase key prefixed EULER_ (EULER_SHARD_INDEX and so on).
var keys = []string{
	"port", "data_path", "load_data_type", "global_sampler_type",
	"zk_server", "zk_path", "shard_index", "shard_number",
	"server_thread_num", "otlp_endpoint", "graph_name", "index_fields",
	"cos_bucket_url", "cos_secret_id", "cos_secret_key",
}

// BindFlags declares every option as a flag on cmd and wires it into v,
// so cobra's flag values take precedence over env and .env.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	def := Defaults()
	cmd.Flags().Int("port", def.Port, "listen port")
	cmd.Flags().String("data_path", def.DataPath, "graph chunk file directory")
	cmd.Flags().String("load_data_type", def.LoadDataType, "entity tables to load: none|node|edge|all")
	cmd.Flags().String("global_sampler_type", def.GlobalSamplerType, "global samplers to build: none|node|edge|all")
	cmd.Flags().String("zk_server", def.ZKServer, "coordination store address")
	cmd.Flags().String("zk_path", def.ZKPath, "coordination store base path")
	cmd.Flags().Int("shard_index", def.ShardIndex, "this shard's index")
	cmd.Flags().Int("shard_number", def.ShardNumber, "total shard count")
	cmd.Flags().Int("server_thread_num", def.ServerThreadNum, "request worker count")
	cmd.Flags().String("otlp_endpoint", def.OTLPEndpoint, "OTLP gRPC collector endpoint (empty disables export)")
	cmd.Flags().String("graph_name", def.GraphName, "chunk file prefix")
	cmd.Flags().String("index_fields", "", "comma-separated feature names to index at start-up")
	cmd.Flags().String("cos_bucket_url", "", "COS bucket endpoint for object-storage chunk loading")
	cmd.Flags().String("cos_secret_id", "", "COS secret id")
	cmd.Flags().String("cos_secret_key", "", "COS secret key")
	for _, k := range keys {
		_ = v.BindPFlag(k, cmd.Flags().Lookup(k))
	}
}

// Load resolves options from v after layering in the environment and an
// optional .env file. Missing .env is not an error; a malformed value is.
func Load(v *viper.Viper) (ServerOptions, error) {
	// .env feeds the process environment so viper's env layer sees it;
	// real environment variables win over the file, per godotenv.Load.
	_ = godotenv.Load()

	v.SetEnvPrefix("EULER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Defaults()
	v.SetDefault("port", def.Port)
	v.SetDefault("data_path", def.DataPath)
	v.SetDefault("load_data_type", def.LoadDataType)
	v.SetDefault("global_sampler_type", def.GlobalSamplerType)
	v.SetDefault("zk_server", def.ZKServer)
	v.SetDefault("zk_path", def.ZKPath)
	v.SetDefault("shard_index", def.ShardIndex)
	v.SetDefault("shard_number", def.ShardNumber)
	v.SetDefault("server_thread_num", def.ServerThreadNum)
	v.SetDefault("otlp_endpoint", def.OTLPEndpoint)
	v.SetDefault("graph_name", def.GraphName)
	v.SetDefault("index_fields", "")
	v.SetDefault("cos_bucket_url", "")
	v.SetDefault("cos_secret_id", "")
	v.SetDefault("cos_secret_key", "")

	opts := ServerOptions{
		Port:              v.GetInt("port"),
		DataPath:          v.GetString("data_path"),
		LoadDataType:      v.GetString("load_data_type"),
		GlobalSamplerType: v.GetString("global_sampler_type"),
		ZKServer:          v.GetString("zk_server"),
		ZKPath:            v.GetString("zk_path"),
		ShardIndex:        v.GetInt("shard_index"),
		ShardNumber:       v.GetInt("shard_number"),
		ServerThreadNum:   v.GetInt("server_thread_num"),
		OTLPEndpoint:      v.GetString("otlp_endpoint"),
		GraphName:         v.GetString("graph_name"),
		IndexFields:       v.GetString("index_fields"),
		COSBucketURL:      v.GetString("cos_bucket_url"),
		COSSecretID:       v.GetString("cos_secret_id"),
		COSSecretKey:      v.GetString("cos_secret_key"),
	}
	return opts, opts.Validate()
}

// Validate checks cross-field invariants before the server boots on them.
func (o ServerOptions) Validate() error {
	if o.Port <= 0 || o.Port > 65535 {
		return eulererr.New(eulererr.InvalidArgument, "config: port %d out of range", o.Port)
	}
	if o.ShardNumber <= 0 {
		return eulererr.New(eulererr.InvalidArgument, "config: shard_number must be positive, got %d", o.ShardNumber)
	}
	if o.ShardIndex < 0 || o.ShardIndex >= o.ShardNumber {
		return eulererr.New(eulererr.InvalidArgument, "config: shard_index %d not in [0,%d)", o.ShardIndex, o.ShardNumber)
	}
	if _, err := o.LoadType(); err != nil {
		return err
	}
	if _, err := o.SamplerType(); err != nil {
		return err
	}
	if o.ServerThreadNum <= 0 {
		return eulererr.New(eulererr.InvalidArgument, "config: server_thread_num must be positive, got %d", o.ServerThreadNum)
	}
	return nil
}

// LoadType parses load_data_type into the builder's enum.
func (o ServerOptions) LoadType() (graph.LoadDataType, error) {
	switch o.LoadDataType {
	case "none":
		return graph.LoadNone, nil
	case "node":
		return graph.LoadNode, nil
	case "edge":
		return graph.LoadEdge, nil
	case "all":
		return graph.LoadAll, nil
	}
	return graph.LoadNone, eulererr.New(eulererr.InvalidArgument, "config: unknown load_data_type %q", o.LoadDataType)
}

// SamplerType parses global_sampler_type into the builder's enum.
func (o ServerOptions) SamplerType() (graph.GlobalSamplerType, error) {
	switch o.GlobalSamplerType {
	case "none":
		return graph.SamplerNone, nil
	case "node":
		return graph.SamplerNode, nil
	case "edge":
		return graph.SamplerEdge, nil
	case "all":
		return graph.SamplerAll, nil
	}
	return graph.SamplerNone, eulererr.New(eulererr.InvalidArgument, "config: unknown global_sampler_type %q", o.GlobalSamplerType)
}
