package dagexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/tensor"
)

// chainRegistry registers two trivial kernels: "double" reads a single INT64 and
// writes it back doubled, "addone" reads another node's output and adds 1,
// so a two-node DAG exercises producer→consumer ordering.
func chainRegistry(t *testing.T) *kernel.Registry {
	t.Helper()
	r := kernel.NewRegistry()
	r.Register("double", func(env kernel.Env, ctx *tensor.Context, spec kernel.Spec) error {
		in := ctx.MustGet(spec.Input(0))
		ctx.Put(spec.Name+":0", tensor.FromInt64(spec.Name+":0", []int64{in.I64[0] * 2}))
		return nil
	}, kernel.NoSplit, "", false)
	r.Register("addone", func(env kernel.Env, ctx *tensor.Context, spec kernel.Spec) error {
		in := ctx.MustGet(spec.Input(0))
		ctx.Put(spec.Name+":0", tensor.FromInt64(spec.Name+":0", []int64{in.I64[0] + 1}))
		return nil
	}, kernel.NoSplit, "", false)
	return r
}

func TestExecutorRunsProducerBeforeConsumer(t *testing.T) {
	r := chainRegistry(t)
	exec := NewExecutor(r)

	dag := DAG{Nodes: []kernel.Spec{
		{Name: "a", Op: "double", Inputs: []string{"x"}},
		{Name: "b", Op: "addone", Inputs: []string{"a:0"}},
	}}

	out, err := exec.Run(context.Background(), kernel.Env{}, dag,
		map[string]*tensor.Tensor{"x": tensor.FromInt64("x", []int64{5})},
		[]string{"b:0"})
	require.NoError(t, err)
	require.Equal(t, int64(11), out["b:0"].I64[0])
}

func TestExecutorUnknownOutputFails(t *testing.T) {
	r := chainRegistry(t)
	exec := NewExecutor(r)
	dag := DAG{Nodes: []kernel.Spec{{Name: "a", Op: "double", Inputs: []string{"x"}}}}
	_, err := exec.Run(context.Background(), kernel.Env{}, dag,
		map[string]*tensor.Tensor{"x": tensor.FromInt64("x", []int64{1})},
		[]string{"missing:0"})
	require.Error(t, err)
}

func TestExecutorAsyncKernelDoesNotBlockSiblings(t *testing.T) {
	r := kernel.NewRegistry()
	started := make(chan struct{})
	r.RegisterAsync("slow", func(env kernel.Env, ctx *tensor.Context, spec kernel.Spec, done func(error)) {
		go func() {
			close(started)
			time.Sleep(10 * time.Millisecond)
			ctx.Put(spec.Name+":0", tensor.FromInt64(spec.Name+":0", []int64{42}))
			done(nil)
		}()
	}, kernel.NoSplit, "", false)
	r.Register("fast", func(env kernel.Env, ctx *tensor.Context, spec kernel.Spec) error {
		<-started // proves "fast" and "slow" ran concurrently, not sequentially
		ctx.Put(spec.Name+":0", tensor.FromInt64(spec.Name+":0", []int64{7}))
		return nil
	}, kernel.NoSplit, "", false)

	exec := NewExecutor(r)
	dag := DAG{Nodes: []kernel.Spec{
		{Name: "slow", Op: "slow"},
		{Name: "fast", Op: "fast"},
	}}
	out, err := exec.Run(context.Background(), kernel.Env{}, dag, nil, []string{"slow:0", "fast:0"})
	require.NoError(t, err)
	require.Equal(t, int64(42), out["slow:0"].I64[0])
	require.Equal(t, int64(7), out["fast:0"].I64[0])
}

func TestExecutorDeadlineExceeded(t *testing.T) {
	r := chainRegistry(t)
	exec := NewExecutor(r)
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	time.Sleep(time.Millisecond)
	dag := DAG{Nodes: []kernel.Spec{{Name: "a", Op: "double", Inputs: []string{"x"}}}}
	_, err := exec.Run(ctx, kernel.Env{}, dag, map[string]*tensor.Tensor{"x": tensor.FromInt64("x", []int64{1})}, []string{"a:0"})
	require.Error(t, err)
}
