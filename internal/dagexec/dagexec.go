// Package dagexec implements Euler's DAG executor: topological scheduling
// of operator kernels from their string-named "<producer>:<k>" inputs, with
// support for both synchronous and asynchronous kernels (spec §4.6).
//
// An Executor is shard-local: it resolves op names through a
// kernel.Registry and runs each DAG node against a single tensor.Context,
// exactly the runtime a shard server and the planner's local merge DAG
// both need. The planner (internal/planner) is the only caller that ever
// constructs a dagexec.DAG spanning more than one shard's worth of nodes —
// dagexec itself has no notion of shards.
package dagexec

import (
	"context"
	"strings"
	"sync"

	"github.com/dreamware/euler/internal/eulererr"
	"github.com/dreamware/euler/internal/kernel"
	"github.com/dreamware/euler/internal/tensor"
)

// DAG is a query plan: an ordered list of operator nodes. Node order in
// Nodes carries no scheduling meaning — dependencies are inferred purely
// from each node's Inputs referencing another node's "<name>:<k>" output
// (spec §3, §6) — but DATA_ROW_APPEND_MERGE relies on Nodes preserving the
// caller's intended shard order for its variadic inputs (spec §9 open
// question: the merge node's input order is the contract, not the split
// site's dispatch order).
type DAG struct {
	Nodes []kernel.Spec
}

// producerOf extracts "<producer>" from a "<producer>:<k>" reference: the
// text before the last colon. A name with no colon resolves to ""; a name
// with a colon yields its prefix whether or not a node of that name exists.
func producerOf(ref string) string {
	i := strings.LastIndex(ref, ":")
	if i < 0 {
		return ""
	}
	return ref[:i]
}

// Executor runs a DAG against a single shard's kernel registry and graph
// store, resolving each node's op through Registry.
type Executor struct {
	Registry *kernel.Registry
}

// NewExecutor constructs an Executor bound to reg.
func NewExecutor(reg *kernel.Registry) *Executor {
	return &Executor{Registry: reg}
}

// Run executes every node in dag, starting a node's goroutine only once
// every node it depends on (by name, via "<producer>:<k>" inputs) has
// finished. Independent nodes may run concurrently — the executor is not
// obliged to serialize them (spec §4.6) — and an async kernel's callback
// never blocks the goroutine that invoked it, since parking on a Go channel
// does not hold an OS thread. ctx's deadline is checked before each node
// starts; once exceeded, no further nodes are launched and Run returns an
// Unavailable status (spec §5's cancellation contract: in-flight kernels,
// being short, are not interrupted, but no new ones begin).
func (e *Executor) Run(ctx context.Context, env kernel.Env, dag DAG, inputs map[string]*tensor.Tensor, outputs []string) (map[string]*tensor.Tensor, error) {
	tctx := tensor.NewContext()
	for name, t := range inputs {
		tctx.Put(name, t)
	}

	nodeDone := make(map[string]chan struct{}, len(dag.Nodes))
	for _, n := range dag.Nodes {
		nodeDone[n.Name] = make(chan struct{})
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	var wg sync.WaitGroup
	for _, n := range dag.Nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(nodeDone[n.Name])

			for _, in := range n.Inputs {
				if producer := producerOf(in); producer != "" {
					if ch, ok := nodeDone[producer]; ok {
						<-ch
					}
				}
			}

			if failed() {
				return
			}
			if err := ctx.Err(); err != nil {
				fail(eulererr.New(eulererr.Unavailable, "dagexec: deadline exceeded before node %q started", n.Name))
				return
			}

			if asyncFn, ok := e.Registry.GetAsync(n.Op); ok {
				result := make(chan error, 1)
				asyncFn(env, tctx, n, func(err error) { result <- err })
				if err := <-result; err != nil {
					fail(err)
				}
				return
			}

			if err := e.Registry.Run(env, tctx, n); err != nil {
				fail(err)
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	result := make(map[string]*tensor.Tensor, len(outputs))
	for _, name := range outputs {
		t, ok := tctx.Get(name)
		if !ok {
			return nil, eulererr.New(eulererr.InvalidArgument, "dagexec: requested output %q was never produced", name)
		}
		result[name] = t
	}
	return result, nil
}
