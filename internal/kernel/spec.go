// Package kernel implements Euler's operator kernels: the ~23 named
// dataflow operators (API_SAMPLE_NODE … GP_REGULAR_DATA_MERGE) that run
// against a graph.Store and a tensor.Context, plus the registries a DAG
// executor resolves op names and UDF names through (spec §4.5, §4.7).
package kernel

// Spec is one DAG node's static parameters, independent of any particular
// DAG executor's node representation — the DAG executor translates its own
// node schema into a Spec before invoking a kernel Func (spec §4.6's "<node
// name>:<k>" input convention is carried verbatim in Inputs).
type Spec struct {
	Name string
	Op   string

	// Inputs holds the DAG-level input references this node consumes,
	// each either a plain tensor name already bound in the context or a
	// "<producer>:<k>" reference the executor already resolved before
	// calling the kernel.
	Inputs []string

	// DNF is the parsed clause list for kernels that accept a dnf filter
	// (nil when the node has none).
	DNF []string

	// PostProcess holds directives like "order_by id asc", "limit 50".
	PostProcess []string

	UDFName      string
	UDFStrParams []string
	UDFNumParams []float64
}

// Input returns Inputs[i], or "" if out of range.
func (s Spec) Input(i int) string {
	if i < 0 || i >= len(s.Inputs) {
		return ""
	}
	return s.Inputs[i]
}
