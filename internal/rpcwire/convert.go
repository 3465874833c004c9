package rpcwire

import (
	"github.com/dreamware/euler/internal/dagexec"
	"github.com/dreamware/euler/internal/kernel"
)

// DAGToWire converts an executable DAG into its wire form.
func DAGToWire(dag dagexec.DAG) DAGWire {
	w := DAGWire{Nodes: make([]DAGNodeWire, len(dag.Nodes))}
	for i, n := range dag.Nodes {
		w.Nodes[i] = DAGNodeWire{
			Name:         n.Name,
			Op:           n.Op,
			Inputs:       n.Inputs,
			DNF:          n.DNF,
			PostProcess:  n.PostProcess,
			UDFName:      n.UDFName,
			UDFStrParams: n.UDFStrParams,
			UDFNumParams: n.UDFNumParams,
		}
	}
	return w
}

// DAGFromWire converts a received wire DAG back into the executor's form.
func DAGFromWire(w DAGWire) dagexec.DAG {
	dag := dagexec.DAG{Nodes: make([]kernel.Spec, len(w.Nodes))}
	for i, n := range w.Nodes {
		dag.Nodes[i] = kernel.Spec{
			Name:         n.Name,
			Op:           n.Op,
			Inputs:       n.Inputs,
			DNF:          n.DNF,
			PostProcess:  n.PostProcess,
			UDFName:      n.UDFName,
			UDFStrParams: n.UDFStrParams,
			UDFNumParams: n.UDFNumParams,
		}
	}
	return dag
}
