package trace

import (
	"fmt"
	"strings"

	"github.com/seqpipe/seqpipe/internal/graph"
)

// RenderDOT renders the instance DAG in Graphviz DOT form.
//
// Nodes and edges are emitted in DAG creation order, which is itself
// deterministic, so the output is byte-stable across runs over the same
// inputs and safe to compare against golden files.
func RenderDOT(d *graph.DAG) string {
	var b strings.Builder
	b.WriteString("digraph pipeline {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, fontname=\"Helvetica\"];\n\n")

	for _, inst := range d.Instances {
		if inst.Sample != "" {
			fmt.Fprintf(&b, "  %q [label=\"%s\\n%s\"];\n", inst.ID, inst.Template.Name, inst.Sample)
		} else {
			fmt.Fprintf(&b, "  %q [label=\"%s\"];\n", inst.ID, inst.Template.Name)
		}
	}
	b.WriteString("\n")

	for _, inst := range d.Instances {
		for _, dep := range d.Deps(inst.ID) {
			fmt.Fprintf(&b, "  %q -> %q;\n", dep, inst.ID)
		}
	}

	b.WriteString("}\n")
	return b.String()
}
