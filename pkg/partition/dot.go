package partition

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
)

// ToDOT converts a partition tree to Graphviz DOT format for inspection.
// Branch nodes show their cutline and straddling net count, leaves show the
// region and net count.
func ToDOT(t *Tree) string {
	var buf bytes.Buffer
	buf.WriteString("digraph partition_tree {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=12];\n")
	buf.WriteString("\n")

	id := 0
	var rec func(n *Node) int
	rec = func(n *Node) int {
		my := id
		id++
		var label string
		if n.IsLeaf() {
			label = fmt.Sprintf("leaf %s\\n%d nets", n.Region, len(n.Nets))
			fmt.Fprintf(&buf, "  n%d [label=\"%s\", fillcolor=lightgrey];\n", my, label)
		} else {
			label = fmt.Sprintf("%s\\ncut %s=%d\\n%d straddling", n.Region, n.CutAxis, n.CutPos, len(n.Nets))
			fmt.Fprintf(&buf, "  n%d [label=\"%s\"];\n", my, label)
		}
		if n.Left != nil {
			child := rec(n.Left)
			fmt.Fprintf(&buf, "  n%d -> n%d;\n", my, child)
		}
		if n.Right != nil {
			child := rec(n.Right)
			fmt.Fprintf(&buf, "  n%d -> n%d;\n", my, child)
		}
		return my
	}
	if t.Root != nil {
		rec(t.Root)
	}

	buf.WriteString("}\n")
	return buf.String()
}

// RenderSVG renders DOT source to SVG bytes using the in-process graphviz
// engine.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse dot: %w", err)
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render svg: %w", err)
	}
	return buf.Bytes(), nil
}
