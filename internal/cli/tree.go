package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/gridroute/pkg/errors"
	"github.com/matzehuels/gridroute/pkg/partition"
)

func newTreeCmd() *cobra.Command {
	var (
		dotOut string
		svgOut string
	)

	cmd := &cobra.Command{
		Use:   "tree <design.toml>",
		Short: "Inspect the partition tree for a design",
		Long: `Tree builds the spatial partition tree the parallel router would use for
the design and prints it. With --dot or --svg the tree is written in
Graphviz DOT format or rendered to SVG.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			design, err := LoadDesign(args[0])
			if err != nil {
				return err
			}
			env := design.BuildEnv()
			tree := partition.Build(env.Netlist, env.State, env.Grid)

			if tree.Root == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "empty netlist, no partition tree")
				return nil
			}

			if dotOut != "" || svgOut != "" {
				dot := partition.ToDOT(tree)
				if dotOut != "" {
					if err := os.WriteFile(dotOut, []byte(dot), 0644); err != nil {
						return errors.Wrap(errors.ErrCodeRender, err, "writing %s", dotOut)
					}
					logger.Info("wrote partition tree", "dot", dotOut)
				}
				if svgOut != "" {
					svg, err := partition.RenderSVG(cmd.Context(), dot)
					if err != nil {
						return errors.Wrap(errors.ErrCodeRender, err, "rendering partition tree")
					}
					if err := os.WriteFile(svgOut, svg, 0644); err != nil {
						return errors.Wrap(errors.ErrCodeRender, err, "writing %s", svgOut)
					}
					logger.Info("wrote partition tree", "svg", svgOut)
				}
				return nil
			}

			fmt.Fprint(cmd.OutOrStdout(), formatTree(tree))
			return nil
		},
	}

	cmd.Flags().StringVar(&dotOut, "dot", "", "write the tree as Graphviz DOT to this file")
	cmd.Flags().StringVar(&svgOut, "svg", "", "render the tree as SVG to this file")

	return cmd
}

// formatTree renders the partition tree as an indented text outline.
func formatTree(tree *partition.Tree) string {
	var sb strings.Builder
	var rec func(n *partition.Node, depth int)
	rec = func(n *partition.Node, depth int) {
		if n == nil {
			return
		}
		indent := strings.Repeat("  ", depth)
		if n.IsLeaf() {
			fmt.Fprintf(&sb, "%sleaf %s: %d nets\n", indent, n.Region, len(n.Nets))
			return
		}
		fmt.Fprintf(&sb, "%s%s cut %s=%d: %d straddling\n", indent, n.Region, n.CutAxis, n.CutPos, len(n.Nets))
		rec(n.Left, depth+1)
		rec(n.Right, depth+1)
	}
	rec(tree.Root, 0)
	return sb.String()
}
