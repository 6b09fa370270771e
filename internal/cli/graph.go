package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  terrane graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(cmd.Context(), entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	g, err := engine.BuildGraph(engine.Expand(cfg.Resources))
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	var b strings.Builder
	b.WriteString("digraph resources {\n")
	b.WriteString("  rankdir = \"LR\";\n")
	for _, addr := range g.CreationOrder() {
		fmt.Fprintf(&b, "  %q;\n", addr)
		for _, edge := range g.InEdges(addr) {
			if edge.Property != "" {
				fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", edge.From, edge.To, edge.Property)
			} else {
				fmt.Fprintf(&b, "  %q -> %q;\n", edge.From, edge.To)
			}
		}
	}
	b.WriteString("}\n")

	fmt.Print(b.String())
	return nil
}
