package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/eval"
	"github.com/terrane-io/terrane/internal/provider"
)

var graphCmd = &cobra.Command{
	Use:   "graph [dir|file]",
	Short: "Output the dependency graph in DOT format",
	Long: `Prints the declared dependency graph in Graphviz DOT format. Pipe
the output to 'dot' to generate an image:

  terrane graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	dir, entryPoint, err := resolveProjectDir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	cfg, err := eval.NewEvaluator(dir).LoadConfig(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	registry := newRegistry()
	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}
	if err := mergeCatalog(registry, dir); err != nil {
		return err
	}

	decls := engine.ExpandForEach(cfg.Resources)
	for _, decl := range decls {
		if decl.Provider == "" {
			decl.Provider = provider.InferProvider(decl.Kind)
		}
	}
	graph, err := engine.BuildGraph(decls, registry.Schemas())
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph terrane {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, name := range graph.CreationOrder() {
		node := graph.Node(name)
		fmt.Printf("  %q [label=\"%s\\n(%s)\"];\n", name, name, node.Kind)
	}
	fmt.Println()

	for _, name := range graph.CreationOrder() {
		for _, dep := range graph.Node(name).Deps {
			fmt.Printf("  %q -> %q;\n", name, dep)
		}
	}

	fmt.Println("}")
	return nil
}
