package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/eval"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console for exploring state and config",
	Long: `Opens an interactive console for inspecting recorded state and the
evaluated configuration.

Available commands:
  state              Show state summary
  state.resources    List recorded resources
  state.outputs      Show state outputs
  resource <name>    Show one recorded resource
  output <name>      Show one output
  config             Show config summary
  config.resources   List declared resources
  json <expr>        Print state, state.resources or state.outputs as JSON
  help               Show available commands
  exit / quit        Exit the console`,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	dir, entryPoint, err := resolveProjectDir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	mgr, err := openStateManager(dir)
	if err != nil {
		return err
	}
	defer mgr.Close()

	st, err := mgr.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	// The config is optional in the console; state alone is still explorable.
	cfg, _ := eval.NewEvaluator(dir).LoadConfig(ctx, entryPoint, nil)

	fmt.Println("Terrane console (type 'help' for commands, 'exit' to quit)")
	fmt.Printf("State: %d resource(s), serial %d\n", len(st.Records), st.Serial)
	if cfg != nil {
		fmt.Printf("Config: %d resource(s) declared\n", len(cfg.Resources))
	}
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("terrane> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)

		switch parts[0] {
		case "exit", "quit":
			fmt.Println("Bye!")
			return nil

		case "help":
			fmt.Println("Available commands:")
			fmt.Println("  state              - Show state summary")
			fmt.Println("  state.resources    - List recorded resources")
			fmt.Println("  state.outputs      - Show state outputs")
			fmt.Println("  resource <name>    - Show one recorded resource")
			fmt.Println("  output <name>      - Show one output")
			fmt.Println("  config             - Show config summary")
			fmt.Println("  config.resources   - List declared resources")
			fmt.Println("  json <expr>        - Print as JSON")
			fmt.Println("  exit / quit        - Exit the console")

		case "state":
			fmt.Printf("Version:   %d\n", st.Version)
			fmt.Printf("Serial:    %d\n", st.Serial)
			fmt.Printf("Lineage:   %s\n", st.Lineage)
			fmt.Printf("Resources: %d\n", len(st.Records))
			fmt.Printf("Outputs:   %d\n", len(st.Outputs))

		case "state.resources":
			if len(st.Records) == 0 {
				fmt.Println("No resources in state.")
				continue
			}
			names := st.Names()
			sort.Strings(names)
			for _, name := range names {
				rec := st.Records[name]
				fmt.Printf("  %s (%s, provider %s)\n", name, rec.Kind, rec.Provider)
			}

		case "state.outputs":
			if len(st.Outputs) == 0 {
				fmt.Println("No outputs.")
				continue
			}
			printOutputs(st.Outputs)

		case "resource":
			if len(parts) < 2 {
				fmt.Println("Usage: resource <name>")
				continue
			}
			rec, ok := st.Record(parts[1])
			if !ok {
				fmt.Printf("Resource %s not found in state.\n", parts[1])
				continue
			}
			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println(string(data))

		case "output":
			if len(parts) < 2 {
				fmt.Println("Usage: output <name>")
				continue
			}
			if val, ok := st.Outputs[parts[1]]; ok {
				fmt.Printf("%s = %v\n", parts[1], val)
			} else {
				fmt.Printf("Output %s not found.\n", parts[1])
			}

		case "config":
			if cfg == nil {
				fmt.Println("No configuration loaded.")
				continue
			}
			fmt.Printf("Resources: %d\n", len(cfg.Resources))
			fmt.Printf("Outputs:   %d\n", len(cfg.Outputs))

		case "config.resources":
			if cfg == nil {
				fmt.Println("No configuration loaded.")
				continue
			}
			if len(cfg.Resources) == 0 {
				fmt.Println("No resources declared.")
				continue
			}
			for _, decl := range cfg.Resources {
				fmt.Printf("  %s (%s)\n", decl.Name, decl.Kind)
			}

		case "json":
			if len(parts) < 2 {
				fmt.Println("Usage: json <expr>")
				continue
			}
			var v any
			switch parts[1] {
			case "state":
				v = st
			case "state.resources":
				v = st.Records
			case "state.outputs":
				v = st.Outputs
			default:
				fmt.Printf("Unknown expression: %s\n", parts[1])
				continue
			}
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println(string(data))

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", parts[0])
		}
	}
	return nil
}
