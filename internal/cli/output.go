package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var outputJSON bool

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Show output values from state",
	Long: `Reads output values from state. With no argument all outputs print;
with a name only that output's value prints, which makes it scriptable.`,
	RunE: runOutput,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
}

func runOutput(cmd *cobra.Command, args []string) error {
	dir, _, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}
	mgr, err := openStateManager(dir)
	if err != nil {
		return err
	}
	defer mgr.Close()

	st, err := mgr.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(args) > 0 {
		val, ok := st.Outputs[args[0]]
		if !ok {
			return fmt.Errorf("output %q not found", args[0])
		}
		if outputJSON {
			data, err := json.Marshal(val)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		} else {
			fmt.Println(val)
		}
		return nil
	}

	if len(st.Outputs) == 0 {
		fmt.Println("No outputs defined.")
		return nil
	}
	if outputJSON {
		data, err := json.MarshalIndent(st.Outputs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	printOutputs(st.Outputs)
	return nil
}

func printOutputs(outputs map[string]any) {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s = %v\n", k, outputs[k])
	}
}
