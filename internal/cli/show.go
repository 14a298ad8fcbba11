package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [plan-file]",
	Short: "Show the current state or a saved plan",
	Long: `With no argument, displays a human-readable view of the current
state. With a plan file written by plan -o, displays the plan instead.`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print as JSON")
}

func runShow(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return showPlanFile(args[0])
	}

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

	if showJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("State: version=%d serial=%d lineage=%s\n", st.Version, st.Serial, st.Lineage)
	fmt.Printf("Resources: %d\n\n", len(st.Records))

	names := st.Names()
	sort.Strings(names)
	for _, name := range names {
		rec := st.Records[name]
		fmt.Printf("# %s (%s)\n", rec.Name, rec.Kind)
		fmt.Printf("  provider = %s\n", rec.Provider)
		fmt.Printf("  id       = %s\n", rec.ID)
		if rec.Tainted {
			fmt.Println("  tainted  = true")
		}
		keys := make([]string, 0, len(rec.Outputs))
		for k := range rec.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s = %v\n", k, rec.Outputs[k])
		}
		fmt.Println()
	}

	if len(st.Outputs) > 0 {
		fmt.Println("Outputs:")
		printOutputs(st.Outputs)
	}
	return nil
}

func showPlanFile(path string) error {
	plan, err := loadPlanFile(path)
	if err != nil {
		return err
	}
	if showJSON {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Plan %s (workspace %s, against state serial %d):\n",
		plan.Metadata.ID, plan.Metadata.Workspace, plan.Metadata.StateSerial)
	renderPlanChanges(plan)
	renderPlanSummary(plan)
	return nil
}
