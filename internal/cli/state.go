package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/audit"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify recorded state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded resources",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one recorded resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <name> <new-name>",
	Short: "Rename a resource in state",
	Long: `Renames a record without touching the real resource, so a renamed
declaration does not plan as destroy-and-create. Dependency references held
by other records follow the rename.`,
	Args: cobra.ExactArgs(2),
	RunE: runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Forget a resource without destroying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
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
		return err
	}
	if len(st.Records) == 0 {
		fmt.Println("State is empty.")
		return nil
	}

	names := st.Names()
	sort.Strings(names)
	for _, name := range names {
		rec := st.Records[name]
		fmt.Printf("%s  (%s)  id=%s\n", name, rec.Kind, rec.ID)
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
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
		return err
	}
	rec, ok := st.Record(args[0])
	if !ok {
		return fmt.Errorf("no resource named %q in state", args[0])
	}

	fmt.Printf("# %s\n", rec.Name)
	fmt.Printf("kind      = %s\n", rec.Kind)
	fmt.Printf("provider  = %s\n", rec.Provider)
	fmt.Printf("id        = %s\n", rec.ID)
	fmt.Printf("serial    = %d\n", rec.Serial)
	if rec.Tainted {
		fmt.Println("tainted   = true")
	}
	if len(rec.Dependencies) > 0 {
		fmt.Printf("dependsOn = %v\n", rec.Dependencies)
	}
	fmt.Printf("created   = %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("updated   = %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"))

	printAttrMap("inputs", rec.Inputs)
	printAttrMap("outputs", rec.Outputs)
	return nil
}

func printAttrMap(label string, attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", label)
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %s\n", k, formatValue(attrs[k]))
	}
}

func runStateMv(cmd *cobra.Command, args []string) error {
	oldName, newName := args[0], args[1]
	dir, _, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	mgr, err := openStateManager(dir)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Lock(ctx, "state mv"); err != nil {
		return err
	}
	defer mgr.Unlock(ctx)

	st, err := mgr.Load(ctx)
	if err != nil {
		return err
	}
	rec, ok := st.Record(oldName)
	if !ok {
		return fmt.Errorf("no resource named %q in state", oldName)
	}
	if _, taken := st.Record(newName); taken {
		return fmt.Errorf("a resource named %q already exists in state", newName)
	}

	st.RemoveRecord(oldName)
	rec.Name = newName
	rec.Serial++
	st.SetRecord(rec)

	// Dependency edges persisted on other records follow the rename.
	for _, other := range st.Records {
		renamed := false
		for i, dep := range other.Dependencies {
			if dep == oldName {
				other.Dependencies[i] = newName
				renamed = true
			}
		}
		if renamed {
			other.Serial++
			st.SetRecord(other)
		}
	}

	if err := mgr.WriteAll(ctx); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	recordAudit(dir, audit.Entry{
		Operation: "state.mv",
		Changes:   []audit.Change{{Name: newName, Kind: rec.Kind, Action: "move"}},
	})
	fmt.Printf("Moved %s to %s.\n", oldName, newName)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	name := args[0]
	dir, _, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	mgr, err := openStateManager(dir)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Lock(ctx, "state rm"); err != nil {
		return err
	}
	defer mgr.Unlock(ctx)

	st, err := mgr.Load(ctx)
	if err != nil {
		return err
	}
	rec, ok := st.Record(name)
	if !ok {
		return fmt.Errorf("no resource named %q in state", name)
	}

	var dependents []string
	for _, other := range st.Records {
		for _, dep := range other.Dependencies {
			if dep == name {
				dependents = append(dependents, other.Name)
			}
		}
	}
	sort.Strings(dependents)
	if len(dependents) > 0 {
		fmt.Printf("%sWarning: %v still depend(s) on %s in state.%s\n",
			colorize(colorYellow), dependents, name, colorize(colorReset))
	}

	st.RemoveRecord(name)
	if err := mgr.DeleteRecord(ctx, name); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	recordAudit(dir, audit.Entry{
		Operation: "state.rm",
		Changes:   []audit.Change{{Name: name, Kind: rec.Kind, Action: "forget"}},
	})
	fmt.Printf("Removed %s from state. (resource was NOT destroyed)\n", name)
	return nil
}
