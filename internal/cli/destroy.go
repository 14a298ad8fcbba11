package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/eval"
	"github.com/terrane-io/terrane/internal/logging"
)

var (
	destroyAutoApprove bool
	destroyParallelism int
	destroyProperties  map[string]string
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [dir|file]",
	Short: "Destroy all recorded resources",
	Long: `Destroys every resource tracked in state, in reverse dependency
order: no resource is destroyed before everything that depends on it.

Resources declared with preventDestroy abort the plan.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
	destroyCmd.Flags().IntVar(&destroyParallelism, "parallelism", 0, "Maximum concurrent provider actions (default 10)")
	destroyCmd.Flags().StringToStringVarP(&destroyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runDestroy(cmd *cobra.Command, args []string) error {
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

	if err := mgr.Lock(ctx, "destroy"); err != nil {
		return err
	}
	defer mgr.Unlock(ctx)

	// The configuration is only needed for lifecycle guards; a broken one
	// must not stop a teardown.
	cfg, err := eval.NewEvaluator(dir).LoadConfig(ctx, entryPoint, destroyProperties)
	if err != nil {
		logging.Warn("configuration not evaluable, destroying from state alone", "error", err)
		cfg = nil
	}

	st, err := mgr.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(st.Records) == 0 {
		fmt.Println("No resources recorded. Nothing to destroy.")
		return nil
	}

	registry := newRegistry()
	if err := loadStateProviders(registry, st); err != nil {
		return err
	}

	eng := engine.NewEngine(registry)
	plan, err := eng.CreateDestroyPlan(ctx, cfg, st)
	if err != nil {
		return fmt.Errorf("destroy plan generation failed: %w", err)
	}
	plan.Metadata.Workspace = currentWorkspace(dir)

	fmt.Println("Terrane will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		if !confirm(colorize(colorRed) + "\nDo you really want to destroy all resources? (y/n): " + colorize(colorReset)) {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	return executePlan(cmd, dir, eng, mgr, plan, st, destroyParallelism)
}
