package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/eval"
	"github.com/terrane-io/terrane/internal/ir"
)

// ErrPendingChanges is returned by plan -detailed-exitcode when the plan
// holds changes. main maps it to exit code 2 without printing an error.
var ErrPendingChanges = errors.New("plan has pending changes")

var (
	planOutFile      string
	planDestroy      bool
	planDetailedExit bool
	planTargets      []string
	planProperties   map[string]string
)

var planCmd = &cobra.Command{
	Use:   "plan [dir|file]",
	Short: "Show changes required by the current configuration",
	Long: `Compares the declared resources with recorded state and prints the
actions required to converge: create, update, replace or destroy, per
resource. Nothing is provisioned.

A plan written with -o can be applied later, as long as state has not moved
underneath it.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan to a file for later apply")
	planCmd.Flags().BoolVar(&planDestroy, "destroy", false, "Plan the destruction of all recorded resources")
	planCmd.Flags().BoolVar(&planDetailedExit, "detailed-exitcode", false, "Exit 2 when the plan holds changes, 0 when it is empty")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit planning to a resource and its dependencies (repeatable)")
	planCmd.Flags().StringToStringVarP(&planProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runPlan(cmd *cobra.Command, args []string) error {
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

	fmt.Print("Loading configuration... ")
	cfg, err := eval.NewEvaluator(dir).LoadConfig(ctx, entryPoint, planProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	registry := newRegistry()
	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}

	st, err := mgr.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := loadStateProviders(registry, st); err != nil {
		return err
	}
	if err := mergeCatalog(registry, dir); err != nil {
		return err
	}

	eng := engine.NewEngine(registry)

	fmt.Print("Calculating plan... ")
	var plan *ir.Plan
	if planDestroy {
		plan, err = eng.CreateDestroyPlan(ctx, cfg, st)
	} else {
		plan, err = eng.CreatePlanWithTargets(ctx, cfg, st, planTargets)
	}
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")
	plan.Metadata.Workspace = currentWorkspace(dir)

	if !plan.HasChanges() {
		fmt.Println("\nNo changes. Resources are up-to-date.")
		return nil
	}

	fmt.Println("\nTerrane will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if planOutFile != "" {
		if err := savePlanFile(planOutFile, plan); err != nil {
			return err
		}
		fmt.Printf("\nPlan saved to %s. Apply it with: terrane apply %s\n", planOutFile, planOutFile)
	}

	if planDetailedExit {
		cmd.SilenceErrors = true
		return ErrPendingChanges
	}
	return nil
}
