package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/audit"
	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/eval"
	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/state"
)

var (
	applyAutoApprove bool
	applyTargets     []string
	applyParallelism int
	applyProperties  map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [dir|file|plan-file]",
	Short: "Create or update resources to match the configuration",
	Long: `Plans the difference between declared resources and recorded state,
then executes it: creating, updating, replacing and destroying resources in
dependency order on a bounded worker pool.

The argument may be a configuration directory, a Pkl entry point, or a plan
file previously written with plan -o. A saved plan only applies while state
is still at the serial it was planned against.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the apply to a resource and its dependencies (repeatable)")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Maximum concurrent provider actions (default 10)")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
	// A regular-file argument that is not a Pkl module is a saved plan.
	if len(args) > 0 && !strings.HasSuffix(args[0], ".pkl") {
		if info, err := os.Stat(args[0]); err == nil && !info.IsDir() {
			return applySavedPlan(cmd, args[0])
		}
	}

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

	if err := mgr.Lock(ctx, "apply"); err != nil {
		return err
	}
	defer mgr.Unlock(ctx)

	fmt.Print("Loading configuration... ")
	cfg, err := eval.NewEvaluator(dir).LoadConfig(ctx, entryPoint, applyProperties)
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
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, st, applyTargets)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")
	plan.Metadata.Workspace = currentWorkspace(dir)

	if !plan.HasChanges() {
		fmt.Println("No changes. Resources are up-to-date.")
		return nil
	}

	fmt.Println("\nTerrane will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions? (y/n): ") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	return executePlan(cmd, dir, eng, mgr, plan, st, applyParallelism)
}

// applySavedPlan applies a plan written by plan -o against the current
// project directory's state.
func applySavedPlan(cmd *cobra.Command, path string) error {
	ctx := cmd.Context()
	dir, _, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}

	plan, err := loadPlanFile(path)
	if err != nil {
		return err
	}

	mgr, err := openStateManager(dir)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Lock(ctx, "apply"); err != nil {
		return err
	}
	defer mgr.Unlock(ctx)

	st, err := mgr.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if st.Serial != plan.Metadata.StateSerial {
		return fmt.Errorf("saved plan is stale: planned against state serial %d, current serial is %d; re-run plan",
			plan.Metadata.StateSerial, st.Serial)
	}

	registry := newRegistry()
	if err := loadStateProviders(registry, st); err != nil {
		return err
	}
	for _, change := range plan.Changes {
		if err := registry.LoadProvider(change.Provider); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", change.Provider, err)
		}
	}

	if !plan.HasChanges() {
		fmt.Println("No changes. Resources are up-to-date.")
		return nil
	}

	fmt.Println("Terrane will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions? (y/n): ") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	return executePlan(cmd, dir, engine.NewEngine(registry), mgr, plan, st, applyParallelism)
}

// executePlan runs the plan with per-record persistence, records the audit
// trail entry, and prints the closing summary.
func executePlan(cmd *cobra.Command, dir string, eng *engine.Engine, mgr *state.Manager, plan *ir.Plan, st *ir.State, parallelism int) error {
	ctx := cmd.Context()
	fmt.Printf("\nApplying %d change(s)...\n\n", len(plan.Changes))

	_, applyErr := eng.ApplyPlanWithOptions(ctx, plan, st, engine.ApplyOptions{
		Callback:    applyProgress,
		Sink:        mgr,
		Parallelism: parallelism,
	})

	// Records were persisted action by action; this pass captures outputs
	// and the final serial, even when the apply was cancelled.
	if err := mgr.WriteAll(context.WithoutCancel(ctx)); err != nil {
		if applyErr == nil {
			applyErr = fmt.Errorf("failed to write state: %w", err)
		}
	}

	entry := audit.Entry{
		Operation: "apply",
		PlanID:    plan.Metadata.ID,
		Changes:   auditChanges(plan),
		Summary:   auditSummary(plan),
	}
	if plan.Metadata.Destroy {
		entry.Operation = "destroy"
	}
	if applyErr != nil {
		entry.Error = applyErr.Error()
	}
	recordAudit(dir, entry)

	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}

	if plan.Metadata.Destroy {
		fmt.Printf("\nDestroy complete! Resources: %d destroyed.\n", plan.Summary.Destroy)
		return nil
	}

	added := plan.Summary.Create + plan.Summary.Replace
	destroyed := plan.Summary.Destroy + plan.Summary.Replace
	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
		added, plan.Summary.Update, destroyed)

	if len(st.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		printOutputs(st.Outputs)
	}
	return nil
}
