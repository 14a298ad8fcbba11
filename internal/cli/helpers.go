package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/terrane-io/terrane/internal/audit"
	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/schema"
	"github.com/terrane-io/terrane/internal/state"
)

// noColor disables ANSI escapes in rendered output. Set by --no-color or the
// NO_COLOR environment variable.
var noColor bool

func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// resolveProjectDir resolves the optional positional argument shared by the
// config-driven commands: no argument means the current directory with
// main.pkl as entry point; a directory argument keeps main.pkl; a file
// argument splits into its directory and base name.
func resolveProjectDir(args []string) (dir, entryPoint string, err error) {
	dir, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint = "main.pkl"

	if len(args) == 0 {
		return dir, entryPoint, nil
	}

	abs, err := filepath.Abs(args[0])
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if info.IsDir() {
		return abs, entryPoint, nil
	}
	return filepath.Dir(abs), filepath.Base(abs), nil
}

// openStateManager builds the state backend and wraps it in a manager.
// The backend comes from --backend/--backend-config when given, otherwise
// from .terrane/backend.json, otherwise the local file backend. Local and
// sqlite backends default their path from the project directory and
// current workspace.
func openStateManager(projectDir string) (*state.Manager, error) {
	return openWorkspaceState(projectDir, currentWorkspace(projectDir))
}

func openWorkspaceState(projectDir, ws string) (*state.Manager, error) {
	cfg, err := backendSettings(projectDir)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "local", "":
		if cfg.Config["path"] == "" {
			cfg.Config["path"] = state.StatePath(projectDir, ws)
		}
	case "sqlite":
		if cfg.Config["path"] == "" {
			name := "state.db"
			if ws != "default" {
				name = fmt.Sprintf("state.%s.db", ws)
			}
			cfg.Config["path"] = filepath.Join(projectDir, state.DefaultStateDir, name)
		}
	case "s3":
		if cfg.Config["key"] == "" && ws != "default" {
			cfg.Config["key"] = fmt.Sprintf("terrane/workspaces/%s/state.json", ws)
		}
	}

	backend, err := state.NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	return state.NewManager(backend), nil
}

func backendFilePath(projectDir string) string {
	return filepath.Join(projectDir, state.DefaultStateDir, "backend.json")
}

// backendSettings resolves the backend configuration. Flags win over the
// project's backend.json so a one-off --backend can still reach elsewhere.
func backendSettings(projectDir string) (*state.BackendConfig, error) {
	cfg := &state.BackendConfig{Type: backendType, Config: map[string]string{}}
	for k, v := range backendConfig {
		cfg.Config[k] = v
	}
	if cfg.Type != "" || len(cfg.Config) > 0 {
		return cfg, nil
	}

	data, err := os.ReadFile(backendFilePath(projectDir))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backend configuration: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", backendFilePath(projectDir), err)
	}
	if cfg.Config == nil {
		cfg.Config = map[string]string{}
	}
	return cfg, nil
}

// newRegistry returns an empty provider registry. Providers load lazily as
// declarations and records demand them.
func newRegistry() *provider.Registry {
	return provider.NewRegistry()
}

// loadRequiredProviders loads every provider the declaration set references,
// inferring the provider from the kind when the declaration leaves it unset.
func loadRequiredProviders(registry *provider.Registry, cfg *ir.Config) error {
	seen := make(map[string]bool)
	for _, decl := range cfg.Resources {
		name := decl.Provider
		if name == "" {
			name = provider.InferProvider(decl.Kind)
		}
		if !seen[name] {
			seen[name] = true
			if err := registry.LoadProvider(name); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", name, err)
			}
		}
	}
	return nil
}

// loadStateProviders loads every provider referenced by recorded resources,
// needed to destroy records whose declarations are gone.
func loadStateProviders(registry *provider.Registry, st *ir.State) error {
	seen := make(map[string]bool)
	for _, rec := range st.Records {
		if rec.Provider != "" && !seen[rec.Provider] {
			seen[rec.Provider] = true
			if err := registry.LoadProvider(rec.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", rec.Provider, err)
			}
		}
	}
	return nil
}

// mergeCatalog folds the project's schema catalog into the registry, when
// one exists. Runs after provider loading so provider-registered kinds win
// over catalog duplicates.
func mergeCatalog(registry *provider.Registry, projectDir string) error {
	path := filepath.Join(projectDir, state.DefaultStateDir, "catalog.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	cat, err := schema.LoadCatalogFile(path)
	if err != nil {
		return err
	}
	return registry.Schemas().Merge(cat)
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol := "~"
		verb := "updated in-place"
		color := colorize(colorYellow)
		switch change.Action {
		case ir.ActionCreate:
			symbol, verb, color = "+", "created", colorize(colorGreen)
		case ir.ActionDestroy:
			symbol, verb, color = "-", "destroyed", colorize(colorRed)
		case ir.ActionReplace:
			verb = "replaced"
			symbol = "-/+"
		case ir.ActionNoOp:
			symbol, verb, color = " ", "left unchanged", ""
		}

		address := change.Address
		if address == "" {
			address = ir.ResourceAddress(change.Kind, change.Name)
		}
		fmt.Printf("\n%s  # %s will be %s%s\n", color, address, verb, colorize(colorReset))
		if change.Reason != "" && change.Action != ir.ActionCreate {
			fmt.Printf("%s  # (%s)%s\n", color, change.Reason, colorize(colorReset))
		}
		fmt.Printf("%s  %s resource %q %q {\n", color, symbol, change.Kind, change.Name)
		renderPropertyDiff(change.Diff, color)
		fmt.Printf("%s  }%s\n", color, colorize(colorReset))
	}
}

// renderPropertyDiff prints attribute diffs in sorted order. Sensitive
// attributes render redacted; unknown values render the placeholder bare.
func renderPropertyDiff(diff map[string]*ir.PropertyDiff, color string) {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		d := diff[key]
		before, after := formatDiffValue(d, d.Before), formatDiffValue(d, d.After)
		suffix := ""
		if d.ForcesReplacement {
			suffix = " # forces replacement"
		}
		switch d.Action {
		case ir.ActionCreate:
			fmt.Printf("%s      + %s = %s%s%s\n", colorize(colorGreen), key, after, suffix, colorize(colorReset))
		case ir.ActionDestroy:
			fmt.Printf("%s      - %s = %s%s\n", colorize(colorRed), key, before, colorize(colorReset))
		case ir.ActionUpdate:
			fmt.Printf("%s      ~ %s = %s -> %s%s%s\n", colorize(colorYellow), key, before, after, suffix, colorize(colorReset))
		default:
			fmt.Printf("%s        %s = %s\n", color, key, after)
		}
	}
}

func formatDiffValue(d *ir.PropertyDiff, v any) string {
	if d.Sensitive {
		return "(sensitive value)"
	}
	if d.Unknown && v == ir.Unknown {
		return ir.Unknown
	}
	return formatValue(v)
}

// formatValue returns a human-readable rendering of an attribute value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  Destroy: %d\n", plan.Summary.Destroy)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// applyProgress prints one line per apply event, in the shape
// "name: Creating..." / "name: Creation complete after 1.2s".
func applyProgress(event engine.ApplyEvent) {
	name := event.Name
	if event.Deposed {
		name += " (deposed)"
	}

	var noun string
	switch event.Action {
	case ir.ActionCreate:
		noun = "Creation"
	case ir.ActionUpdate:
		noun = "Update"
	case ir.ActionDestroy:
		noun = "Destruction"
	default:
		noun = "Action"
	}

	switch event.Status {
	case engine.StepApplying:
		verb := strings.TrimSuffix(noun, "ion") + "ing"
		if event.Action == ir.ActionUpdate {
			verb = "Updating"
		}
		fmt.Printf("%s: %s...\n", name, verb)
	case engine.StepApplied:
		fmt.Printf("%s: %s complete after %s\n", name, noun, formatDuration(event.Duration))
	case engine.StepFailed:
		fmt.Printf("%s%s: %s failed after %s: %v%s\n",
			colorize(colorRed), name, noun, formatDuration(event.Duration), event.Err, colorize(colorReset))
	case engine.StepBlocked:
		fmt.Printf("%s%s: Blocked: %v%s\n", colorize(colorYellow), name, event.Err, colorize(colorReset))
	case engine.StepSkipped:
		fmt.Printf("%s: Skipped (apply cancelled)\n", name)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// confirm prompts for interactive approval.
func confirm(prompt string) bool {
	fmt.Print(prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}

func auditTrailPath(projectDir string) string {
	return filepath.Join(projectDir, state.DefaultStateDir, "audit.log")
}

// recordAudit appends one audit trail entry. Trail failures are logged and
// never block the operation itself.
func recordAudit(projectDir string, entry audit.Entry) {
	trail, err := audit.Open(auditTrailPath(projectDir))
	if err != nil {
		logging.Warn("audit trail unavailable", "error", err)
		return
	}
	defer trail.Close()
	entry.Workspace = currentWorkspace(projectDir)
	trail.Record(entry)
}

func auditChanges(plan *ir.Plan) []audit.Change {
	changes := make([]audit.Change, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		changes = append(changes, audit.Change{Name: c.Name, Kind: c.Kind, Action: string(c.Action)})
	}
	return changes
}

func auditSummary(plan *ir.Plan) map[string]int {
	return map[string]int{
		"create":  plan.Summary.Create,
		"update":  plan.Summary.Update,
		"replace": plan.Summary.Replace,
		"destroy": plan.Summary.Destroy,
	}
}

// savePlanFile writes a plan as indented JSON.
func savePlanFile(path string, plan *ir.Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// loadPlanFile reads a plan previously written by plan -o.
func loadPlanFile(path string) (*ir.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}
	var plan ir.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if plan.Metadata == nil {
		return nil, fmt.Errorf("plan file %s has no metadata", path)
	}
	return &plan, nil
}
