package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/state"
)

var workspaceForce bool

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces",
	Long: `Workspaces hold independent state for the same configuration, so
one declaration set can converge several environments. Every project starts
on the "default" workspace.`,
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE:  runWorkspaceList,
}

var workspaceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _, err := resolveProjectDir(nil)
		if err != nil {
			return err
		}
		fmt.Println(currentWorkspace(dir))
		return nil
	},
}

var workspaceNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a workspace and switch to it",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceNew,
}

var workspaceSelectCmd = &cobra.Command{
	Use:   "select <name>",
	Short: "Switch to a workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceSelect,
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceDelete,
}

func init() {
	workspaceDeleteCmd.Flags().BoolVarP(&workspaceForce, "force", "f", false, "Delete even when the workspace still records resources")
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceShowCmd)
	workspaceCmd.AddCommand(workspaceNewCmd)
	workspaceCmd.AddCommand(workspaceSelectCmd)
	workspaceCmd.AddCommand(workspaceDeleteCmd)
}

func workspaceFile(root string) string {
	return filepath.Join(root, state.DefaultStateDir, "workspace")
}

func workspacesDir(root string) string {
	return filepath.Join(root, state.DefaultStateDir, "workspaces")
}

// currentWorkspace returns the workspace to operate on: the --workspace flag
// when set, else the selected workspace on disk, else "default".
func currentWorkspace(root string) string {
	if workspaceFlag != "" {
		return workspaceFlag
	}
	data, err := os.ReadFile(workspaceFile(root))
	if err != nil {
		return "default"
	}
	ws := strings.TrimSpace(string(data))
	if ws == "" {
		return "default"
	}
	return ws
}

// listWorkspaces returns "default" plus every workspace with local state.
func listWorkspaces(root string) []string {
	names := map[string]bool{"default": true}
	if entries, err := os.ReadDir(workspacesDir(root)); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				names[e.Name()] = true
			}
		}
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func workspaceExists(root, name string) bool {
	if name == "default" {
		return true
	}
	info, err := os.Stat(filepath.Join(workspacesDir(root), name))
	return err == nil && info.IsDir()
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	dir, _, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}
	current := currentWorkspace(dir)
	for _, name := range listWorkspaces(dir) {
		marker := "  "
		if name == current {
			marker = "* "
		}
		fmt.Println(marker + name)
	}
	return nil
}

func runWorkspaceNew(cmd *cobra.Command, args []string) error {
	name := args[0]
	if name == "" || name == "default" || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid workspace name %q", name)
	}
	dir, _, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}
	if workspaceExists(dir, name) {
		return fmt.Errorf("workspace %q already exists", name)
	}

	mgr, err := openWorkspaceState(dir, name)
	if err != nil {
		return err
	}
	defer mgr.Close()
	if err := mgr.Replace(cmd.Context(), ir.NewState()); err != nil {
		return fmt.Errorf("failed to initialize workspace state: %w", err)
	}

	if err := selectWorkspace(dir, name); err != nil {
		return err
	}
	fmt.Printf("Created and switched to workspace %q.\n", name)
	return nil
}

func runWorkspaceSelect(cmd *cobra.Command, args []string) error {
	name := args[0]
	dir, _, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}
	if !workspaceExists(dir, name) {
		return fmt.Errorf("workspace %q does not exist; create it with: terrane workspace new %s", name, name)
	}
	if err := selectWorkspace(dir, name); err != nil {
		return err
	}
	fmt.Printf("Switched to workspace %q.\n", name)
	return nil
}

func selectWorkspace(root, name string) error {
	if err := os.MkdirAll(filepath.Join(root, state.DefaultStateDir), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", state.DefaultStateDir, err)
	}
	if err := os.WriteFile(workspaceFile(root), []byte(name+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write workspace file: %w", err)
	}
	return nil
}

func runWorkspaceDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	dir, _, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}
	if name == "default" {
		return fmt.Errorf("the default workspace cannot be deleted")
	}
	if name == currentWorkspace(dir) {
		return fmt.Errorf("cannot delete the current workspace; switch first")
	}
	if !workspaceExists(dir, name) {
		return fmt.Errorf("workspace %q does not exist", name)
	}

	if !workspaceForce {
		mgr, err := openWorkspaceState(dir, name)
		if err != nil {
			return err
		}
		st, err := mgr.Load(cmd.Context())
		mgr.Close()
		if err != nil {
			return err
		}
		if len(st.Records) > 0 {
			return fmt.Errorf("workspace %q still records %d resource(s); destroy them or use --force", name, len(st.Records))
		}
	}

	if err := os.RemoveAll(filepath.Join(workspacesDir(dir), name)); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	fmt.Printf("Deleted workspace %q.\n", name)
	return nil
}
