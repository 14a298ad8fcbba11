package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/logging"
)

var (
	backendType   string
	backendConfig map[string]string
	workspaceFlag string
	logLevelFlag  string
	noColorFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "terrane",
	Short: "Declarative resource convergence",
	Long: `Terrane converges declared resources against recorded state.

Declarations are Pkl modules; each run plans the difference between what is
declared and what was last recorded, then applies it:
  • Schema-checked resource declarations with cross-resource references
  • Plans that classify every resource as create, update, replace or destroy
  • Dependency-ordered execution with bounded parallelism
  • Durable state with local, SQLite and S3 backends`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevelFlag)
		noColor = noColorFlag || os.Getenv("NO_COLOR") != ""
	},
	SilenceUsage: true,
}

// Execute runs the root command under the given context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendType, "backend", "", "State backend: local, sqlite or s3 (default: .terrane/backend.json, else local)")
	rootCmd.PersistentFlags().StringToStringVar(&backendConfig, "backend-config", nil, "Backend settings (format: key=value)")
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "Workspace to operate on (default: the selected workspace)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(taintCmd)
	rootCmd.AddCommand(untaintCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(fmtCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}
