package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Terrane project",
	Long: `Creates the .terrane directory and a starter main.pkl in the current
directory.

When --backend or --backend-config is given, the selection is written to
.terrane/backend.json so later commands pick it up without flags:

  terrane init --backend sqlite
  terrane init --backend s3 --backend-config bucket=my-state,region=eu-west-1`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

const starterModule = `// Terrane declarations. Each resource names a kind its provider
// understands; attributes may reference other resources with
// "ref://<name>.<attribute>".

resources: Listing<Dynamic> = new {
  new {
    name = "hello"
    kind = "null_resource"
    attributes {
      triggers {
        greeting = "Hello from Terrane"
      }
    }
  }
}

outputs: Mapping<String, Any> = new {
  ["hello_id"] = "ref://hello.id"
}
`

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(state.DefaultStateDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", state.DefaultStateDir, err)
	}

	if _, err := os.Stat("main.pkl"); os.IsNotExist(err) {
		if err := os.WriteFile("main.pkl", []byte(starterModule), 0644); err != nil {
			return fmt.Errorf("failed to create main.pkl: %w", err)
		}
		fmt.Println("Created main.pkl")
	}

	if backendType != "" || len(backendConfig) > 0 {
		cfg := &state.BackendConfig{Type: backendType, Config: backendConfig}
		if cfg.Type == "" {
			cfg.Type = "local"
		}
		if cfg.Config == nil {
			cfg.Config = map[string]string{}
		}
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode backend configuration: %w", err)
		}
		path := backendFilePath(".")
		if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Printf("Created %s (backend: %s)\n", path, cfg.Type)
	}

	fmt.Println("\nTerrane initialized!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit main.pkl to declare your resources")
	fmt.Println("  2. Run 'terrane plan' to see what would change")
	fmt.Println("  3. Run 'terrane apply' to converge")
	return nil
}
