package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/audit"
	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/provider"
)

var importCmd = &cobra.Command{
	Use:   "import <name> <kind> <id>",
	Short: "Adopt an existing resource into state",
	Long: `Reads an existing resource through its provider and records it
under the given logical name, so future plans manage it instead of
recreating it.

No declaration is generated: write the matching declaration yourself, then
run plan to verify it converges to no-op.

Example:
  terrane import logs aws_s3_bucket my-log-bucket`,
	Args: cobra.ExactArgs(3),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	name, kind, id := args[0], args[1], args[2]
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

	if err := mgr.Lock(ctx, "import"); err != nil {
		return err
	}
	defer mgr.Unlock(ctx)

	st, err := mgr.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if _, exists := st.Record(name); exists {
		return fmt.Errorf("a resource named %q already exists in state", name)
	}

	providerName := provider.InferProvider(kind)
	registry := newRegistry()
	if err := registry.LoadProvider(providerName); err != nil {
		return fmt.Errorf("failed to load provider %s: %w", providerName, err)
	}
	prov, err := registry.Get(providerName)
	if err != nil {
		return err
	}

	fmt.Printf("Importing %s (kind %s, id %s)...\n", name, kind, id)
	outputs, exists, err := prov.Read(ctx, kind, id, nil)
	if err != nil {
		return fmt.Errorf("failed to read resource from provider: %w", err)
	}
	if !exists {
		return fmt.Errorf("no %s resource with id %q exists", kind, id)
	}

	now := time.Now().UTC()
	rec := &ir.ResourceRecord{
		Name:      name,
		Kind:      kind,
		Provider:  providerName,
		ID:        id,
		Inputs:    map[string]any{},
		Outputs:   outputs,
		Serial:    1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.SetRecord(rec)
	if err := mgr.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	recordAudit(dir, audit.Entry{
		Operation: "import",
		Changes:   []audit.Change{{Name: name, Kind: kind, Action: "import"}},
	})

	fmt.Printf("Successfully imported %s.\n", name)
	fmt.Println("Note: add the matching declaration, then run plan to verify it converges to no-op.")
	return nil
}
