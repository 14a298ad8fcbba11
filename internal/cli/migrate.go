package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/audit"
	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/provider"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate-from-terraform [tf-dir]",
	Short: "Import resources from a Terraform state file",
	Long: `Reads a Terraform state file (terraform.tfstate) and converts its
managed resources into records in the current workspace's state.

This is a best-effort conversion: resource attributes become record
outputs, and you still need to write the matching Pkl declarations by
hand. Once the declarations are in place, Terrane manages the existing
resources without recreating them.

The target state must be empty. Migrate into a fresh workspace when the
current one already tracks resources.

Example:
  terrane migrate-from-terraform .
  terrane migrate-from-terraform /path/to/terraform/project`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

// TerraformState mirrors the Terraform state file format.
type TerraformState struct {
	Version          int                 `json:"version"`
	TerraformVersion string              `json:"terraform_version"`
	Serial           int                 `json:"serial"`
	Lineage          string              `json:"lineage"`
	Outputs          map[string]TFOutput `json:"outputs"`
	Resources        []TFResource        `json:"resources"`
}

// TFOutput is an output value in a Terraform state file.
type TFOutput struct {
	Value     any  `json:"value"`
	Type      any  `json:"type"`
	Sensitive bool `json:"sensitive,omitempty"`
}

// TFResource is a resource block in a Terraform state file.
type TFResource struct {
	Module    string       `json:"module"`
	Mode      string       `json:"mode"` // "managed" or "data"
	Type      string       `json:"type"`
	Name      string       `json:"name"`
	Provider  string       `json:"provider"`
	Instances []TFInstance `json:"instances"`
}

// TFInstance is a single instance of a Terraform resource.
type TFInstance struct {
	IndexKey      any            `json:"index_key,omitempty"`
	SchemaVersion int            `json:"schema_version"`
	Attributes    map[string]any `json:"attributes"`
	Private       string         `json:"private,omitempty"`
	Dependencies  []string       `json:"dependencies,omitempty"`
}

// supportedTFTypes are the Terraform resource types with a matching
// Terrane kind. The kind names are shared, so the mapping is identity.
var supportedTFTypes = map[string]bool{
	"aws_dynamodb_table":  true,
	"aws_iam_role":        true,
	"aws_lambda_function": true,
	"aws_s3_bucket":       true,
	"aws_sqs_queue":       true,
	"aws_vpc":             true,
	"docker_container":    true,
	"docker_image":        true,
	"docker_network":      true,
	"docker_volume":       true,
	"null_resource":       true,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	tfDir := "."
	if len(args) > 0 {
		tfDir = args[0]
	}

	tfStatePath := filepath.Join(tfDir, "terraform.tfstate")
	data, err := os.ReadFile(tfStatePath)
	if err != nil {
		return fmt.Errorf("failed to read Terraform state at %s: %w", tfStatePath, err)
	}

	var tfState TerraformState
	if err := json.Unmarshal(data, &tfState); err != nil {
		return fmt.Errorf("failed to parse Terraform state: %w", err)
	}
	if tfState.Version != 4 {
		return fmt.Errorf("unsupported Terraform state version %d (expected 4)", tfState.Version)
	}

	mgr, err := openStateManager(".")
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Lock(ctx, "migrate"); err != nil {
		return err
	}
	defer mgr.Unlock(ctx)

	existing, err := mgr.Load(ctx)
	if err != nil {
		return err
	}
	if len(existing.Records) > 0 {
		return fmt.Errorf("state for workspace %q already tracks %d resource(s); migrate into a fresh workspace",
			currentWorkspace("."), len(existing.Records))
	}

	st := ir.NewState()
	now := time.Now().UTC()

	// First pass assigns a record name per instance so dependency
	// addresses can be resolved in the second pass. Terraform dependency
	// entries use the base address, so indexed instances all hang off it.
	names := map[string][]string{} // "type.name" -> record names
	taken := map[string]bool{}
	type pending struct {
		rec  *ir.ResourceRecord
		deps []string
	}
	var records []pending
	skipped := 0

	for _, res := range tfState.Resources {
		if res.Mode != "managed" {
			continue
		}
		if res.Module != "" {
			fmt.Printf("%sskipping %s.%s: resources inside modules are not converted%s\n",
				colorize(colorYellow), res.Type, res.Name, colorize(colorReset))
			skipped += len(res.Instances)
			continue
		}
		if !supportedTFTypes[res.Type] {
			fmt.Printf("%sskipping %s.%s: unsupported resource type%s\n",
				colorize(colorYellow), res.Type, res.Name, colorize(colorReset))
			skipped += len(res.Instances)
			continue
		}

		provName := mapTFProvider(res.Provider)
		if provName == "" {
			provName = provider.InferProvider(res.Type)
		}

		address := res.Type + "." + res.Name
		for i, inst := range res.Instances {
			name := migrationName(res, inst, i)
			if taken[name] {
				name = res.Type + "_" + name
			}
			taken[name] = true
			names[address] = append(names[address], name)

			id, _ := inst.Attributes["id"].(string)
			outputs := inst.Attributes
			if outputs == nil {
				outputs = map[string]any{}
			}
			records = append(records, pending{
				rec: &ir.ResourceRecord{
					Name:      name,
					Kind:      res.Type,
					Provider:  provName,
					ID:        id,
					Inputs:    map[string]any{},
					Outputs:   outputs,
					Serial:    1,
					CreatedAt: now,
					UpdatedAt: now,
				},
				deps: inst.Dependencies,
			})
		}
	}

	for _, p := range records {
		for _, dep := range p.deps {
			p.rec.Dependencies = append(p.rec.Dependencies, names[dep]...)
		}
		st.SetRecord(p.rec)
	}

	for name, out := range tfState.Outputs {
		st.Outputs[name] = out.Value
	}

	if err := mgr.Replace(ctx, st); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	recordAudit(".", audit.Entry{
		Operation: "migrate",
		Summary:   map[string]int{"imported": len(records), "skipped": skipped},
	})

	fmt.Printf("Migration complete! Converted %d resource(s)", len(records))
	if skipped > 0 {
		fmt.Printf(" (%d skipped)", skipped)
	}
	fmt.Println(".")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Write the matching resource declarations in main.pkl")
	fmt.Println("  2. Run 'terrane plan' and adjust declarations until it reports no changes")
	fmt.Println("  3. Retire the Terraform configuration once the plan converges")
	return nil
}

// migrationName picks the Terrane record name for a Terraform instance.
// Indexed instances keep their index in the expanded-name form, so a
// later count or forEach declaration lines up with the migrated records.
func migrationName(res TFResource, inst TFInstance, ordinal int) string {
	switch key := inst.IndexKey.(type) {
	case string:
		return fmt.Sprintf("%s[%q]", res.Name, key)
	case float64:
		return fmt.Sprintf("%s[%d]", res.Name, int(key))
	default:
		if len(res.Instances) > 1 {
			return fmt.Sprintf("%s[%d]", res.Name, ordinal)
		}
		return res.Name
	}
}

// mapTFProvider extracts the provider name from a Terraform provider
// address such as `provider["registry.terraform.io/hashicorp/aws"]`.
// Returns "" for providers Terrane does not ship.
func mapTFProvider(tfProvider string) string {
	parts := strings.Split(tfProvider, "/")
	name := strings.Trim(parts[len(parts)-1], `[]"`)
	switch name {
	case "aws", "docker", "null":
		return name
	}
	return ""
}
