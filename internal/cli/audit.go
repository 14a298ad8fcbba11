package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/audit"
)

var (
	auditLimit int
	auditJSON  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the operation audit trail",
	Long: `Prints the audit trail: one entry per state-changing operation,
newest last, with who ran it, on which workspace, and what changed.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Show only the last N entries (0 for all)")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Print as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	dir, _, err := resolveProjectDir(nil)
	if err != nil {
		return err
	}

	entries, err := audit.ReadEntries(auditTrailPath(dir), auditLimit)
	if err != nil {
		return fmt.Errorf("failed to read audit trail: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("Audit trail is empty.")
		return nil
	}

	if auditJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-10s %s@%s", e.Time.Format(time.RFC3339), e.Operation, e.User, e.Workspace)
		if len(e.Summary) > 0 {
			var parts []string
			for _, k := range []string{"create", "update", "replace", "destroy", "drifted", "vanished"} {
				if v, ok := e.Summary[k]; ok && v > 0 {
					parts = append(parts, fmt.Sprintf("%d %s", v, k))
				}
			}
			if len(parts) > 0 {
				line += "  (" + strings.Join(parts, ", ") + ")"
			}
		}
		fmt.Println(line)
		if e.Error != "" {
			fmt.Printf("%s    error: %s%s\n", colorize(colorRed), e.Error, colorize(colorReset))
		}
	}
	return nil
}
