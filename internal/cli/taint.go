package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/audit"
)

var taintCmd = &cobra.Command{
	Use:   "taint <name>",
	Short: "Mark a resource for replacement on the next apply",
	Long: `Marks a recorded resource as tainted. The next plan classifies it
as a replace regardless of whether its inputs changed: a new instance is
created, dependents are rewired onto it, and the old one destroyed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTainted(cmd, args[0], true)
	},
}

var untaintCmd = &cobra.Command{
	Use:   "untaint <name>",
	Short: "Clear a resource's taint mark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTainted(cmd, args[0], false)
	},
}

func setTainted(cmd *cobra.Command, name string, tainted bool) error {
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

	operation := "taint"
	if !tainted {
		operation = "untaint"
	}
	if err := mgr.Lock(ctx, operation); err != nil {
		return err
	}
	defer mgr.Unlock(ctx)

	st, err := mgr.Load(ctx)
	if err != nil {
		return err
	}
	rec, ok := st.Record(name)
	if !ok {
		return fmt.Errorf("no resource named %q in state", name)
	}
	if rec.Tainted == tainted {
		if tainted {
			fmt.Printf("%s is already tainted.\n", name)
		} else {
			fmt.Printf("%s is not tainted.\n", name)
		}
		return nil
	}

	rec.Tainted = tainted
	rec.Serial++
	st.SetRecord(rec)
	if err := mgr.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	recordAudit(dir, audit.Entry{
		Operation: operation,
		Changes:   []audit.Change{{Name: name, Kind: rec.Kind, Action: operation}},
	})

	if tainted {
		fmt.Printf("%s is now tainted and will be replaced on the next apply.\n", name)
	} else {
		fmt.Printf("%s is no longer tainted.\n", name)
	}
	return nil
}
