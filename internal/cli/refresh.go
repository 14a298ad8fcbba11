package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/audit"
	"github.com/terrane-io/terrane/internal/engine"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [dir]",
	Short: "Reconcile state with the real resources",
	Long: `Reads the live attributes of every recorded resource and folds them
back into state. Records whose real resource no longer exists are dropped,
so the next plan recreates them.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	dir, _, err := resolveProjectDir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	mgr, err := openStateManager(dir)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Lock(ctx, "refresh"); err != nil {
		return err
	}
	defer mgr.Unlock(ctx)

	st, err := mgr.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(st.Records) == 0 {
		fmt.Println("No resources recorded. Nothing to refresh.")
		return nil
	}

	before := make(map[string]uint64, len(st.Records))
	for name, rec := range st.Records {
		before[name] = rec.Serial
	}

	fmt.Printf("Refreshing %d resource(s)...\n", len(st.Records))
	refreshErr := engine.NewEngine(newRegistry()).RefreshState(ctx, st)

	var drifted, vanished []string
	for name, serial := range before {
		rec, ok := st.Records[name]
		switch {
		case !ok:
			vanished = append(vanished, name)
		case rec.Serial != serial:
			drifted = append(drifted, name)
		}
	}
	sort.Strings(drifted)
	sort.Strings(vanished)

	for _, name := range drifted {
		fmt.Printf("%s%s: outputs drifted, record updated%s\n", colorize(colorYellow), name, colorize(colorReset))
	}
	for _, name := range vanished {
		fmt.Printf("%s%s: resource no longer exists, record dropped%s\n", colorize(colorRed), name, colorize(colorReset))
	}

	if err := mgr.WriteAll(ctx); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	entry := audit.Entry{
		Operation: "refresh",
		Summary:   map[string]int{"drifted": len(drifted), "vanished": len(vanished)},
	}
	if refreshErr != nil {
		entry.Error = refreshErr.Error()
	}
	recordAudit(dir, entry)

	if refreshErr != nil {
		return fmt.Errorf("refresh finished with errors: %w", refreshErr)
	}
	fmt.Printf("Refresh complete! %d drifted, %d vanished.\n", len(drifted), len(vanished))
	return nil
}
