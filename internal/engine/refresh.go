package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
)

// RefreshState reads the live attributes of every recorded resource and
// folds them back into state. Records whose real resource disappeared are
// removed, so the next plan recreates them. Read failures are collected
// and do not stop the remaining records from refreshing.
func (e *Engine) RefreshState(ctx context.Context, state *ir.State) error {
	names := state.Names()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		rec := state.Records[name]
		if err := e.registry.LoadProvider(rec.Provider); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", name, err))
			continue
		}
		prov, err := e.registry.Get(rec.Provider)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", name, err))
			continue
		}

		outputs, exists, err := prov.Read(ctx, rec.Kind, rec.ID, rec.Inputs)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", name, err))
			continue
		}
		if !exists {
			logging.Info("resource vanished, dropping record", "name", name, "kind", rec.Kind)
			state.RemoveRecord(name)
			continue
		}

		outputs = ensureID(outputs, rec.ID)
		if looseEqual(rec.Outputs, outputs) {
			continue
		}
		logging.Debug("refreshed drifted outputs", "name", name)
		rec.Outputs = outputs
		rec.Serial++
		state.SetRecord(rec)
	}
	return errors.Join(errs...)
}
