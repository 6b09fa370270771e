package engine

import (
	"context"
	"fmt"
	"reflect"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
)

// RefreshResult reports what refresh found for one state record.
type RefreshResult struct {
	Address string
	Drifted bool // recorded outputs differed from the live resource
	Removed bool // external resource is gone; record dropped
}

// Refresh re-reads every state record from its provider, updating recorded
// outputs and dropping records whose external resource no longer exists.
// The caller persists the refreshed state.
func (e *Engine) Refresh(ctx context.Context, state *ir.State) ([]RefreshResult, error) {
	if err := e.loadProviders(ctx, &ir.Config{}, state); err != nil {
		return nil, err
	}

	var results []RefreshResult
	var removed []string

	for _, rec := range state.Resources {
		addr := rec.Addr()
		prov, err := e.registry.Get(rec.Provider)
		if err != nil {
			return nil, err
		}

		outputs, exists, err := prov.Read(ctx, rec.Type, rec.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("refresh failed for %s: %w", addr, err)
		}

		if !exists {
			logging.Info("resource vanished, dropping record", "address", addr)
			removed = append(removed, addr)
			results = append(results, RefreshResult{Address: addr, Removed: true})
			continue
		}

		drifted := !reflect.DeepEqual(rec.Outputs, outputs)
		if drifted {
			logging.Debug("refresh updated outputs", "address", addr)
			rec.Outputs = outputs
		}
		results = append(results, RefreshResult{Address: addr, Drifted: drifted})
	}

	for _, addr := range removed {
		state.Remove(addr)
	}
	state.Serial++

	return results, nil
}
