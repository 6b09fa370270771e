package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/secret"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [path]",
	Short: "Reconcile state with real infrastructure",
	Long: `Reads every resource recorded in state from its provider and updates
the recorded outputs. Resources that no longer exist are dropped from
state so the next plan recreates them.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveWorkdir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	backend, err := openBackend(wd)
	if err != nil {
		return err
	}
	eng := engine.New(provider.NewRegistry(), secret.NewResolver())

	if err := backend.Lock(ctx); err != nil {
		return err
	}
	defer backend.Unlock(ctx)

	current, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(current.Resources) == 0 {
		fmt.Println("State is empty, nothing to refresh.")
		return nil
	}

	fmt.Printf("Refreshing %d resources...\n", len(current.Resources))

	results, err := eng.Refresh(ctx, current)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	changed := 0
	for _, r := range results {
		switch {
		case r.Removed:
			fmt.Printf("%s%s: no longer exists, removed from state%s\n", colorRed, r.Address, colorReset)
			changed++
		case r.Drifted:
			fmt.Printf("%s%s: drifted, outputs updated%s\n", colorYellow, r.Address, colorReset)
			changed++
		}
	}
	if changed == 0 {
		fmt.Println("State is up-to-date.")
		return nil
	}

	if err := backend.Write(ctx, current); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	fmt.Printf("\nRefresh complete: %d resources updated.\n", changed)
	return nil
}
