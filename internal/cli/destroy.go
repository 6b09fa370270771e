package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/secret"
	"github.com/terrane-io/terrane/internal/state"
)

var (
	destroyAutoApprove bool
	destroyParallelism int
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed infrastructure",
	Long: `Deletes every resource recorded in state, in reverse dependency
order: consumers before their producers.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
	destroyCmd.Flags().IntVar(&destroyParallelism, "parallelism", 0, "Maximum concurrent resource operations (default 10)")
}

func runDestroy(cmd *cobra.Command, args []string) error {
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
	if destroyParallelism > 0 {
		eng.Parallelism = destroyParallelism
	}

	if err := backend.Lock(ctx); err != nil {
		return err
	}
	defer backend.Unlock(ctx)

	current, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	plan, err := eng.DestroyPlan(ctx, current)
	if err != nil {
		return fmt.Errorf("destroy plan generation failed: %w", err)
	}
	if plan.Empty() {
		fmt.Println("No resources to destroy.")
		return nil
	}

	fmt.Println("Terrane will destroy the following resources:")
	renderPlanChanges(plan)
	fmt.Printf("\nTotal: %d resources will be destroyed.\n", plan.Summary.Delete)

	if !destroyAutoApprove && !confirm("Do you really want to destroy all resources?") {
		fmt.Println("Destroy cancelled.")
		return nil
	}

	fmt.Printf("\nDestroying %d resources...\n\n", len(plan.Changes))

	report, destroyErr := eng.ApplyWithOptions(ctx, plan, current, engine.ApplyOptions{
		Sink: &state.Sink{Backend: backend},
	})

	if report != nil {
		renderRunReport(report)
	}

	if destroyErr != nil {
		return fmt.Errorf("destroy failed: %w", destroyErr)
	}
	return nil
}
