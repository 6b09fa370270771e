package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/eval"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/secret"
	"github.com/terrane-io/terrane/internal/state"
)

var (
	applyAutoApprove bool
	applyParallelism int
	applyTargets     []string
	applyProperties  map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long:  `Builds or changes infrastructure according to Terrane configuration files.`,
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Maximum concurrent resource operations (default 10)")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the run to the given resource addresses")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	backend, err := openBackend(wd)
	if err != nil {
		return err
	}
	eng := engine.New(provider.NewRegistry(), secret.NewResolver())
	if applyParallelism > 0 {
		eng.Parallelism = applyParallelism
	}

	if err := backend.Lock(ctx); err != nil {
		return err
	}
	defer backend.Unlock(ctx)

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, applyProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	current, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.PlanWithOptions(ctx, cfg, current, engine.PlanOptions{Targets: applyTargets})
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if plan.Empty() {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nTerrane will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove && !confirm("Do you want to perform these actions?") {
		fmt.Println("Apply cancelled.")
		return nil
	}

	fmt.Printf("\nApplying %d changes...\n\n", len(plan.Changes))

	report, applyErr := eng.ApplyWithOptions(ctx, plan, current, engine.ApplyOptions{
		Sink: &state.Sink{Backend: backend},
	})

	if report != nil {
		renderRunReport(report)
	}

	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}
	return nil
}
