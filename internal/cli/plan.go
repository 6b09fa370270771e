package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/eval"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/secret"
)

var (
	planOutFile    string
	planTargets    []string
	planProperties map[string]string
	planJSON       bool
)

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions Terrane will take
to reach the desired state defined in your configuration.

The plan shows:
  • Resources to be created
  • Resources to be updated (with diff)
  • Resources to be replaced or deleted`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write plan JSON to file")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit planning to the given resource addresses")
	planCmd.Flags().StringToStringVarP(&planProperties, "prop", "D", nil, "Set external properties (format: key=value)")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON")
}

func runPlan(cmd *cobra.Command, args []string) error {
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

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, planProperties)
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
	plan, err := eng.PlanWithOptions(ctx, cfg, current, engine.PlanOptions{Targets: planTargets})
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if planJSON {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		fmt.Println(string(data))
	} else if plan.Empty() {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
	} else {
		fmt.Println("\nTerrane will perform the following actions:")
		renderPlanChanges(plan)
		renderPlanSummary(plan)
	}

	if planOutFile != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, data, 0o644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", planOutFile)
	}

	return nil
}
