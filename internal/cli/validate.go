package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/eval"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate configuration files",
	Long: `Evaluates the PKL configuration and checks the resource graph:
duplicate addresses, dangling references and dependency cycles.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)

	fmt.Printf("Checking %s... ", entryPoint)
	cfg, err := evaluator.LoadConfig(cmd.Context(), entryPoint, nil)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Print("Checking resource graph... ")
	if _, err := engine.BuildGraph(engine.Expand(cfg.Resources)); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Println("\nConfiguration is valid!")
	return nil
}
