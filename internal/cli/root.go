package cli

import (
	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/logging"
)

var rootLogLevel string

var rootCmd = &cobra.Command{
	Use:   "terrane",
	Short: "Declarative infrastructure provisioning",
	Long: `Terrane reconciles declared resources against recorded state.

It evaluates a PKL configuration into a resource graph, diffs it against
the state file, schedules the changes into dependency waves and executes
them concurrently through providers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(rootLogLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
