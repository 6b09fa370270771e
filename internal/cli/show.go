package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/ir"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current state",
	Long:  `Displays every resource recorded in the state file.`,
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveWorkdir(nil)
	if err != nil {
		return err
	}

	backend, err := openBackend(wd)
	if err != nil {
		return err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if showJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(s.Resources) == 0 {
		fmt.Println("State is empty.")
		return nil
	}

	fmt.Printf("State serial %d, lineage %s\n", s.Serial, s.Lineage)

	resources := make([]*ir.ResourceState, len(s.Resources))
	copy(resources, s.Resources)
	sort.Slice(resources, func(i, j int) bool { return resources[i].Addr() < resources[j].Addr() })

	for _, res := range resources {
		fmt.Printf("\nresource %s {\n", res.Addr())
		fmt.Printf("  provider   = %s\n", res.Provider)
		fmt.Printf("  externalId = %s\n", res.ExternalID)
		if len(res.Dependencies) > 0 {
			fmt.Printf("  dependsOn  = %v\n", res.Dependencies)
		}
		fmt.Println("}")
	}
	return nil
}
