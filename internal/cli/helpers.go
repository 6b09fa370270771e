package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/state"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// resolveWorkdir maps an optional positional argument onto a working
// directory and PKL entry point. A directory argument keeps the default
// main.pkl; a file argument becomes the entry point.
func resolveWorkdir(args []string) (wd, entryPoint string, err error) {
	wd, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint = "main.pkl"

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}
		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}
	return wd, entryPoint, nil
}

// openBackend builds the state backend for a project directory. A
// .terrane/backend.json file selects a remote backend; without one state
// lives at .terrane/state.json.
func openBackend(wd string) (state.Backend, error) {
	cfgPath := filepath.Join(wd, ".terrane", "backend.json")
	raw, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return state.NewBackend(&state.BackendConfig{
			Type:   "local",
			Config: map[string]string{"path": filepath.Join(wd, ".terrane", "state.json")},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backend config: %w", err)
	}

	var cfg state.BackendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse backend config: %w", err)
	}
	if cfg.Type == "local" || cfg.Type == "" {
		if cfg.Config == nil {
			cfg.Config = map[string]string{}
		}
		if cfg.Config["path"] == "" {
			cfg.Config["path"] = filepath.Join(wd, ".terrane", "state.json")
		}
	}
	return state.NewBackend(&cfg)
}

func actionSymbol(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return "+"
	case ir.ActionDelete:
		return "-"
	case ir.ActionReplace:
		return "-/+"
	case ir.ActionNoOp:
		return " "
	default:
		return "~"
	}
}

func actionColor(action ir.Action) string {
	switch action {
	case ir.ActionCreate:
		return colorGreen
	case ir.ActionDelete:
		return colorRed
	case ir.ActionUpdate, ir.ActionReplace:
		return colorYellow
	default:
		return colorReset
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		if change.Action == ir.ActionNoOp {
			continue
		}

		color := actionColor(change.Action)
		symbol := actionSymbol(change.Action)

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, change.Action, colorReset)
		if change.Reason != "" {
			fmt.Printf("%s  # (%s)%s\n", color, change.Reason, colorReset)
		}
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, symbol, resourceType, resourceName)
		renderPropertyDiff(change, color)
		fmt.Printf("%s    }%s\n", color, colorReset)
	}
}

// renderPropertyDiff prints structured property diffs in key order.
func renderPropertyDiff(change *ir.ResourceChange, color string) {
	keys := make([]string, 0, len(change.Diff))
	for k := range change.Diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		diff := change.Diff[key]
		before := formatDiffValue(diff.Before, diff.Sensitive)
		after := formatDiffValue(diff.After, diff.Sensitive)
		suffix := ""
		if diff.ForcesReplacement {
			suffix = " # forces replacement"
		}

		switch diff.Action {
		case "create":
			fmt.Printf("%s      + %s = %v%s%s\n", colorGreen, key, after, suffix, colorReset)
		case "delete":
			fmt.Printf("%s      - %s = %v%s\n", colorRed, key, before, colorReset)
		case "update":
			fmt.Printf("%s      ~ %s = %v -> %v%s%s\n", colorYellow, key, before, after, suffix, colorReset)
		default:
			fmt.Printf("%s        %s = %v\n", color, key, after)
		}
	}
}

func formatDiffValue(v any, sensitive bool) string {
	if sensitive {
		return "(sensitive)"
	}
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan's action counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// renderRunReport prints per-resource outcomes after an apply.
func renderRunReport(report *ir.RunReport) {
	for _, res := range report.Results {
		switch res.Status {
		case ir.StatusApplied:
			fmt.Printf("%s%s: %s complete (%.1fs)%s\n", colorGreen, res.Address, res.Action, res.Duration.Seconds(), colorReset)
		case ir.StatusFailed:
			fmt.Printf("%s%s: %s FAILED: %s%s\n", colorRed, res.Address, res.Action, res.Error, colorReset)
		case ir.StatusSkipped:
			fmt.Printf("%s%s: skipped: %s%s\n", colorYellow, res.Address, res.Error, colorReset)
		case ir.StatusPending:
			fmt.Printf("%s: not started\n", res.Address)
		}
	}

	applied, failed, skipped := report.Counts()
	fmt.Printf("\nApply complete! Resources: %d applied, %d failed, %d skipped.\n", applied, failed, skipped)

	if len(report.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		keys := make([]string, 0, len(report.Outputs))
		for k := range report.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s = %v\n", k, report.Outputs[k])
		}
	}
}

// confirm prompts for interactive approval.
func confirm(prompt string) bool {
	fmt.Printf("\n%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}
