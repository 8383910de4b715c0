package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
)

func newValidateCmd() *cobra.Command {
	var scenarioPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario file without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(flagConfig)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			sc, err := scenario.LoadFileWithDefaults(scenarioPath, cfg.Browser.Options())
			if err != nil {
				return err
			}
			return describeScenario(cmd.OutOrStdout(), sc)
		},
	}

	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario file path")
	cmd.MarkFlagRequired("scenario")
	return cmd
}

// describeScenario prints what a scenario will do. Unsupported action types
// are reported as warnings since they only fail when reached.
func describeScenario(w io.Writer, sc *scenario.Scenario) error {
	warmup, actions := sc.Actions.Split()

	name := sc.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(w, "scenario %s: %s\n", name, sc.TargetURL)
	fmt.Fprintf(w, "  %d actions, %d warm-up entries\n", len(actions), len(warmup))
	fmt.Fprintf(w, "  headless=%t viewport=%dx%d navigation_timeout=%s action_timeout=%s\n",
		sc.Options.Headless, sc.Options.Viewport.Width, sc.Options.Viewport.Height,
		sc.Options.NavigationTimeout, sc.Options.ActionTimeout)

	for _, i := range sc.Actions.UnknownTypes() {
		fmt.Fprintf(w, "warning: action %d has unsupported type %q and will fail when reached\n", i, sc.Actions[i].Type)
	}
	for i, a := range sc.Actions {
		if a.Type.NeedsSelector() && a.Selector == "" {
			fmt.Fprintf(w, "warning: action %d (%s) has no selector\n", i, a.Type)
		}
	}
	return nil
}
