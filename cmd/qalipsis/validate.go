package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [scenario]",
		Short: "Validate a scenario file",
		Long:  "Validate the structure, the steps and the DAGs of a scenario, the demo scenario by default.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Scenario = args[0]
	}
	a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return exitErrorf(exitConfig, "%v", err)
	}
	defer func() { _ = closeApp(cmd.Context(), a) }()

	def, result, err := a.loadScenario(cfg.Scenario)
	if err != nil {
		return exitErrorf(exitInvalid, "%v", err)
	}
	printIssues(cmd.ErrOrStderr(), result)
	if !result.Valid() {
		return exitErrorf(exitInvalid, "scenario %q is invalid", def.Name)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Scenario %q is valid (%d warning(s)).\n", def.Name, len(result.Warnings))
	return nil
}
