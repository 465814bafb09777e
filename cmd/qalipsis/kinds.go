package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/steps"
)

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the step kinds available in the scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tDESCRIPTION")
			for _, k := range steps.NewBuiltinRegistry().List() {
				fmt.Fprintf(w, "%s\t%s\n", k.Name, k.Description)
			}
			return w.Flush()
		},
	}
}
