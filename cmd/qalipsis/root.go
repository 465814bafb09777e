package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qalipsis",
		Short: "Load-testing scenarios executed by minions",
		Long: "qalipsis executes load-testing scenarios: DAGs of steps run concurrently by\n" +
			"minions, exchanging records through topics.",
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate(fmt.Sprintf("qalipsis version %s\n", version))

	root.PersistentFlags().StringP("config", "c", "", "Config file (default: ~/.qalipsis/config.yaml if present)")
	root.PersistentFlags().String("log-level", "", "Log level: debug | info | warn | error")
	root.PersistentFlags().String("log-format", "", "Log format: text | json")

	root.AddCommand(newRunCmd())
	root.AddCommand(newScheduleCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newKindsCmd())
	return root
}
