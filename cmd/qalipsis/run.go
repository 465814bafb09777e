package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/validation"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

const closeTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a campaign of a scenario",
		Long: "Execute a campaign of the scenario file given with --scenario, or of the\n" +
			"built-in demo scenario, and print its report.",
		Args: cobra.NoArgs,
		RunE: runRun,
	}
	addCampaignFlags(cmd)
	cmd.Flags().StringArray("follow", nil, "Print the live events whose name starts with the prefix (repeatable)")
	return cmd
}

// addCampaignFlags declares the flags overriding the configuration of a
// campaign.
func addCampaignFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("scenario", "s", "", "Scenario file in YAML or JSON (default: the demo scenario)")
	cmd.Flags().IntP("minions", "m", 0, "Count of minions (default: from the scenario)")
	cmd.Flags().Float64("start-rate", 0, "Minions started per second (default: from the scenario)")
	cmd.Flags().Int("start-burst", 0, "Minions started at once (default: from the scenario)")
	cmd.Flags().String("timeout", "", "Campaign timeout, e.g. 5m")
	cmd.Flags().String("db", "", "Path of the database persisting the campaigns and their events")
	cmd.Flags().String("events-level", "", "Lowest level of the recorded events: trace | debug | info | warn | error | off")
}

// resolveConfig loads the configuration and applies the flags set on cmd.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return Config{}, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path, jsv)
	if err != nil {
		return cfg, exitErrorf(exitConfig, "%v", err)
	}

	flags := cmd.Flags()
	if flags.Changed("scenario") {
		cfg.Scenario, _ = flags.GetString("scenario")
	}
	if flags.Changed("minions") {
		cfg.Minions, _ = flags.GetInt("minions")
	}
	if flags.Changed("start-rate") {
		cfg.StartRate, _ = flags.GetFloat64("start-rate")
	}
	if flags.Changed("start-burst") {
		cfg.StartBurst, _ = flags.GetInt("start-burst")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetString("timeout")
	}
	if flags.Changed("db") {
		cfg.DBPath, _ = flags.GetString("db")
	}
	if flags.Changed("events-level") {
		cfg.EventsLevel, _ = flags.GetString("events-level")
	}
	if flags.Changed("schedule") {
		cfg.Schedule, _ = flags.GetString("schedule")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if _, err := cfg.timeout(); err != nil {
		return cfg, exitErrorf(exitConfig, "%v", err)
	}
	return cfg, nil
}

// prepare resolves the configuration, wires the app and loads the scenario.
func prepare(cmd *cobra.Command) (context.Context, context.CancelFunc, *app, *schema.ScenarioDefinition, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		stop()
		return nil, nil, nil, nil, exitErrorf(exitConfig, "%v", err)
	}
	def, result, err := a.loadScenario(cfg.Scenario)
	if err == nil && !result.Valid() {
		printIssues(cmd.ErrOrStderr(), result)
		err = exitErrorf(exitInvalid, "scenario %q is invalid", def.Name)
	}
	if err != nil {
		_ = closeApp(ctx, a)
		stop()
		if _, ok := err.(*exitError); !ok {
			err = exitErrorf(exitInvalid, "%v", err)
		}
		return nil, nil, nil, nil, err
	}
	return ctx, stop, a, def, nil
}

func closeApp(ctx context.Context, a *app) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	return a.Close(ctx)
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop, a, def, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer stop()

	if prefixes, _ := cmd.Flags().GetStringArray("follow"); len(prefixes) > 0 {
		if err := a.follow(ctx, cmd.OutOrStdout(), prefixes); err != nil {
			_ = closeApp(ctx, a)
			return err
		}
	}

	report, err := a.launch(ctx, def)
	closeErr := closeApp(ctx, a)
	if report != nil {
		report.Print(cmd.OutOrStdout())
	}
	if err != nil {
		return exitErrorf(exitFailed, "campaign failed: %v", err)
	}
	if !report.Successful() {
		return exitErrorf(exitFailed, "campaign %s: %s", report.Status, report.Error)
	}
	return closeErr
}

func printIssues(w io.Writer, result *schema.ValidationResult) {
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "error:   %s\n", issue)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "warning: %s\n", issue)
	}
}
