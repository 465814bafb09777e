package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/scheduler"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Execute campaigns of a scenario on a cron schedule",
		Long: "Execute a campaign of the scenario at each activation of the schedule, a cron\n" +
			"expression with optional seconds or a descriptor such as \"@every 10m\".\n" +
			"An activation is skipped while the previous campaign is running.",
		Args: cobra.NoArgs,
		RunE: runSchedule,
	}
	addCampaignFlags(cmd)
	cmd.Flags().String("schedule", "", "Cron expression of the campaigns (default: from the config)")
	cmd.Flags().Int64("runs", 0, "Stop after that many campaigns, 0 for no limit")
	return cmd
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx, stop, a, def, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer stop()
	defer func() { _ = closeApp(ctx, a) }()

	if a.cfg.Schedule == "" {
		return exitErrorf(exitConfig, "no schedule: set --schedule or schedule in the config")
	}
	schedule, err := scheduler.ParseSchedule(a.cfg.Schedule)
	if err != nil {
		return exitErrorf(exitConfig, "%v", err)
	}
	runs, _ := cmd.Flags().GetInt64("runs")

	var out sync.Mutex
	s := scheduler.NewScheduler(schedule, func(ctx context.Context, run int64) error {
		report, err := a.launch(ctx, def)
		out.Lock()
		defer out.Unlock()
		if report != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Run %d\n", run)
			report.Print(cmd.OutOrStdout())
		}
		if err != nil {
			return err
		}
		if !report.Successful() {
			return schema.NewErrorf(schema.ErrCodeExecution, "campaign %s %s", report.Campaign, report.Status)
		}
		return nil
	}, a.logger, scheduler.WithMaxRuns(runs))

	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-s.Done():
	case <-ctx.Done():
	}
	s.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "%d campaign(s), %d failed, %d skipped\n", s.Runs(), s.Failed(), s.Skipped())
	if s.Failed() > 0 {
		return exitErrorf(exitFailed, "%d campaign(s) failed", s.Failed())
	}
	return nil
}
