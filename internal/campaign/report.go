package campaign

import (
	"fmt"
	"io"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/store"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// Report summarizes the execution of a campaign.
type Report struct {
	Campaign       string               `json:"campaign"`
	Scenario       string               `json:"scenario"`
	Status         store.CampaignStatus `json:"status"`
	Minions        int                  `json:"minions"`
	StartedMinions int                  `json:"started_minions"`

	ExecutedSteps        int64 `json:"executed_steps"`
	CompletedSteps       int   `json:"completed_steps"`
	FailedSteps          int   `json:"failed_steps"`
	TimedOutSteps        int64 `json:"timed_out_steps"`
	SuccessfulAssertions int64 `json:"successful_assertions"`
	FailedAssertions     int64 `json:"failed_assertions"`
	ReportedErrors       int64 `json:"reported_errors"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
}

func (r *Report) fill(registry *meters.InMemoryRegistry) {
	r.ExecutedSteps = registry.CounterTotal(schema.MeterExecutedSteps)
	r.CompletedSteps = registry.TimerCountWhere(schema.MeterStepExecution, "status", string(schema.StepStatusCompleted))
	r.FailedSteps = registry.TimerCountWhere(schema.MeterStepExecution, "status", string(schema.StepStatusFailed))
	r.TimedOutSteps = registry.CounterTotal(schema.MeterStepTimeout)
	r.SuccessfulAssertions = registry.CounterTotalWhere(schema.MeterAssertions, "status", "success")
	r.FailedAssertions = registry.CounterTotalWhere(schema.MeterAssertions, "status", "failure")
	r.ReportedErrors = registry.CounterTotal(schema.MeterReportedErrors)
}

// Successful reports whether the campaign completed without failed
// assertions.
func (r *Report) Successful() bool {
	return r.Status == store.CampaignCompleted
}

// Print writes a human-readable summary of the report to w.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Campaign %s of scenario %s: %s\n", r.Campaign, r.Scenario, r.Status)
	fmt.Fprintf(w, "  duration:        %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  minions:         %d/%d started\n", r.StartedMinions, r.Minions)
	fmt.Fprintf(w, "  steps:           %d executed, %d completed, %d failed, %d timed out\n",
		r.ExecutedSteps, r.CompletedSteps, r.FailedSteps, r.TimedOutSteps)
	fmt.Fprintf(w, "  assertions:      %d successful, %d failed\n", r.SuccessfulAssertions, r.FailedAssertions)
	fmt.Fprintf(w, "  reported errors: %d\n", r.ReportedErrors)
	if r.Error != "" {
		fmt.Fprintf(w, "  error:           %s\n", r.Error)
	}
}
