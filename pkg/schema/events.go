package schema

// Event names emitted by the engine to the events logger.
const (
	EventCampaignStarted   = "campaign.started"
	EventCampaignCompleted = "campaign.completed"
	EventCampaignFailed    = "campaign.failed"

	EventMinionStarted   = "minion.started"
	EventMinionCompleted = "minion.completed"
	EventMinionCancelled = "minion.cancelled"

	EventStepErrorReported = "step.error.reported"
	EventAssertionFailed   = "step.assertion.failed"
)

// Outcomes of a step execution, see StepEvent.
const (
	StepEventStarted   = "started"
	StepEventCompleted = "completed"
	StepEventFailed    = "failed"
	StepEventTimedOut  = "timeout"
	StepEventRetrying  = "retrying"
)

// StepEvent returns the name of the event of a step execution, such as
// "step.http-1.started".
func StepEvent(stepID, outcome string) string {
	return "step." + stepID + "." + outcome
}

// Meter names recorded by the engine.
const (
	MeterStepExecution  = "step-execution"
	MeterStepTimeout    = "step-timeout"
	MeterExecutedSteps  = "executed-steps"
	MeterRunningSteps   = "running-steps"
	MeterIdleMinions    = "idle-minions"
	MeterRunningMinions = "running-minions"
	MeterReportedErrors = "reported-errors"
	MeterAssertions     = "assertions"
)

// StepStatus is the outcome tag of a step execution.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCancelled StepStatus = "cancelled"
	StepStatusSkipped   StepStatus = "skipped"
)

// MinionState represents the lifecycle state of a minion.
type MinionState string

const (
	MinionStateIdle      MinionState = "idle"
	MinionStateRunning   MinionState = "running"
	MinionStateCompleted MinionState = "completed"
	MinionStateCancelled MinionState = "cancelled"
)
