package engine

import "context"

// ExecuteStep executes step on sc, through its retry policy if it has one.
// Every attempt receives the same input value.
func ExecuteStep(ctx context.Context, step Step, sc *StepContext) error {
	policy := step.RetryPolicy()
	if policy == nil {
		return step.Execute(ctx, sc)
	}
	input, err := sc.Receive()
	hasInput := err == nil
	return policy.Execute(ctx, sc, func(ctx context.Context) error {
		if hasInput {
			sc.resetInput(input)
		}
		return step.Execute(ctx, sc)
	})
}
