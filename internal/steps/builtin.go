package steps

import "encoding/json"

// Names of the built-in kinds.
const (
	KindRange         = "range"
	KindMap           = "map"
	KindFilter        = "filter"
	KindVerify        = "verify"
	KindErrorReporter = "error-reporter"
	KindTopicProduce  = "topic-produce"
	KindTopicConsume  = "topic-consume"
	KindSleep         = "sleep"
)

// RegisterBuiltins registers all built-in kinds in the given registry.
func RegisterBuiltins(reg *Registry) error {
	all := []Kind{
		{
			Name:         KindRange,
			Description:  "emits count integers from start for each input",
			ParamsSchema: json.RawMessage(rangeParamsSchema),
			Factory:      newRangeStep,
		},
		{
			Name:         KindMap,
			Description:  "transforms each input with an expression (jq by default)",
			ParamsSchema: json.RawMessage(expressionParamsSchema),
			Factory:      newMapStep,
		},
		{
			Name:         KindFilter,
			Description:  "forwards the inputs matching a predicate (CEL by default)",
			ParamsSchema: json.RawMessage(expressionParamsSchema),
			Factory:      newFilterStep,
		},
		{
			Name:         KindVerify,
			Description:  "asserts a predicate on each input (expr by default), failing the branch when false",
			ParamsSchema: json.RawMessage(expressionParamsSchema),
			Factory:      newVerificationStep,
		},
		{
			Name:        KindErrorReporter,
			Description: "reports the errors of the exhausted branches as events",
			Factory:     newErrorReporterStep,
		},
		{
			Name:         KindTopicProduce,
			Description:  "publishes each input into a topic",
			ParamsSchema: json.RawMessage(producerParamsSchema),
			Factory:      newTopicProducerStep,
		},
		{
			Name:         KindTopicConsume,
			Description:  "consumes the values of a topic until it is completed",
			ParamsSchema: json.RawMessage(consumerParamsSchema),
			Factory:      newTopicConsumerStep,
		},
		{
			Name:         KindSleep,
			Description:  "pauses the minion before forwarding its input",
			ParamsSchema: json.RawMessage(sleepParamsSchema),
			Factory:      newSleepStep,
		},
	}

	for _, k := range all {
		if err := reg.Register(k); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a registry holding the built-in kinds.
func NewBuiltinRegistry() *Registry {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		panic(err) // names are constants
	}
	return reg
}
