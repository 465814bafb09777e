package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	scenarioSchemaURL = "https://qalipsis.io/schemas/scenario.json"
	configSchemaURL   = "https://qalipsis.io/schemas/config.json"
)

// scenarioSchemaJSON is the JSON Schema of a ScenarioDefinition.
const scenarioSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://qalipsis.io/schemas/scenario.json",
  "type": "object",
  "required": ["name", "dags"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "minions": { "type": "integer", "minimum": 0 },
    "start_rate": { "type": "number", "minimum": 0 },
    "start_burst": { "type": "integer", "minimum": 0 },
    "retry": { "$ref": "#/$defs/retry" },
    "topics": {
      "type": "array",
      "items": { "$ref": "#/$defs/topic" }
    },
    "dags": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/dag" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "dag": {
      "type": "object",
      "required": ["id", "steps"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "singleton": { "type": "boolean" },
        "steps": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/step" }
        }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": { "type": "string", "minLength": 1 },
        "params": { "type": "object" },
        "next": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "retry": { "$ref": "#/$defs/retry" },
        "timeout": { "$ref": "#/$defs/duration" },
        "delay": { "$ref": "#/$defs/duration" },
        "iterations": { "type": "integer" },
        "iteration_delay": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max"],
      "properties": {
        "max": { "type": "integer", "minimum": 0 },
        "backoff": {
          "type": "string",
          "enum": ["none", "constant", "linear", "exponential"]
        },
        "delay": { "$ref": "#/$defs/duration" },
        "max_delay": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "topic": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["unicast", "broadcast", "loop"]
        },
        "buffer": { "type": "integer" },
        "idle_timeout": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    }
  }
}`

// configSchemaJSON is the JSON Schema of the configuration file of the CLI.
const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://qalipsis.io/schemas/config.json",
  "type": "object",
  "properties": {
    "scenario": { "type": "string" },
    "minions": { "type": "integer", "minimum": 0 },
    "start_rate": { "type": "number", "minimum": 0 },
    "start_burst": { "type": "integer", "minimum": 0 },
    "timeout": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "db_path": { "type": "string" },
    "log_level": {
      "type": "string",
      "enum": ["debug", "info", "warn", "error"]
    },
    "log_format": {
      "type": "string",
      "enum": ["text", "json"]
    },
    "events_level": {
      "type": "string",
      "enum": ["trace", "debug", "info", "warn", "error", "off"]
    },
    "schedule": { "type": "string" }
  },
  "additionalProperties": false
}`

// JSONSchemaValidator validates scenario definitions, configuration documents
// and step parameters using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	scenarioSchema *jsonschema.Schema
	configSchema   *jsonschema.Schema

	// mu guards the cache of the compiled parameter schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the scenario and
// configuration schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	scenario, err := compileResource(c, scenarioSchemaURL, scenarioSchemaJSON)
	if err != nil {
		return nil, err
	}
	config, err := compileResource(c, configSchemaURL, configSchemaJSON)
	if err != nil {
		return nil, err
	}

	return &JSONSchemaValidator{
		scenarioSchema: scenario,
		configSchema:   config,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

func compileResource(c *jsonschema.Compiler, url, raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return compiled, nil
}

// ValidateDefinition validates a ScenarioDefinition against the scenario schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.ScenarioDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "scenario definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize scenario definition").WithCause(err)
	}

	if err := v.scenarioSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

// ValidateConfig validates a decoded configuration document, as read from a
// YAML or JSON file, against the configuration schema.
func (v *JSONSchemaValidator) ValidateConfig(doc map[string]any) error {
	if doc == nil {
		return nil
	}
	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize configuration").WithCause(err)
	}
	if err := v.configSchema.Validate(value); err != nil {
		return toEngineError(err)
	}
	return nil
}

// ValidateParams validates the parameters of a step against the JSON Schema
// of its kind, provided as raw bytes. The schema is compiled and cached for
// subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateParams(params map[string]any, paramsSchema []byte) error {
	if len(paramsSchema) == 0 {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	compiled, err := v.getOrCompile(paramsSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid parameters schema").WithCause(err)
	}

	doc, err := toJSONValue(params)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize parameters").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	// Each dynamic schema gets its own URL and compiler to avoid resource collisions.
	url := fmt.Sprintf("qalipsis://params-schema/%d", len(v.cache))
	compiled, err := compileResource(newCompiler(), url, key)
	if err != nil {
		return nil, err
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// listing every violation with its location.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects the leaf
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
