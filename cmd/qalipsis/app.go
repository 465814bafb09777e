package main

import (
	"context"
	_ "embed"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/campaign"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/events"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/logging"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/messaging"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/steps"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/store"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/validation"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

//go:embed scenarios/demo.yaml
var demoScenario []byte

const instrumentationName = "github.com/qalipsis/qalipsis-oss-sub011"

// app holds the components shared by the commands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	kinds     *steps.Registry
	validator *validation.ScenarioValidator

	store      *store.LibSQLStore
	storeSink  *events.StoreLogger
	liveEvents *messaging.BroadcastTopic[events.Event]
	followed   <-chan struct{}
	events     events.Logger
	meters     meters.Registry
}

// newApp wires the components from cfg. Close must be called to flush the
// persisted events.
func newApp(ctx context.Context, cfg Config, stderr io.Writer) (*app, error) {
	logger, err := logging.New(stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	kinds := steps.NewBuiltinRegistry()
	validator, err := validation.NewScenarioValidator(kinds)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		kinds:     kinds,
		validator: validator,
		meters:    meters.NewOTelRegistry(otel.Meter(instrumentationName), logger),
	}

	var sinks []events.Logger
	level, enabled := events.ParseLevel(cfg.EventsLevel)
	if enabled {
		sinks = append(sinks, events.AtLeast(events.NewSlogLogger(logger), level))
	}
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "cannot create the database directory").WithCause(err)
		}
		a.store, err = store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, err.Error()).WithCause(err)
		}
		if err := a.store.Migrate(ctx); err != nil {
			_ = a.store.Close()
			return nil, err
		}
		if enabled {
			a.storeSink = events.NewStoreLogger(a.store, events.StoreLoggerConfig{MinLevel: level}, logger)
			sinks = append(sinks, a.storeSink)
		}
	}
	a.events = events.Multi(sinks...)
	return a, nil
}

// follow publishes every event into a live topic and prints the ones whose
// name starts with any of prefixes to w, until ctx is done.
func (a *app) follow(ctx context.Context, w io.Writer, prefixes []string) error {
	a.liveEvents = messaging.NewBroadcastTopic[events.Event](-1, 0)
	done, err := events.Watch(ctx, a.liveEvents, "cli", events.Filter{NamePrefixes: prefixes}, func(e events.Event) {
		line := []string{e.Timestamp.Format(time.TimeOnly), e.Level.String(), e.Name}
		for _, k := range slices.Sorted(maps.Keys(e.Tags)) {
			line = append(line, k+"="+e.Tags[k])
		}
		_, _ = io.WriteString(w, strings.Join(line, " ")+"\n")
	})
	if err != nil {
		return err
	}
	a.followed = done
	a.events = events.Multi(a.events, events.NewTopicLogger(a.liveEvents, events.LevelTrace))
	return nil
}

// loadScenario reads the scenario at path, the demo scenario when empty,
// and validates it.
func (a *app) loadScenario(path string) (*schema.ScenarioDefinition, *schema.ValidationResult, error) {
	data := demoScenario
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound, "cannot read scenario %s", path).WithCause(err)
		}
	}
	var def schema.ScenarioDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "invalid scenario file").WithCause(err)
	}
	return &def, a.validator.Validate(&def), nil
}

// launch builds a fresh instance of def and executes a campaign of it.
func (a *app) launch(ctx context.Context, def *schema.ScenarioDefinition) (*campaign.Report, error) {
	topics := steps.NewTopics()
	scenario, err := steps.Build(ctx, def, a.kinds, steps.Services{
		Topics: topics,
		Events: a.events,
		Meters: a.meters,
		Logger: a.logger,
	})
	if err != nil {
		topics.CloseAll()
		return nil, err
	}
	defer func() {
		if err := scenario.Destroy(); err != nil {
			a.logger.WarnContext(ctx, "scenario destruction failed", "error", err)
		}
	}()

	timeout, err := a.cfg.timeout()
	if err != nil {
		topics.CloseAll()
		return nil, err
	}
	opts := []campaign.Option{
		campaign.WithEvents(a.events),
		campaign.WithMeters(a.meters),
		campaign.WithLogger(a.logger),
		campaign.WithTracer(otel.Tracer(instrumentationName)),
	}
	if a.store != nil {
		opts = append(opts, campaign.WithStore(a.store))
	}
	return campaign.NewLauncher(opts...).Run(ctx, scenario, topics, campaign.Config{
		Minions:    a.cfg.Minions,
		StartRate:  a.cfg.StartRate,
		StartBurst: a.cfg.StartBurst,
		Timeout:    timeout,
	})
}

// Close flushes the persisted events and closes the store.
func (a *app) Close(ctx context.Context) error {
	if a.liveEvents != nil {
		// The watcher drains the events left before the topic is closed.
		a.liveEvents.Complete()
		select {
		case <-a.followed:
		case <-ctx.Done():
		}
		a.liveEvents.Close()
	}
	if a.storeSink != nil {
		if err := a.storeSink.Close(ctx); err != nil {
			a.logger.WarnContext(ctx, "events not flushed", "error", err)
		}
		if n := a.storeSink.Dropped(); n > 0 {
			a.logger.WarnContext(ctx, "events dropped", "count", n)
		}
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
