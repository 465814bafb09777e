package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// Config holds the configuration of the CLI.
// Priority: flags > env vars > config file > defaults.
type Config struct {
	Scenario    string  `yaml:"scenario"`
	Minions     int     `yaml:"minions"`
	StartRate   float64 `yaml:"start_rate"`
	StartBurst  int     `yaml:"start_burst"`
	Timeout     string  `yaml:"timeout"`
	DBPath      string  `yaml:"db_path"`
	LogLevel    string  `yaml:"log_level"`
	LogFormat   string  `yaml:"log_format"`
	EventsLevel string  `yaml:"events_level"`
	Schedule    string  `yaml:"schedule"`
}

// configValidator checks a decoded configuration file.
type configValidator interface {
	ValidateConfig(doc map[string]any) error
}

func defaultConfig() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		EventsLevel: "warn",
	}
}

func qalipsisDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qalipsis"
	}
	return filepath.Join(home, ".qalipsis")
}

func defaultConfigPath() string {
	return filepath.Join(qalipsisDir(), "config.yaml")
}

// loadConfig layers the config file and the environment over the defaults.
// An explicit path must exist, the default one is optional.
func loadConfig(path string, validator configValidator) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeConfig(data, validator, &cfg); err != nil {
			return cfg, err
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, schema.NewErrorf(schema.ErrCodeNotFound, "cannot read config file %s", path).WithCause(err)
	}

	if v := os.Getenv("QALIPSIS_SCENARIO"); v != "" {
		cfg.Scenario = v
	}
	if v := os.Getenv("QALIPSIS_MINIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Minions = n
		}
	}
	if v := os.Getenv("QALIPSIS_START_RATE"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.StartRate = r
		}
	}
	if v := os.Getenv("QALIPSIS_START_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StartBurst = n
		}
	}
	if v := os.Getenv("QALIPSIS_TIMEOUT"); v != "" {
		cfg.Timeout = v
	}
	if v := os.Getenv("QALIPSIS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("QALIPSIS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("QALIPSIS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("QALIPSIS_EVENTS_LEVEL"); v != "" {
		cfg.EventsLevel = v
	}
	if v := os.Getenv("QALIPSIS_SCHEDULE"); v != "" {
		cfg.Schedule = v
	}
	return cfg, nil
}

func decodeConfig(data []byte, validator configValidator, cfg *Config) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid config file").WithCause(err)
	}
	if err := validator.ValidateConfig(doc); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid config file").WithCause(err)
	}
	return nil
}

// timeout parses the campaign timeout, 0 for none.
func (c Config) timeout() (time.Duration, error) {
	return schema.ParseDuration(c.Timeout)
}
