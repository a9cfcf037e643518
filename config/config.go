/*
Package config loads service configuration.

PURPOSE:
  One place that decides how the service runs: HTTP port, database
  path, evaluation cadence, notification sink. Values come from a YAML
  file, overridden by environment variables, overridden by flags in
  cmd/server.

PRECEDENCE (lowest to highest):
  1. Built-in defaults
  2. YAML file (if present)
  3. Environment variables (SHELFLIFE_*)

USAGE:
  cfg, err := config.Load("./config.yaml")
  if err != nil {
      log.Fatal().Err(err).Msg("load config")
  }

SEE ALSO:
  - cmd/server/main.go: Flag overrides and wiring
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	LogLevel  string          `yaml:"log_level"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig configures persistence.
type DatabaseConfig struct {
	// Path to the SQLite file, or ":memory:".
	Path string `yaml:"path"`
}

// EvaluatorConfig configures the background evaluation scheduler.
type EvaluatorConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Evaluate once immediately on startup.
	RunOnStart bool `yaml:"run_on_start"`
	// Upper bound on concurrent per-batch persistence during a tick.
	Concurrency int `yaml:"concurrency"`
}

// KafkaConfig configures the optional alert notification sink.
// Empty brokers disables publishing entirely.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Path: "./data/shelflife.db"},
		Evaluator: EvaluatorConfig{
			Interval:    1 * time.Hour,
			RunOnStart:  true,
			Concurrency: 4,
		},
		Kafka:    KafkaConfig{Topic: "shelflife.alerts"},
		LogLevel: "info",
	}
}

// Load reads path (if it exists) over the defaults, then applies
// environment overrides. A missing file is not an error; a malformed
// one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Evaluator.Interval <= 0 {
		return fmt.Errorf("evaluator interval must be positive, got %s", c.Evaluator.Interval)
	}
	if c.Evaluator.Concurrency <= 0 {
		return fmt.Errorf("evaluator concurrency must be positive, got %d", c.Evaluator.Concurrency)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SHELFLIFE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}
	if v := os.Getenv("SHELFLIFE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SHELFLIFE_EVAL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Evaluator.Interval = d
		}
	}
	if v := os.Getenv("SHELFLIFE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	if v := os.Getenv("SHELFLIFE_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("SHELFLIFE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
