package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoamart/shelflife/config"
)

func TestLoad_Defaults(t *testing.T) {
	// A missing file is fine: the built-in defaults apply.
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "./data/shelflife.db", cfg.Database.Path)
	assert.Equal(t, time.Hour, cfg.Evaluator.Interval)
	assert.True(t, cfg.Evaluator.RunOnStart)
	assert.Equal(t, 4, cfg.Evaluator.Concurrency)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "shelflife.alerts", cfg.Kafka.Topic)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 9090
database:
  path: /tmp/shelf.db
evaluator:
  interval: 15m
  concurrency: 2
log_level: debug
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "/tmp/shelf.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Minute, cfg.Evaluator.Interval)
	assert.Equal(t, 2, cfg.Evaluator.Concurrency)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MalformedYAML_Fails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: ["), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// GIVEN: A file saying port 9090 and env saying 7070
	// THEN: Env wins

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 9090\n"), 0o644))

	t.Setenv("SHELFLIFE_PORT", "7070")
	t.Setenv("SHELFLIFE_DB_PATH", "/var/lib/shelf.db")
	t.Setenv("SHELFLIFE_EVAL_INTERVAL", "30m")
	t.Setenv("SHELFLIFE_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SHELFLIFE_KAFKA_TOPIC", "alerts.v2")
	t.Setenv("SHELFLIFE_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, "/var/lib/shelf.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Minute, cfg.Evaluator.Interval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "alerts.v2", cfg.Kafka.Topic)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero port", func(c *config.Config) { c.HTTP.Port = 0 }},
		{"port too high", func(c *config.Config) { c.HTTP.Port = 70000 }},
		{"empty db path", func(c *config.Config) { c.Database.Path = "" }},
		{"zero interval", func(c *config.Config) { c.Evaluator.Interval = 0 }},
		{"zero concurrency", func(c *config.Config) { c.Evaluator.Concurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
