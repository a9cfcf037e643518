/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the shelflife batch lifecycle server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env, config file, environment, flags
  2. Initialize SQLite store
  3. Seed default alert rules on an empty database
  4. Create API handler and evaluation scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (default: ./config.yaml)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the evaluation scheduler (waits for in-flight tick)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/shelflife.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration precedence
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/yoamart/shelflife/api"
	"github.com/yoamart/shelflife/config"
	"github.com/yoamart/shelflife/engine"
	"github.com/yoamart/shelflife/factory"
	"github.com/yoamart/shelflife/notify"
	"github.com/yoamart/shelflife/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "./config.yaml", "path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := newLogger(cfg.LogLevel)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	clock := engine.SystemClock{}

	// Seed default rules so a fresh install alerts sensibly.
	if err := seedDefaultRules(context.Background(), store); err != nil {
		log.Warn().Err(err).Msg("failed to seed default rules")
	}

	// Optional Kafka notification sink
	var notifier engine.Notifier = engine.NopNotifier{}
	if len(cfg.Kafka.Brokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer kn.Close()
		notifier = kn
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka notifier enabled")
	}

	// Handler and scheduler
	handler := api.NewHandler(store, clock, log)
	scheduler := api.NewEvaluationScheduler(store, clock, notifier, log)
	scheduler.Interval = cfg.Evaluator.Interval
	scheduler.Concurrency = cfg.Evaluator.Concurrency
	scheduler.RunOnStart = cfg.Evaluator.RunOnStart
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTP.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

// seedDefaultRules installs the standard warning ladder when no rules
// exist yet. Never overwrites operator configuration.
func seedDefaultRules(ctx context.Context, store engine.Store) error {
	existing, err := store.ListRules(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	for _, rule := range factory.NewRuleFactory().DefaultRuleSet() {
		if err := store.SaveRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}
