package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goodtune/accesstime/internal/access"
	"github.com/goodtune/accesstime/internal/auth"
	"github.com/goodtune/accesstime/internal/authz"
	"github.com/goodtune/accesstime/internal/config"
	"github.com/goodtune/accesstime/internal/events"
	"github.com/goodtune/accesstime/internal/storage"
	"github.com/goodtune/accesstime/internal/storage/bolt"
	"github.com/goodtune/accesstime/internal/storage/redis"
	"github.com/rs/zerolog"
)

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// quietLogger is used by one-shot commands whose output is for humans.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// buildSinks creates the configured event sinks.
func buildSinks(cfg config.EventsConfig, logger zerolog.Logger) (events.Multi, error) {
	var sinks events.Multi
	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, events.NewLogSink(logger))
		case "kafka":
			sink, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, parseDuration(cfg.Kafka.WriteTimeout, 10*time.Second))
			if err != nil {
				_ = sinks.Close()
				return nil, fmt.Errorf("kafka sink: %w", err)
			}
			sinks = append(sinks, sink)
		default:
			_ = sinks.Close()
			return nil, fmt.Errorf("unknown event sink: %s", name)
		}
	}
	return sinks, nil
}

// newVerifier builds the authorization entry verifier from the configured identities.
func newVerifier(cfg *config.Config) (*auth.Verifier, error) {
	keys, err := auth.NewKeyring(cfg.Instance.Identities)
	if err != nil {
		return nil, fmt.Errorf("failed to load identities: %w", err)
	}
	return auth.NewVerifier(
		keys,
		nil,
		parseDuration(cfg.Authorization.EntryTTL, 5*time.Minute),
		cfg.Authorization.ReplayCacheSize,
	), nil
}

// engineDeps bundles an engine with the resources it holds.
type engineDeps struct {
	engine *access.Engine
	store  storage.Store
	policy *authz.Engine
	sinks  events.Multi
}

func (d *engineDeps) Close() error {
	sinkErr := d.sinks.Close()
	if err := d.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return sinkErr
}

// openEngine wires storage, policy and sinks into an access engine.
// withSinks false leaves events undelivered, for read-only commands.
func openEngine(cfg *config.Config, logger zerolog.Logger, withSinks bool) (*engineDeps, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	policy, err := authz.NewEngine(cfg.Authorization.PolicyDir, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	var sinks events.Multi
	if withSinks {
		sinks, err = buildSinks(cfg.Events, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	return &engineDeps{
		engine: access.NewEngine(store, policy, sinks, logger),
		store:  store,
		policy: policy,
		sinks:  sinks,
	}, nil
}
