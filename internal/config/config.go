package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Instance      InstanceConfig      `mapstructure:"instance"`
	Authorization AuthorizationConfig `mapstructure:"authorization"`
	Events        EventsConfig        `mapstructure:"events"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress     string   `mapstructure:"bind_address"`
	APIPort         int      `mapstructure:"api_port"`
	MetricsPort     int      `mapstructure:"metrics_port"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`
	RateLimit       int      `mapstructure:"rate_limit"` // requests per window per client
	RateLimitWindow string   `mapstructure:"rate_limit_window"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"` // may carry the port as "host:port"
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	MaxTxRetries int    `mapstructure:"max_tx_retries"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// InstanceConfig describes the deployment and the identities whose
// authorization entries are accepted.
type InstanceConfig struct {
	TokenAsset string           `mapstructure:"token_asset"`
	Identities []IdentityConfig `mapstructure:"identities"`
}

// IdentityConfig binds an account identity to its Ed25519 public key.
type IdentityConfig struct {
	ID        string `mapstructure:"id"`
	PublicKey string `mapstructure:"public_key"` // standard base64, 32 bytes
}

// AuthorizationConfig defines authorization entry and policy settings
type AuthorizationConfig struct {
	EntryTTL        string `mapstructure:"entry_ttl"`
	ReplayCacheSize int    `mapstructure:"replay_cache_size"`
	PolicyDir       string `mapstructure:"policy_dir"` // empty uses the built-in policy
}

// EventsConfig defines where committed events are delivered
type EventsConfig struct {
	Sinks []string    `mapstructure:"sinks"` // "log", "kafka"
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig defines the Kafka event sink
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	WriteTimeout string   `mapstructure:"write_timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("ACCESSTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_limit_window", "1m")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/accesstime/accesstime.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "accesstime")
	v.SetDefault("storage.redis.max_tx_retries", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Authorization defaults
	v.SetDefault("authorization.entry_ttl", "5m")
	v.SetDefault("authorization.replay_cache_size", 100000)
	v.SetDefault("authorization.policy_dir", "")

	// Events defaults
	v.SetDefault("events.sinks", []string{"log"})
	v.SetDefault("events.kafka.topic", "accesstime.events")
	v.SetDefault("events.kafka.write_timeout", "10s")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if _, err := time.ParseDuration(cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if _, err := time.ParseDuration(cfg.Server.RateLimitWindow); err != nil {
		return fmt.Errorf("invalid rate_limit_window: %w", err)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		if cfg.Storage.Redis.MaxTxRetries <= 0 {
			return fmt.Errorf("redis max_tx_retries must be positive")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	seen := make(map[string]bool)
	for i, id := range cfg.Instance.Identities {
		if id.ID == "" {
			return fmt.Errorf("identity %d: id is required", i)
		}
		if seen[id.ID] {
			return fmt.Errorf("identity %s: duplicate id", id.ID)
		}
		seen[id.ID] = true
		key, err := base64.StdEncoding.DecodeString(id.PublicKey)
		if err != nil {
			return fmt.Errorf("identity %s: invalid public_key: %w", id.ID, err)
		}
		if len(key) != 32 {
			return fmt.Errorf("identity %s: public_key must be 32 bytes, got %d", id.ID, len(key))
		}
	}

	ttl, err := time.ParseDuration(cfg.Authorization.EntryTTL)
	if err != nil {
		return fmt.Errorf("invalid entry_ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("entry_ttl must be positive")
	}
	if cfg.Authorization.ReplayCacheSize <= 0 {
		return fmt.Errorf("replay_cache_size must be positive")
	}

	for _, sink := range cfg.Events.Sinks {
		switch sink {
		case "log":
		case "kafka":
			if len(cfg.Events.Kafka.Brokers) == 0 {
				return fmt.Errorf("kafka sink requires at least one broker")
			}
			if cfg.Events.Kafka.Topic == "" {
				return fmt.Errorf("kafka sink requires a topic")
			}
			if _, err := time.ParseDuration(cfg.Events.Kafka.WriteTimeout); err != nil {
				return fmt.Errorf("invalid kafka write_timeout: %w", err)
			}
		default:
			return fmt.Errorf("unknown event sink: %s", sink)
		}
	}

	return nil
}
