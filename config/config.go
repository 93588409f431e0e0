// Package config loads mediator settings from a YAML file, a .env file and
// MEDIATOR_ prefixed environment variables, and builds the logger and store
// they describe.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override, for example
// MEDIATOR_STORE_DRIVER=redis.
const EnvPrefix = "MEDIATOR"

// Config is the root configuration.
type Config struct {
	Mediator MediatorConfig `mapstructure:"mediator"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// MediatorConfig tunes dispatch.
type MediatorConfig struct {
	// SequentialPublish runs event handlers one at a time by default.
	SequentialPublish bool `mapstructure:"sequential_publish"`

	// MaxConcurrency caps parallel event handlers. Zero means no limit.
	MaxConcurrency int `mapstructure:"max_concurrency" validate:"min=0"`

	// SchedulePeriod is how often deferred commands are scanned.
	SchedulePeriod time.Duration `mapstructure:"schedule_period" validate:"min=0"`
}

// MetricsConfig configures Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace" validate:"omitempty,alphanum"`
}

// Load reads configuration with this priority:
//  1. Environment variables, including those from a .env file
//  2. The config file at path, or config.yaml in . or ./configs
//  3. Defaults
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	SetDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration or falls back to defaults on error.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// MustLoad loads configuration and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	SetDefaults(cfg)
	return cfg
}

// bindEnv makes nested keys visible to Unmarshal when they are only set in
// the environment.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"mediator.sequential_publish",
		"mediator.max_concurrency",
		"mediator.schedule_period",
		"store.driver",
		"store.memory.life_window",
		"store.memory.clean_window",
		"store.memory.shards",
		"store.memory.max_entry_size",
		"store.memory.hard_max_cache_size",
		"store.redis.addr",
		"store.redis.password",
		"store.redis.db",
		"store.redis.prefix",
		"store.redis.ttl",
		"store.badger.dir",
		"store.badger.in_memory",
		"store.badger.ttl",
		"logging.level",
		"logging.format",
		"logging.output",
		"logging.file_path",
		"logging.rotation.max_size",
		"logging.rotation.max_backups",
		"logging.rotation.max_age",
		"logging.rotation.compress",
		"metrics.enabled",
		"metrics.namespace",
	} {
		_ = v.BindEnv(key)
	}
}
