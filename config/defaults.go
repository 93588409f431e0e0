package config

import "time"

// SetDefaults fills every zero field with its default.
func SetDefaults(cfg *Config) {
	if cfg.Mediator.SchedulePeriod == 0 {
		cfg.Mediator.SchedulePeriod = time.Minute
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverMemory
	}
	if cfg.Store.Memory.LifeWindow == 0 {
		cfg.Store.Memory.LifeWindow = 10 * time.Minute
	}
	if cfg.Store.Memory.CleanWindow == 0 {
		cfg.Store.Memory.CleanWindow = 5 * time.Minute
	}
	if cfg.Store.Memory.Shards == 0 {
		cfg.Store.Memory.Shards = 64
	}
	if cfg.Store.Memory.MaxEntrySize == 0 {
		cfg.Store.Memory.MaxEntrySize = 512
	}
	if cfg.Store.Redis.Prefix == "" {
		cfg.Store.Redis.Prefix = "mediator:"
	}
	if cfg.Store.Badger.Dir == "" {
		cfg.Store.Badger.Dir = "./data/mediator"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Logging.Rotation.MaxSize == 0 {
		cfg.Logging.Rotation.MaxSize = 100
	}
	if cfg.Logging.Rotation.MaxBackups == 0 {
		cfg.Logging.Rotation.MaxBackups = 5
	}
	if cfg.Logging.Rotation.MaxAge == 0 {
		cfg.Logging.Rotation.MaxAge = 30
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "mediator"
	}
}
