package config

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bjaus/mediator/middleware"
	"github.com/bjaus/mediator/store/badgerstore"
	"github.com/bjaus/mediator/store/memstore"
	"github.com/bjaus/mediator/store/redisstore"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverBadger = "badger"
)

// StoreConfig selects and configures the cache and offline store.
type StoreConfig struct {
	Driver string       `mapstructure:"driver" validate:"required,oneof=memory redis badger"`
	Memory MemoryConfig `mapstructure:"memory"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Badger BadgerConfig `mapstructure:"badger"`
}

// MemoryConfig configures the bigcache store.
type MemoryConfig struct {
	LifeWindow       time.Duration `mapstructure:"life_window" validate:"min=0"`
	CleanWindow      time.Duration `mapstructure:"clean_window" validate:"min=0"`
	Shards           int           `mapstructure:"shards" validate:"min=0"`
	MaxEntrySize     int           `mapstructure:"max_entry_size" validate:"min=0"`
	HardMaxCacheSize int           `mapstructure:"hard_max_cache_size" validate:"min=0"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// BadgerConfig configures the BadgerDB store.
type BadgerConfig struct {
	Dir      string        `mapstructure:"dir"`
	InMemory bool          `mapstructure:"in_memory"`
	TTL      time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// Store is a middleware.Store that must be closed.
type Store interface {
	middleware.Store
	io.Closer
}

// OpenStore opens the store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		s, err := memstore.New(ctx, memstore.Config{
			LifeWindow:       cfg.Memory.LifeWindow,
			CleanWindow:      cfg.Memory.CleanWindow,
			Shards:           cfg.Memory.Shards,
			MaxEntrySize:     cfg.Memory.MaxEntrySize,
			HardMaxCacheSize: cfg.Memory.HardMaxCacheSize,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverRedis:
		s, err := redisstore.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redisstore.WithPrefix(cfg.Redis.Prefix),
			redisstore.WithTTL(cfg.Redis.TTL),
		)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverBadger:
		open := func() (*badgerstore.Store, error) {
			if cfg.Badger.InMemory {
				return badgerstore.OpenInMemory(badgerstore.WithTTL(cfg.Badger.TTL))
			}
			return badgerstore.Open(cfg.Badger.Dir, badgerstore.WithTTL(cfg.Badger.TTL))
		}
		s, err := open()
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("config: unknown store driver %q", cfg.Driver)
	}
}
