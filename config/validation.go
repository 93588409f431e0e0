package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks struct tags and the settings each store driver needs.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	switch cfg.Store.Driver {
	case DriverRedis:
		if cfg.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis driver")
		}
	case DriverBadger:
		if cfg.Store.Badger.Dir == "" && !cfg.Store.Badger.InMemory {
			return errors.New("store.badger.dir is required for the badger driver")
		}
	}

	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return errors.New("logging.file_path is required when logging.output is file")
	}
	return nil
}

func formatValidationError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}

	messages := make([]string, 0, len(fields))
	for _, e := range fields {
		messages = append(messages, fmt.Sprintf(
			"field '%s' failed validation: %s (value: '%v')",
			e.Namespace(),
			e.Tag(),
			e.Value(),
		))
	}
	return fmt.Errorf("validation failed:\n  %s", strings.Join(messages, "\n  "))
}
