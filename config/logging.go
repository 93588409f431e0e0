package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggingConfig configures the zap logger built by NewLogger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`

	// Format is json or console.
	Format string `mapstructure:"format" validate:"required,oneof=json console"`

	// Output is stdout, stderr or file.
	Output string `mapstructure:"output" validate:"required,oneof=stdout stderr file"`

	// FilePath is required when Output is file.
	FilePath string `mapstructure:"file_path"`

	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures file rotation for the file output.
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size" validate:"min=1"`
	MaxBackups int  `mapstructure:"max_backups" validate:"min=0"`
	MaxAge     int  `mapstructure:"max_age" validate:"min=0"`
	Compress   bool `mapstructure:"compress"`
}

// NewLogger builds a zap logger from cfg. File output is rotated with
// lumberjack.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("config: logging level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	out, err := writer(cfg)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(enc, out, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()), nil
}

func writer(cfg LoggingConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return nil, fmt.Errorf("config: creating log directory: %w", err)
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.Rotation.MaxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAge,
			Compress:   cfg.Rotation.Compress,
		}), nil
	default:
		return zapcore.AddSync(os.Stderr), nil
	}
}
