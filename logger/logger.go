// Package logger builds the process zap logger from configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and an optional rotated log file.
type Config struct {
	Level  string `json:"level" yaml:"level"`   // debug|info|warn|error
	Format string `json:"format" yaml:"format"` // json|console
	File   string `json:"file,omitempty" yaml:"file,omitempty"`

	// Rotation, used only with File. Zero values take lumberjack defaults.
	MaxSizeMB  int `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging: format must be json or console, got %q", c.Format)
	}
	return nil
}

// New returns a logger writing to stderr and, when File is set, to a
// rotated file as well. The returned closer flushes and closes the file.
func New(c Config) (*zap.Logger, func() error, error) {
	return build(c, os.Stderr)
}

func build(c Config, console io.Writer) (*zap.Logger, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	level, _ := zapcore.ParseLevel(c.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(c.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(console)), level),
	}

	var rot *lumberjack.Logger
	if c.File != "" {
		rot = &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
			Compress:   true,
		}
		fileCfg := encCfg
		fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rot), level))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	closer := func() error {
		_ = log.Sync()
		if rot != nil {
			return rot.Close()
		}
		return nil
	}
	return log, closer, nil
}
