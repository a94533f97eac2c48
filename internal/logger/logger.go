package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options tunes the production logger.
type Options struct {
	Level string
	// File receives a copy of every entry in addition to stderr.
	File string
}

// New builds a colored console logger in development mode and a JSON
// logger otherwise. Development mode logs at debug regardless of
// opts.Level.
func New(development bool, opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	if opts.File != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}
	return cfg.Build()
}
