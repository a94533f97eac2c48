package state

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/metrics"
)

// Open builds the backend named by cfg.Type wrapped in Retrying.
func Open(cfg config.StoreConfig, logger *zap.Logger, reg *metrics.Registry) (*Retrying, error) {
	var (
		inner Storage
		err   error
	)
	switch cfg.Type {
	case "", "memory":
		inner = NewMemory()
	case "file":
		inner, err = NewLocalFS(cfg.Path)
	case "s3":
		inner, err = NewS3(cfg.S3)
	case "sqlite":
		inner, err = NewSQLite(cfg.Path, logger)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown store type %q", cfg.Type))
	}
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("state store opened", zap.String("type", cfg.Type), zap.String("key", cfg.Key))
	}
	return NewRetrying(inner, cfg.Retry, logger, reg), nil
}
