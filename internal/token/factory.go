package token

import (
	"context"
	"fmt"

	"github.com/openvacs/vacs/internal/common/config"
	"go.uber.org/zap"
)

// NewStore builds the token store selected by the configuration.
func NewStore(ctx context.Context, logger *zap.Logger, cfg config.TokenStore) (Store, error) {
	switch cfg.Type {
	case "memory":
		logger.Info("using in-memory token store")
		return NewMemoryStore(), nil
	case "redis":
		logger.Info("using redis token store", zap.String("addr", cfg.Redis.Addr))
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unsupported token store type: %s", cfg.Type)
	}
}
