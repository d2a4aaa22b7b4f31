package service

import (
	"context"
	"fmt"

	"github.com/okian/podium/internal/adapters/kvstore"
	"github.com/okian/podium/internal/config"
	"github.com/okian/podium/pkg/logger"
)

// OpenStore builds the durable key-value store selected by cfg.
func OpenStore(ctx context.Context, cfg *config.Config, log logger.Logger) (kvstore.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return kvstore.NewMemory(), nil
	case config.BackendFile:
		store, err := kvstore.OpenFile(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		store, err := kvstore.OpenRedis(ctx, kvstore.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			Timeout:  cfg.RequestTimeout,
		}, log.Named("kvstore"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, cfg.StoreBackend)
	}
}
