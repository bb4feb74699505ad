// Package persistence provides key-value slots holding the store's durable state.
package persistence

import (
	"context"

	"marketwatch/internal/adapters/config"
	"marketwatch/internal/adapters/redis"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

// Slot is a single versioned key holding one JSON document.
// Load returns errors.ErrNotFound when the slot has never been written.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

// Open builds the slot selected by PERSISTENCE_BACKEND
func Open(ctx context.Context, cfg config.PersistenceConfig, redisCfg config.RedisConfig, log *logger.Logger) (Slot, error) {
	log = log.With("component", "persistence", "backend", cfg.Backend, "key", cfg.StorageKey)

	switch cfg.Backend {
	case "redis":
		client, err := redis.NewClient(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		log.Infow("Using redis persistence slot", "addr", redisCfg.Addr())
		return NewRedisSlot(client, cfg.StorageKey), nil

	case "sqlite":
		slot, err := NewSQLiteSlot(ctx, cfg.SQLitePath, cfg.StorageKey)
		if err != nil {
			return nil, err
		}
		log.Infow("Using sqlite persistence slot", "path", cfg.SQLitePath)
		return slot, nil

	case "memory":
		log.Infow("Using in-memory persistence slot; state is lost on exit")
		return NewMemorySlot(), nil
	}

	return nil, errors.NewValidationError("backend", "unknown persistence backend", cfg.Backend)
}
