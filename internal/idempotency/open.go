package idempotency

import (
	"context"
	"fmt"

	"paycore/config"

	"gorm.io/gorm"
)

// Open builds the configured store. The returned close func releases the Redis
// connection, if any.
func Open(ctx context.Context, cfg config.IdempotencyConfig, redisCfg config.RedisConfig, db *gorm.DB) (Store, func() error, error) {
	switch cfg.Backend {
	case "redis":
		rdb, err := NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("redis %s: %w", redisCfg.Addr, err)
		}
		return NewRedisStore(rdb, cfg.TTL), rdb.Close, nil
	case "database", "":
		return NewDBStore(db, cfg.TTL), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
}
