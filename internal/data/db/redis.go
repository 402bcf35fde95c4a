package db

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/latticefort/dp-query-service/internal/config"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

// NewRedisClient dials the Redis instance backing the backpressure
// Gate's INCR/DECR admission counter. A blank Addr disables Redis
// entirely (nil, nil), degrading the Gate to its in-process channel
// mode for single-node deployments.
func NewRedisClient(cfg config.RedisConfig, log *logger.Logger) (*goredis.Client, error) {
	if cfg.Addr == "" {
		log.Warn("REDIS_ADDR not set, backpressure gate running in-process")
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("connected to redis", "addr", cfg.Addr)
	return rdb, nil
}
