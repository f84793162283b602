package config

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConnectRedis returns a pinged client and a lock client over it. Redis is
// optional: an empty address returns (nil, nil, nil) and callers run without
// the identity cache and sweep lock.
func ConnectRedis(ctx context.Context, cfg RedisConfig, logg *logrus.Logger) (*redis.Client, *redislock.Client, error) {
	if cfg.Address == "" {
		logg.WithFields(logrus.Fields{"field": "redis"}).Warn("REDIS_ADDRESS not set; running without redis")
		return nil, nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 100,
	})

	var attempt int
	for {
		attempt++
		err := rdb.Ping(ctx).Err()
		if err == nil {
			logg.WithFields(logrus.Fields{"field": "redis", "attempt": attempt, "addr": cfg.Address}).Info("connected to redis")
			return rdb, redislock.New(rdb), nil
		}
		if attempt >= 5 {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Address, err)
		}
		sleep := time.Second * time.Duration(1<<attempt)
		logg.WithFields(logrus.Fields{
			"field":   "redis",
			"attempt": attempt,
			"addr":    cfg.Address,
		}).Warn(fmt.Sprintf("failed to connect redis: %v; retrying in %s", err, sleep))
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}
