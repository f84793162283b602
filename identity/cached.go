package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CachedResolver puts a redis read-through cache in front of another
// Resolver. Redis failures are logged and fall through to the wrapped
// resolver. Misses are not cached.
type CachedResolver struct {
	next   Resolver
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCachedResolver(next Resolver, rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedResolver {
	return &CachedResolver{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(kind Kind, id string) string {
	return "Identity:" + string(kind) + ":" + id
}

func (c *CachedResolver) resolve(ctx context.Context, kind Kind, id string, load func(context.Context, string) (*Record, error)) (*Record, error) {
	key := cacheKey(kind, id)
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var rec Record
		if err := json.Unmarshal(b, &rec); err == nil {
			return &rec, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WithFields(logrus.Fields{"field": "identity", "key": key}).Warn("redis get failed: " + err.Error())
	}

	rec, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(rec); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.logger.WithFields(logrus.Fields{"field": "identity", "key": key}).Warn("redis set failed: " + err.Error())
		}
	}
	return rec, nil
}

func (c *CachedResolver) ResolveProject(ctx context.Context, id string) (*Record, error) {
	return c.resolve(ctx, KindProject, id, c.next.ResolveProject)
}

func (c *CachedResolver) ResolveWorker(ctx context.Context, id string) (*Record, error) {
	return c.resolve(ctx, KindWorker, id, c.next.ResolveWorker)
}

func (c *CachedResolver) ResolveCompany(ctx context.Context, id string) (*Record, error) {
	return c.resolve(ctx, KindCompany, id, c.next.ResolveCompany)
}

// Invalidate drops a cached entry, e.g. after the identity store renames it.
func (c *CachedResolver) Invalidate(ctx context.Context, kind Kind, id string) error {
	return c.rdb.Del(ctx, cacheKey(kind, id)).Err()
}
