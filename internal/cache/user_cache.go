// Package cache keeps pages of the user listing in Redis.
//
// Only public projections (model.UserSummary) are cached, never password
// hashes or tokens. Every account write invalidates all pages, so a page is
// at most one write out of date, and only until the service invalidates it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

const keyPrefix = "identity:users:page:"

// DefaultTTL is used when NewUserListCache gets a non-positive ttl.
const DefaultTTL = 60 * time.Second

// UserListCache caches ListUsers pages in Redis.
type UserListCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Open connects to the Redis server at rawURL
// ("redis://:password@localhost:6379/0") and checks it answers.
func Open(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parsing redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: pinging redis: %w", err)
	}

	return rdb, nil
}

func NewUserListCache(rdb *redis.Client, ttl time.Duration) *UserListCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &UserListCache{rdb: rdb, ttl: ttl}
}

// PageKey is the Redis key of one normalized page.
func PageKey(opts repository.ListOptions) string {
	opts = opts.Normalize()
	return fmt.Sprintf("%s%d:%d", keyPrefix, opts.Limit, opts.Offset)
}

// GetPage returns the cached page and true, or false on a miss.
func (c *UserListCache) GetPage(ctx context.Context, opts repository.ListOptions) ([]model.UserSummary, bool, error) {
	b, err := c.rdb.Get(ctx, PageKey(opts)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: reading page: %w", err)
	}

	var users []model.UserSummary
	if err := json.Unmarshal(b, &users); err != nil {
		return nil, false, fmt.Errorf("cache: decoding page: %w", err)
	}
	return users, true, nil
}

// SetPage stores a page for the configured TTL.
func (c *UserListCache) SetPage(ctx context.Context, opts repository.ListOptions, users []model.UserSummary) error {
	b, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("cache: encoding page: %w", err)
	}
	if err := c.rdb.Set(ctx, PageKey(opts), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: writing page: %w", err)
	}
	return nil
}

// Invalidate removes every cached page.
func (c *UserListCache) Invalidate(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cache: deleting %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: scanning pages: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *UserListCache) Close() error {
	return c.rdb.Close()
}
