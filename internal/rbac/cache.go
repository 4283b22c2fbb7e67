package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	permissionKeyPrefix = "rbac:perms"
	invalidateChannel   = "rbac.permissions.invalidate"
)

// RedisCacheConfig tunes the permission cache.
type RedisCacheConfig struct {
	TTL       time.Duration
	LocalSize int
	LocalTTL  time.Duration
}

// RedisCache stores resolved permissions in Redis, fronted by an optional in-process LRU.
// Entries live at most TTL; that is the longest a demoted user can keep stale permissions
// when an invalidation fails to reach Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	local  *expirable.LRU[int64, CachedPermissions]
	logger *slog.Logger
}

// NewRedisCache constructs the cache. A nil client leaves only the local tier active.
func NewRedisCache(client *redis.Client, cfg RedisCacheConfig, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	c := &RedisCache{client: client, ttl: cfg.TTL, logger: logger}
	if cfg.LocalSize > 0 {
		localTTL := cfg.LocalTTL
		if localTTL <= 0 || localTTL > cfg.TTL {
			localTTL = cfg.TTL
		}
		c.local = expirable.NewLRU[int64, CachedPermissions](cfg.LocalSize, nil, localTTL)
	}
	return c
}

// Get returns the cached entry of userID.
func (c *RedisCache) Get(ctx context.Context, userID int64) (CachedPermissions, bool, error) {
	if c.local != nil {
		if entry, ok := c.local.Get(userID); ok {
			return entry, true, nil
		}
	}
	if c.client == nil {
		return CachedPermissions{}, false, nil
	}
	payload, err := c.client.Get(ctx, permissionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedPermissions{}, false, nil
	}
	if err != nil {
		return CachedPermissions{}, false, fmt.Errorf("rbac cache: get: %w", err)
	}
	var entry CachedPermissions
	if err := json.Unmarshal(payload, &entry); err != nil {
		return CachedPermissions{}, false, fmt.Errorf("rbac cache: decode: %w", err)
	}
	if c.local != nil {
		c.local.Add(userID, entry)
	}
	return entry, true, nil
}

// Set stores the entry of userID for the configured TTL.
func (c *RedisCache) Set(ctx context.Context, userID int64, entry CachedPermissions) error {
	if c.local != nil {
		c.local.Add(userID, entry)
	}
	if c.client == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, permissionKey(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("rbac cache: set: %w", err)
	}
	return nil
}

// Invalidate drops the entry of userID here and in Redis, and tells every other process
// to drop its local copy.
func (c *RedisCache) Invalidate(ctx context.Context, userID int64) error {
	if c.local != nil {
		c.local.Remove(userID)
	}
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, permissionKey(userID)).Err(); err != nil {
		return fmt.Errorf("rbac cache: invalidate: %w", err)
	}
	if err := c.client.Publish(ctx, invalidateChannel, strconv.FormatInt(userID, 10)).Err(); err != nil {
		return fmt.Errorf("rbac cache: publish invalidation: %w", err)
	}
	return nil
}

// ListenForInvalidation subscribes to invalidations published by other processes and
// evicts the matching local entries until ctx is done.
func (c *RedisCache) ListenForInvalidation(ctx context.Context) error {
	if c.client == nil || c.local == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, invalidateChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("rbac cache: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				userID, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					c.logger.Warn("rbac cache: invalid invalidation payload", slog.String("payload", msg.Payload))
					continue
				}
				c.local.Remove(userID)
			}
		}
	}()
	return nil
}

func permissionKey(userID int64) string {
	return permissionKeyPrefix + ":" + strconv.FormatInt(userID, 10)
}
