package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedClient decorates a Client with a short-TTL redis cache over
// GetUsersWithScope, which is the hot read on notification fan-out. All
// other calls pass through; permission sync invalidates the resource's
// cached entries.
type CachedClient struct {
	Client
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedClient wraps inner with a redis cache. A nil redis client
// degrades to pass-through.
func NewCachedClient(inner Client, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedClient{Client: inner, redis: redisClient, ttl: ttl, logger: logger}
}

// GetUsersWithScope serves from cache when possible.
func (c *CachedClient) GetUsersWithScope(ctx context.Context, resourceID string, scopes []Scope) ([]string, error) {
	if c.redis == nil {
		return c.Client.GetUsersWithScope(ctx, resourceID, scopes)
	}

	key := usersCacheKey(resourceID, scopes)
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var users []string
		if err := json.Unmarshal(raw, &users); err == nil {
			return users, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("authz user cache read failed", zap.String("key", key), zap.Error(err))
	}

	users, err := c.Client.GetUsersWithScope(ctx, resourceID, scopes)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(users); err == nil {
		if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("authz user cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return users, nil
}

// UpsertScopePermission passes through and drops the resource's cached
// user lookups so stale membership never outlives a sync.
func (c *CachedClient) UpsertScopePermission(ctx context.Context, resourceID string, scopes []Scope, permissionName string, strategy DecisionStrategy, policyIDs []string) error {
	if err := c.Client.UpsertScopePermission(ctx, resourceID, scopes, permissionName, strategy, policyIDs); err != nil {
		return err
	}
	c.invalidate(ctx, resourceID)
	return nil
}

func (c *CachedClient) invalidate(ctx context.Context, resourceID string) {
	if c.redis == nil {
		return
	}
	pattern := fmt.Sprintf("authz:users:%s:*", resourceID)
	iter := c.redis.Scan(ctx, 0, pattern, 64).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("authz user cache invalidation failed", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("authz user cache scan failed", zap.String("resource", resourceID), zap.Error(err))
	}
}

func usersCacheKey(resourceID string, scopes []Scope) string {
	names := make([]string, len(scopes))
	for i, s := range scopes {
		names[i] = string(s)
	}
	sort.Strings(names)
	return fmt.Sprintf("authz:users:%s:%s", resourceID, strings.Join(names, ","))
}
