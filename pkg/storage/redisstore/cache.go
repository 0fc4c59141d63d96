package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/sso"
)

// ClaimsCache is a shared sso.ClaimsCache. Keys are token hashes and entries
// expire at the earlier of the configured TTL and the token expiry.
type ClaimsCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *observability.Logger
	now    func() time.Time
}

// NewClaimsCache creates a cache whose entries live at most ttl.
func NewClaimsCache(client *redis.Client, prefix string, ttl time.Duration, logger *observability.Logger) *ClaimsCache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ClaimsCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func (c *ClaimsCache) key(accessToken string) string {
	return prefixed(c.prefix, "claims:"+sso.CacheKey(accessToken))
}

// Get returns cached claims. Redis failures are reported as misses.
func (c *ClaimsCache) Get(ctx context.Context, accessToken string) (sso.Claims, bool) {
	key := c.key(accessToken)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return sso.Claims{}, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("Claims cache read failed")
		return sso.Claims{}, false
	}

	var claims sso.Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		// drop corrupt entries
		c.client.Del(ctx, key)
		return sso.Claims{}, false
	}
	return claims, true
}

// Set stores claims until the earlier of expiresAt and now+ttl.
func (c *ClaimsCache) Set(ctx context.Context, accessToken string, claims sso.Claims, expiresAt time.Time) {
	ttl := expiresAt.Sub(c.now())
	if c.ttl > 0 && c.ttl < ttl {
		ttl = c.ttl
	}
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(claims)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode claims for cache")
		return
	}
	if err := c.client.Set(ctx, c.key(accessToken), data, ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Claims cache write failed")
	}
}

var _ sso.ClaimsCache = (*ClaimsCache)(nil)
