package sso

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ClaimsCache caches userinfo claims per access token.
type ClaimsCache interface {
	Get(ctx context.Context, accessToken string) (Claims, bool)
	// Set stores claims until expiresAt. Implementations must not keep an entry
	// beyond that instant.
	Set(ctx context.Context, accessToken string, claims Claims, expiresAt time.Time)
}

// CacheKey derives the cache key for an access token. Raw tokens are never used as keys.
func CacheKey(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return hex.EncodeToString(sum[:])
}

type cachedClaims struct {
	claims    Claims
	expiresAt time.Time
}

// LRUClaimsCache is an in-process ClaimsCache with a global TTL bound and a
// per-entry expiry.
type LRUClaimsCache struct {
	lru *expirable.LRU[string, cachedClaims]
	now func() time.Time
}

// NewLRUClaimsCache creates a cache holding at most size entries for at most ttl.
func NewLRUClaimsCache(size int, ttl time.Duration) *LRUClaimsCache {
	if size <= 0 {
		size = 1024
	}
	return &LRUClaimsCache{
		lru: expirable.NewLRU[string, cachedClaims](size, nil, ttl),
		now: time.Now,
	}
}

func (c *LRUClaimsCache) Get(_ context.Context, accessToken string) (Claims, bool) {
	key := CacheKey(accessToken)
	entry, ok := c.lru.Get(key)
	if !ok {
		return Claims{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.lru.Remove(key)
		return Claims{}, false
	}
	return entry.claims, true
}

func (c *LRUClaimsCache) Set(_ context.Context, accessToken string, claims Claims, expiresAt time.Time) {
	if !c.now().Before(expiresAt) {
		return
	}
	c.lru.Add(CacheKey(accessToken), cachedClaims{claims: claims, expiresAt: expiresAt})
}
