// Package redisstore provides redis-backed implementations of sso.StateStore
// and sso.ClaimsCache for deployments running more than one replica.
//
//	client, err := redisstore.NewClient(ctx, redisstore.Config{URL: "redis://localhost:6379/0"})
//	states := redisstore.NewStateStore(client, "sso")
//	cache := redisstore.NewClaimsCache(client, "sso", time.Hour, logger)
package redisstore
