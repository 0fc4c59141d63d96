// Package keycloak implements the sso.Transport and sso.IDTokenVerifier
// interfaces against a Keycloak realm.
//
// Grants go through golang.org/x/oauth2 with client credentials sent in the
// request body. Userinfo, introspection and logout calls are plain HTTP
// requests retried according to the retry.* configuration. ID tokens are
// verified with go-oidc against the realm JWKS.
//
//	client := keycloak.New(cfg, keycloak.WithLogger(logger), keycloak.WithMetrics(metrics))
//	tokens, err := client.ExchangeCode(ctx, code)
package keycloak
