// Package sso implements the OpenID Connect login lifecycle against a Keycloak
// style identity provider.
//
// # Overview
//
// A login moves through the authorization code flow: BuildAuthorizationURL
// stores a single-use CSRF state and returns the IdP URL, CompleteLogin
// validates the callback and exchanges the code for tokens, and the
// UserReconciler maps the resulting claims onto a local user. The RoleMapper
// translates IdP roles into local roles.
//
// # Usage Example
//
//	manager := sso.NewTokenManager(cfg, client, sso.NewMemoryStateStore(),
//		sso.WithClaimsCache(sso.NewLRUClaimsCache(1024, cfg.CacheTTL)))
//	mapper := sso.NewRoleMapper(cfg, logger, metrics)
//	reconciler := sso.NewUserReconciler(cfg, store, mapper, logger, metrics)
//
//	service := sso.NewService(cfg, sso.ServiceDeps{
//		Tokens:     manager,
//		Reconciler: reconciler,
//		Transactor: store,
//		Cipher:     cipher,
//		Hooks:      sso.NewHooks(logger, sso.NewLastLoginRecorder(store)),
//	})
//
//	url, err := service.BeginLogin(ctx, sessionID)
//	...
//	result, err := service.HandleCallback(ctx, sso.CallbackRequest{
//		SessionID: sessionID,
//		State:     r.URL.Query().Get("state"),
//		Params:    r.URL.Query(),
//	})
//	if err != nil {
//		resp := service.Failure(err)
//		...
//	}
//
// # Errors
//
// Every error leaving this package is an *ssoerr.Error. Use errors.Is with the
// ssoerr sentinels to branch on the kind of failure, and ssoerr.UserMessage to
// render it.
//
// # Token Storage
//
// Refresh tokens are stored encrypted with TokenCipher. The TokenSweeper
// clears tokens whose access token has expired.
//
// # Related Packages
//
//   - pkg/sso/keycloak: IdP transport
//   - pkg/storage/postgres: user and role stores
//   - pkg/storage/redisstore: shared state and claims cache
package sso
