// Package cli provides the ssobridge command-line interface.
//
// # Overview
//
// Every command reads its configuration from the environment (see pkg/config)
// and wires the same components an HTTP layer would use.
//
// # Commands
//
// check: Print a redacted configuration summary and validate it
//
//	ssobridge check
//	ssobridge check -db  # also migrate and verify the default role exists
//
// login-url: Generate an authorization URL and store its CSRF state
//
//	ssobridge login-url -session 3f1c... -scopes openid,profile,email
//
// map-roles: Show how IdP roles map to local roles
//
//	ssobridge map-roles crm-admin crm-manager
//	ssobridge map-roles -mapping-file ./roles.yaml crm-admin
//
// introspect: Ask the IdP whether an access token is active
//
//	pbpaste | ssobridge introspect
//	ssobridge introspect -token-file ./token
//
// sweep: Clear expired refresh tokens once
//
//	ssobridge sweep -timeout 2m
//
// serve: Run the scheduled token sweeper, the /metrics and /healthz
// endpoints, replica health checks and the role mapping file watcher
//
//	ssobridge serve -shutdown-timeout 30s
//
// # Related Packages
//
//   - pkg/config: Environment configuration
//   - pkg/sso: Token lifecycle, reconciliation and role mapping
//   - pkg/storage/postgres: User and role store
//   - pkg/storage/redisstore: Shared state store and claims cache
package cli
