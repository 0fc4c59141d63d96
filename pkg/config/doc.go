// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Validation fails fast with a configuration
// error from pkg/ssoerr.
//
// # Configuration Structure
//
// SSO settings:
//
//	SSO_ENABLED="true"
//	SSO_BASE_URL="https://idp.example.com"
//	SSO_REALM="acme"
//	SSO_CLIENT_ID="crm"
//	SSO_CLIENT_SECRET="..."
//	SSO_REDIRECT_URI="https://crm.example.com/sso/callback"
//	SSO_ENCRYPTION_KEY="<base64 of 32 random bytes>"
//	SSO_DEFAULT_ROLE="Sales Agent"
//	SSO_ROLE_MAPPING="crm-admin=Admin,crm-manager=Manager|Sales Agent"
//	SSO_ROLE_MAPPING_FILE="/etc/ssobridge/roles.yaml"
//	SSO_ROLE_SYNC_MODE="replace"  # replace, merge
//	SSO_CACHE_TTL="3600"          # seconds or a Go duration
//	SSO_RETRY_SLEEP="100"         # milliseconds or a Go duration
//	SSO_TOKEN_SWEEP_SCHEDULE="@every 15m"
//
// Storage settings:
//
//	STORAGE_POSTGRES_URL="postgres://localhost/crm"
//	STORAGE_POSTGRES_REPLICA_URLS="postgres://replica1/crm,postgres://replica2/crm"
//	STORAGE_POSTGRES_MAX_CONNS="20"
//	STORAGE_REDIS_URL="redis://localhost:6379/0"
//	STORAGE_REDIS_KEY_PREFIX="sso"
//
// Observability settings:
//
//	SSO_LOG_LEVEL="info"  # debug, info, warn, error
//	SSO_LOGGING_ENABLED="true"
//	SSO_SENSITIVE_KEYS="password,client_secret,token"
//	OBS_METRICS_ENABLED="true"
//	OBS_METRICS_ADDR=":9090"
//	OBS_OTEL_ENABLED="true"
//	OBS_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	logger := cfg.Logger()
//	mapper := sso.NewRoleMapper(cfg.SSO, logger, metrics)
//	if cfg.RoleMappingFile != "" {
//		go config.WatchRoleMappingFile(ctx, cfg.RoleMappingFile, mapper, logger)
//	}
//
// # Related Packages
//
//   - pkg/sso: Uses the SSO configuration
//   - pkg/storage/postgres: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
