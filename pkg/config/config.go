package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/sso"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
	"github.com/platinummonkey/ssobridge/pkg/storage/postgres"
	"github.com/platinummonkey/ssobridge/pkg/storage/redisstore"
)

// Config holds all application configuration
type Config struct {
	// SSO configuration
	SSO sso.Config

	// RoleMappingFile, when set, is loaded over SSO.RoleMapping and watched
	// for changes.
	RoleMappingFile string

	// Storage configuration
	Storage StorageConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// StorageConfig holds postgres and redis settings.
type StorageConfig struct {
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	AutoMigrate         bool

	// Redis backs the CSRF state store and claims cache when RedisURL is set.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisPoolSize   int
	RedisMaxRetries int
	RedisKeyPrefix  string

	// Size of the in-process claims cache used without redis.
	ClaimsCacheSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel       observability.LogLevel
	LoggingEnabled bool
	SensitiveKeys  []string

	// Metrics
	MetricsEnabled bool
	MetricsAddr    string

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	ssoCfg, err := loadSSOConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SSO:             ssoCfg,
		RoleMappingFile: getEnv("SSO_ROLE_MAPPING_FILE", ""),
		Storage:         loadStorageConfig(),
		Observability:   loadObservabilityConfig(),
	}

	if cfg.RoleMappingFile != "" {
		mapping, err := LoadRoleMappingFile(cfg.RoleMappingFile)
		if err != nil {
			return nil, err
		}
		cfg.SSO.RoleMapping = mapping
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadSSOConfig loads the SSO options. Unset variables keep sso.DefaultConfig values.
func loadSSOConfig() (sso.Config, error) {
	d := sso.DefaultConfig()

	cfg := sso.Config{
		Enabled:      getEnvBool("SSO_ENABLED", d.Enabled),
		ClientID:     getEnv("SSO_CLIENT_ID", ""),
		ClientSecret: getEnv("SSO_CLIENT_SECRET", ""),
		BaseURL:      getEnv("SSO_BASE_URL", ""),
		Realm:        getEnv("SSO_REALM", d.Realm),
		RedirectURI:  getEnv("SSO_REDIRECT_URI", ""),
		Scopes:       getEnvList("SSO_SCOPES", d.Scopes),

		AutoProvisionUsers:           getEnvBool("SSO_AUTO_PROVISION_USERS", d.AutoProvisionUsers),
		SyncUserData:                 getEnvBool("SSO_SYNC_USER_DATA", d.SyncUserData),
		EnableRoleMapping:            getEnvBool("SSO_ENABLE_ROLE_MAPPING", d.EnableRoleMapping),
		AllowLocalAuth:               getEnvBool("SSO_ALLOW_LOCAL_AUTH", d.AllowLocalAuth),
		FallbackOnError:              getEnvBool("SSO_FALLBACK_ON_ERROR", d.FallbackOnError),
		AllowAccessOnValidationError: getEnvBool("SSO_ALLOW_ACCESS_ON_VALIDATION_ERROR", false),

		DefaultRole:  getEnv("SSO_DEFAULT_ROLE", d.DefaultRole),
		RoleSyncMode: sso.RoleSyncMode(strings.ToLower(getEnv("SSO_ROLE_SYNC_MODE", string(d.RoleSyncMode)))),

		CacheTokens:             getEnvBool("SSO_CACHE_TOKENS", d.CacheTokens),
		CacheTTL:                getEnvDuration("SSO_CACHE_TTL", d.CacheTTL),
		TokenRefreshGracePeriod: getEnvDuration("SSO_TOKEN_REFRESH_GRACE_PERIOD", d.TokenRefreshGracePeriod),
		StateTTL:                getEnvDuration("SSO_STATE_TTL", d.StateTTL),

		Timeout: sso.TimeoutConfig{
			Connect: getEnvDuration("SSO_TIMEOUT_CONNECT", d.Timeout.Connect),
			Request: getEnvDuration("SSO_TIMEOUT_REQUEST", d.Timeout.Request),
		},
		Retry: sso.HTTPRetryConfig{
			Enabled: getEnvBool("SSO_RETRY_ENABLED", d.Retry.Enabled),
			Times:   getEnvInt("SSO_RETRY_TIMES", d.Retry.Times),
			Sleep:   getEnvMillis("SSO_RETRY_SLEEP", d.Retry.Sleep),
		},
		ErrorHandling: sso.ErrorHandlingConfig{
			ShowDetails:        getEnvBool("SSO_ERROR_SHOW_DETAILS", d.ErrorHandling.ShowDetails),
			LogStackTraces:     getEnvBool("SSO_ERROR_LOG_STACK_TRACES", d.ErrorHandling.LogStackTraces),
			MaxRetries:         getEnvInt("SSO_ERROR_MAX_RETRIES", d.ErrorHandling.MaxRetries),
			RetryDelay:         getEnvMillis("SSO_ERROR_RETRY_DELAY", d.ErrorHandling.RetryDelay),
			ExponentialBackoff: getEnvBool("SSO_ERROR_EXPONENTIAL_BACKOFF", d.ErrorHandling.ExponentialBackoff),
		},

		VerifyIDToken:      getEnvBool("SSO_VERIFY_ID_TOKEN", d.VerifyIDToken),
		Debug:              getEnvBool("SSO_DEBUG", d.Debug),
		TokenSweepSchedule: getEnv("SSO_TOKEN_SWEEP_SCHEDULE", d.TokenSweepSchedule),
	}

	mapping, err := ParseRoleMapping(getEnv("SSO_ROLE_MAPPING", ""))
	if err != nil {
		return sso.Config{}, ssoerr.InvalidConfig("role_mapping", err.Error())
	}
	cfg.RoleMapping = mapping

	if raw := getEnv("SSO_ENCRYPTION_KEY", ""); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return sso.Config{}, ssoerr.InvalidConfig("encryption_key", "must be base64")
		}
		cfg.EncryptionKey = key
	}

	return cfg, nil
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:         getEnv("STORAGE_POSTGRES_URL", ""),
		PostgresReplicaURLs: postgres.ParseReplicaURLs(getEnv("STORAGE_POSTGRES_REPLICA_URLS", "")),
		PostgresMaxConns:    getEnvInt("STORAGE_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns:    getEnvInt("STORAGE_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:     getEnvDuration("STORAGE_POSTGRES_TIMEOUT", 5*time.Second),
		AutoMigrate:         getEnvBool("STORAGE_AUTO_MIGRATE", true),

		RedisURL:        getEnv("STORAGE_REDIS_URL", ""),
		RedisPassword:   getEnv("STORAGE_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("STORAGE_REDIS_DB", 0),
		RedisPoolSize:   getEnvInt("STORAGE_REDIS_POOL_SIZE", 10),
		RedisMaxRetries: getEnvInt("STORAGE_REDIS_MAX_RETRIES", 3),
		RedisKeyPrefix:  getEnv("STORAGE_REDIS_KEY_PREFIX", "sso"),

		ClaimsCacheSize: getEnvInt("STORAGE_CLAIMS_CACHE_SIZE", 1024),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("SSO_LOG_LEVEL", getEnv("OBS_LOG_LEVEL", "info")))),
		LoggingEnabled:     getEnvBool("SSO_LOGGING_ENABLED", true),
		SensitiveKeys:      getEnvList("SSO_SENSITIVE_KEYS", observability.DefaultSensitiveKeys),
		MetricsEnabled:     getEnvBool("OBS_METRICS_ENABLED", true),
		MetricsAddr:        getEnv("OBS_METRICS_ADDR", ":9090"),
		OTelEnabled:        getEnvBool("OBS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OBS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OBS_OTEL_SERVICE_NAME", "ssobridge"),
		OTelServiceVersion: getEnv("OBS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OBS_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.SSO.Validate(); err != nil {
		return err
	}

	if c.SSO.Enabled && c.Storage.PostgresURL == "" {
		return ssoerr.MissingConfig("storage_postgres_url")
	}

	if c.Observability.MetricsEnabled && c.Observability.MetricsAddr == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Logger builds the application logger from the observability settings.
func (c *Config) Logger() *observability.Logger {
	return observability.NewLoggerWithOptions(c.Observability.LogLevel, os.Stdout, observability.LoggerOptions{
		SensitiveKeys: c.Observability.SensitiveKeys,
		Disabled:      !c.Observability.LoggingEnabled,
	})
}

// OTel returns the tracing settings.
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
	}
}

// Postgres returns the connection manager settings.
func (c *Config) Postgres() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  c.Storage.PostgresURL,
		ReplicaURLs: c.Storage.PostgresReplicaURLs,
		MaxConns:    c.Storage.PostgresMaxConns,
		MinConns:    c.Storage.PostgresMinConns,
		Timeout:     c.Storage.PostgresTimeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// Redis returns the redis client settings.
func (c *Config) Redis() redisstore.Config {
	return redisstore.Config{
		URL:        c.Storage.RedisURL,
		Password:   c.Storage.RedisPassword,
		DB:         c.Storage.RedisDB,
		MaxRetries: c.Storage.RedisMaxRetries,
		PoolSize:   c.Storage.RedisPoolSize,
		KeyPrefix:  c.Storage.RedisKeyPrefix,
	}
}

// ParseRoleMapping parses the inline form "idp=local1|local2,idp2=local3".
// Role names are case-sensitive and are not lowercased.
func ParseRoleMapping(raw string) (sso.RoleMapping, error) {
	mapping := sso.RoleMapping{}
	if strings.TrimSpace(raw) == "" {
		return mapping, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idpRole, locals, ok := strings.Cut(pair, "=")
		idpRole = strings.TrimSpace(idpRole)
		if !ok || idpRole == "" {
			return nil, fmt.Errorf("invalid entry %q: expected idp=local", pair)
		}
		var roles []string
		for _, local := range strings.Split(locals, "|") {
			if local = strings.TrimSpace(local); local != "" {
				roles = append(roles, local)
			}
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid entry %q: no local roles", pair)
		}
		mapping[idpRole] = append(mapping[idpRole], roles...)
	}
	return mapping, nil
}

// roleMappingFile is the on-disk layout of SSO_ROLE_MAPPING_FILE.
type roleMappingFile struct {
	RoleMapping sso.RoleMapping `yaml:"role_mapping"`
}

// LoadRoleMappingFile reads a YAML role mapping. Each entry may be a single
// role name or a list:
//
//	role_mapping:
//	  crm-admin: Admin
//	  crm-manager: [Manager, Sales Agent]
func LoadRoleMappingFile(path string) (sso.RoleMapping, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, ssoerr.InvalidConfig("role_mapping_file", "cannot be read")
	}

	var file roleMappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, ssoerr.InvalidConfig("role_mapping_file", err.Error())
	}
	if file.RoleMapping == nil {
		return sso.RoleMapping{}, nil
	}
	return file.RoleMapping, nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
// A bare integer is read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return getEnvDurationUnit(key, time.Second, defaultValue)
}

// getEnvMillis is getEnvDuration with bare integers read as milliseconds.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	return getEnvDurationUnit(key, time.Millisecond, defaultValue)
}

func getEnvDurationUnit(key string, unit, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(n) * unit
	}
	return defaultValue
}

// getEnvList returns a comma-separated list or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
