package sso

import (
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/ssobridge/pkg/retry"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

// RoleSyncMode controls how mapped roles combine with a user's existing roles.
type RoleSyncMode string

const (
	// RoleSyncReplace replaces the user's role set entirely.
	RoleSyncReplace RoleSyncMode = "replace"
	// RoleSyncMerge keeps roles assigned outside SSO.
	RoleSyncMerge RoleSyncMode = "merge"
)

// DefaultScopes are requested when BuildAuthorizationURL is called without scopes.
var DefaultScopes = []string{"openid", "profile", "email"}

// TimeoutConfig bounds every outbound call to the identity provider.
type TimeoutConfig struct {
	Connect time.Duration `json:"connect" yaml:"connect"`
	Request time.Duration `json:"request" yaml:"request"`
}

// HTTPRetryConfig configures retries of idempotent transport calls.
type HTTPRetryConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Times   int           `json:"times" yaml:"times"`
	Sleep   time.Duration `json:"sleep" yaml:"sleep"`
}

// ErrorHandlingConfig configures retries of token grants and user-facing error detail.
type ErrorHandlingConfig struct {
	ShowDetails        bool          `json:"show_details" yaml:"show_details"`
	LogStackTraces     bool          `json:"log_stack_traces" yaml:"log_stack_traces"`
	MaxRetries         int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay         time.Duration `json:"retry_delay" yaml:"retry_delay"`
	ExponentialBackoff bool          `json:"exponential_backoff" yaml:"exponential_backoff"`
}

// Config holds SSO settings. It is built once at startup and treated as read-only.
type Config struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"-" yaml:"client_secret"`
	BaseURL      string   `json:"base_url" yaml:"base_url"`
	Realm        string   `json:"realm" yaml:"realm"`
	RedirectURI  string   `json:"redirect_uri" yaml:"redirect_uri"`
	Scopes       []string `json:"scopes" yaml:"scopes"`

	AutoProvisionUsers bool `json:"auto_provision_users" yaml:"auto_provision_users"`
	SyncUserData       bool `json:"sync_user_data" yaml:"sync_user_data"`
	EnableRoleMapping  bool `json:"enable_role_mapping" yaml:"enable_role_mapping"`
	AllowLocalAuth     bool `json:"allow_local_auth" yaml:"allow_local_auth"`
	FallbackOnError    bool `json:"fallback_on_error" yaml:"fallback_on_error"`

	// AllowAccessOnValidationError treats an unreachable IdP during token
	// validation as a valid token. Off by default.
	AllowAccessOnValidationError bool `json:"allow_access_on_validation_error" yaml:"allow_access_on_validation_error"`

	RoleMapping  RoleMapping  `json:"role_mapping" yaml:"role_mapping"`
	DefaultRole  string       `json:"default_role" yaml:"default_role"`
	RoleSyncMode RoleSyncMode `json:"role_sync_mode" yaml:"role_sync_mode"`

	CacheTokens             bool          `json:"cache_tokens" yaml:"cache_tokens"`
	CacheTTL                time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	TokenRefreshGracePeriod time.Duration `json:"token_refresh_grace_period" yaml:"token_refresh_grace_period"`
	StateTTL                time.Duration `json:"state_ttl" yaml:"state_ttl"`

	Timeout       TimeoutConfig       `json:"timeout" yaml:"timeout"`
	Retry         HTTPRetryConfig     `json:"retry" yaml:"retry"`
	ErrorHandling ErrorHandlingConfig `json:"error_handling" yaml:"error_handling"`

	VerifyIDToken bool `json:"verify_id_token" yaml:"verify_id_token"`
	Debug         bool `json:"debug" yaml:"debug"`

	// EncryptionKey is the 32-byte key for refresh tokens at rest.
	EncryptionKey []byte `json:"-" yaml:"-"`

	TokenSweepSchedule string `json:"token_sweep_schedule" yaml:"token_sweep_schedule"`
}

// DefaultConfig returns the defaults used when a setting is not provided.
func DefaultConfig() Config {
	return Config{
		Enabled:                 false,
		Realm:                   "master",
		Scopes:                  append([]string(nil), DefaultScopes...),
		AutoProvisionUsers:      true,
		SyncUserData:            true,
		EnableRoleMapping:       true,
		AllowLocalAuth:          true,
		FallbackOnError:         true,
		RoleMapping:             RoleMapping{},
		DefaultRole:             "Sales Agent",
		RoleSyncMode:            RoleSyncReplace,
		CacheTokens:             true,
		CacheTTL:                time.Hour,
		TokenRefreshGracePeriod: 5 * time.Minute,
		StateTTL:                10 * time.Minute,
		Timeout: TimeoutConfig{
			Connect: 10 * time.Second,
			Request: 30 * time.Second,
		},
		Retry: HTTPRetryConfig{
			Enabled: true,
			Times:   3,
			Sleep:   100 * time.Millisecond,
		},
		ErrorHandling: ErrorHandlingConfig{
			ShowDetails:        false,
			LogStackTraces:     true,
			MaxRetries:         3,
			RetryDelay:         time.Second,
			ExponentialBackoff: true,
		},
		TokenSweepSchedule: "@every 15m",
	}
}

// Validate checks required settings. A disabled configuration is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	required := []struct {
		key   string
		value string
	}{
		{"base_url", c.BaseURL},
		{"realm", c.Realm},
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
		{"redirect_uri", c.RedirectURI},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return ssoerr.MissingConfig(r.key)
		}
	}

	if err := validateURL("base_url", c.BaseURL); err != nil {
		return err
	}
	if err := validateURL("redirect_uri", c.RedirectURI); err != nil {
		return err
	}
	if strings.Contains(c.Realm, "/") {
		return ssoerr.InvalidConfig("realm", "must not contain '/'")
	}
	if c.EnableRoleMapping && strings.TrimSpace(c.DefaultRole) == "" {
		return ssoerr.MissingConfig("default_role")
	}
	switch c.RoleSyncMode {
	case "", RoleSyncReplace, RoleSyncMerge:
	default:
		return ssoerr.InvalidConfig("role_sync_mode", "must be replace or merge")
	}
	if len(c.EncryptionKey) != EncryptionKeySize {
		return ssoerr.InvalidConfig("encryption_key", "must decode to 32 bytes")
	}
	if c.Timeout.Connect < 0 || c.Timeout.Request < 0 {
		return ssoerr.InvalidConfig("timeout", "must not be negative")
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ssoerr.InvalidConfig(key, "must be an absolute http(s) URL")
	}
	return nil
}

// GrantRetryConfig derives the executor settings for token grants.
func (c Config) GrantRetryConfig() retry.Config {
	if !c.Retry.Enabled {
		return retry.Fixed(1, time.Millisecond)
	}
	cfg := retry.Config{
		MaxAttempts:       c.ErrorHandling.MaxRetries,
		InitialDelay:      c.ErrorHandling.RetryDelay,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
	if !c.ErrorHandling.ExponentialBackoff {
		cfg.BackoffMultiplier = 1.0
	}
	return cfg
}

// TransportRetryConfig derives the executor settings for idempotent transport calls.
func (c Config) TransportRetryConfig() retry.Config {
	if !c.Retry.Enabled {
		return retry.Fixed(1, time.Millisecond)
	}
	return retry.Fixed(c.Retry.Times, c.Retry.Sleep)
}

// syncMode returns the effective role sync mode.
func (c Config) syncMode() RoleSyncMode {
	if c.RoleSyncMode == "" {
		return RoleSyncReplace
	}
	return c.RoleSyncMode
}
