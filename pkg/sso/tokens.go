package sso

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/retry"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

// Transport talks to the identity provider. Errors are *ssoerr.Error values.
type Transport interface {
	AuthorizationURL(state string, scopes []string) string
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
	UserInfo(ctx context.Context, accessToken string) (Claims, error)
	Introspect(ctx context.Context, token string) (*Introspection, error)
	// Revoke ends the IdP session. A non-success status is (false, nil).
	Revoke(ctx context.Context, refreshToken string) (bool, error)
	LogoutURL(postLogoutRedirectURI string) string
}

// IDTokenVerifier validates a raw ID token and returns its claims.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawIDToken string) (Claims, error)
}

// LoginPhase is the step a login attempt has reached
type LoginPhase string

const (
	PhaseInit             LoginPhase = "init"
	PhaseAwaitingCallback LoginPhase = "awaiting_callback"
	PhaseExchanging       LoginPhase = "exchanging"
	PhaseFetchingUserInfo LoginPhase = "fetching_userinfo"
	PhaseCompleted        LoginPhase = "completed"
	PhaseFailed           LoginPhase = "failed"
)

// LoginError is a failed login together with the phase it failed in.
type LoginError struct {
	Phase LoginPhase
	Err   *ssoerr.Error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed during %s: %s", e.Phase, e.Err.Error())
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// PhaseOf returns the phase recorded in err, or PhaseFailed.
func PhaseOf(err error) LoginPhase {
	var le *LoginError
	if errors.As(err, &le) {
		return le.Phase
	}
	return PhaseFailed
}

// LoginOutcome is the result of a completed authorization code flow.
type LoginOutcome struct {
	Tokens *TokenSet
	Claims Claims
}

// TokenManager drives the authorization code flow and the token lifecycle.
type TokenManager struct {
	config    Config
	transport Transport
	states    StateStore
	cache     ClaimsCache
	verifier  IDTokenVerifier
	grants    *retry.Executor
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// ManagerOption customizes a TokenManager.
type ManagerOption func(*TokenManager)

// WithClaimsCache enables userinfo caching.
func WithClaimsCache(cache ClaimsCache) ManagerOption {
	return func(m *TokenManager) { m.cache = cache }
}

// WithIDTokenVerifier sets the verifier used when ID token verification is enabled.
func WithIDTokenVerifier(v IDTokenVerifier) ManagerOption {
	return func(m *TokenManager) { m.verifier = v }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *observability.Logger) ManagerOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerMetrics sets the metrics sink.
func WithManagerMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *TokenManager) { m.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewTokenManager creates a token manager. Token grants are retried according
// to the error handling configuration.
func NewTokenManager(cfg Config, transport Transport, states StateStore, opts ...ManagerOption) *TokenManager {
	m := &TokenManager{
		config:    cfg,
		transport: transport,
		states:    states,
		logger:    observability.NopLogger(),
		tracer:    observability.Tracer(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.grants = retry.New(cfg.GrantRetryConfig(),
		retry.WithRetryable(ssoerr.IsRetryable),
		retry.WithLogger(m.logger),
		retry.WithMetrics(m.metrics),
	)
	return m
}

// BuildAuthorizationURL generates and stores a fresh state for sessionID and
// returns the IdP authorization URL.
func (m *TokenManager) BuildAuthorizationURL(ctx context.Context, sessionID string, scopes ...string) (string, string, error) {
	if len(scopes) == 0 {
		scopes = m.config.Scopes
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	state, err := GenerateState()
	if err != nil {
		return "", "", ssoerr.Authentication("failed to generate state", err)
	}
	if err := m.states.Save(ctx, sessionID, state, m.config.StateTTL); err != nil {
		return "", "", ssoerr.Authentication("failed to store state", err)
	}

	m.logger.WithField("phase", string(PhaseAwaitingCallback)).Debug("Built authorization URL")
	return m.transport.AuthorizationURL(state, scopes), state, nil
}

// CompleteLogin validates the callback for sessionID and exchanges the
// authorization code. The stored state is consumed on every call.
func (m *TokenManager) CompleteLogin(ctx context.Context, sessionID, receivedState string, params url.Values) (*LoginOutcome, error) {
	ctx, span := m.tracer.Start(ctx, "sso.CompleteLogin")
	defer span.End()

	phase := PhaseAwaitingCallback
	fail := func(err error) (*LoginOutcome, error) {
		classified := ssoerr.Classify(err)
		span.SetAttributes(attribute.String("sso.phase", string(phase)), attribute.String("sso.error_kind", string(classified.Kind)))
		span.RecordError(classified)
		span.SetStatus(codes.Error, string(classified.Kind))
		m.logger.WithFields(map[string]interface{}{
			"phase":  string(phase),
			"kind":   string(classified.Kind),
			"reason": string(classified.Reason),
		}).Log(ssoerr.Severity(classified), "SSO login failed")
		return nil, &LoginError{Phase: phase, Err: classified}
	}

	stored, err := m.states.Consume(ctx, sessionID)
	if err != nil {
		return fail(ssoerr.Authentication("failed to load state", err))
	}
	if stored == "" || receivedState == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(receivedState)) != 1 {
		return fail(ssoerr.InvalidState())
	}

	if oauthErr := params.Get("error"); oauthErr != "" {
		return fail(ssoerr.Rejected(0, oauthErr, params.Get("error_description")))
	}
	code := params.Get("code")
	if code == "" {
		return fail(ssoerr.MissingCode())
	}

	phase = PhaseExchanging
	tokens, err := retry.Run(ctx, m.grants, "exchange_code", func(ctx context.Context) (*TokenSet, error) {
		return m.transport.ExchangeCode(ctx, code)
	})
	if err != nil {
		return fail(err)
	}

	var idClaims *Claims
	if m.config.VerifyIDToken && m.verifier != nil {
		if tokens.IDToken == "" {
			return fail(ssoerr.Token("ID token missing from token response", nil))
		}
		verified, err := m.verifier.VerifyIDToken(ctx, tokens.IDToken)
		if err != nil {
			return fail(ssoerr.Token("ID token verification failed", err))
		}
		idClaims = &verified
	}

	phase = PhaseFetchingUserInfo
	claims, err := m.userInfo(ctx, tokens)
	if err != nil {
		return fail(err)
	}
	if idClaims != nil && idClaims.Subject != claims.Subject {
		return fail(ssoerr.Authentication("userinfo subject does not match ID token", nil))
	}

	span.SetAttributes(attribute.String("sso.phase", string(PhaseCompleted)))
	m.logger.WithField("phase", string(PhaseCompleted)).Debug("SSO login completed")
	return &LoginOutcome{Tokens: tokens, Claims: claims}, nil
}

func (m *TokenManager) userInfo(ctx context.Context, tokens *TokenSet) (Claims, error) {
	useCache := m.config.CacheTokens && m.cache != nil
	if useCache {
		if claims, ok := m.cache.Get(ctx, tokens.AccessToken); ok {
			m.metrics.RecordCacheLookup(true)
			return claims, nil
		}
		m.metrics.RecordCacheLookup(false)
	}

	claims, err := m.transport.UserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return Claims{}, err
	}

	if useCache {
		expiresAt := tokens.ExpiresAt
		if m.config.CacheTTL > 0 {
			if capped := m.now().Add(m.config.CacheTTL); capped.Before(expiresAt) {
				expiresAt = capped
			}
		}
		m.cache.Set(ctx, tokens.AccessToken, claims, expiresAt)
	}
	return claims, nil
}

// UserInfo returns the claims for an access token, consulting the cache.
func (m *TokenManager) UserInfo(ctx context.Context, tokens *TokenSet) (Claims, error) {
	claims, err := m.userInfo(ctx, tokens)
	if err != nil {
		return Claims{}, ssoerr.Classify(err)
	}
	return claims, nil
}

// RefreshTokens obtains a new token set. A refresh token the IdP no longer
// accepts yields a token-expired error; every other failure is a refresh failure.
func (m *TokenManager) RefreshTokens(ctx context.Context, refreshToken string) (*TokenSet, error) {
	ctx, span := m.tracer.Start(ctx, "sso.RefreshTokens")
	defer span.End()

	if refreshToken == "" {
		m.metrics.RecordTokenRefresh("failure")
		return nil, ssoerr.RefreshFailed(errors.New("no refresh token"))
	}

	tokens, err := retry.Run(ctx, m.grants, "refresh_token", func(ctx context.Context) (*TokenSet, error) {
		return m.transport.Refresh(ctx, refreshToken)
	})
	if err != nil {
		classified := ssoerr.Classify(err)
		span.RecordError(classified)
		span.SetStatus(codes.Error, string(classified.Kind))
		m.logger.WithFields(map[string]interface{}{
			"kind":   string(classified.Kind),
			"reason": string(classified.Reason),
		}).Warn("Token refresh failed")

		if classified.OAuthError == "invalid_grant" {
			m.metrics.RecordTokenRefresh("expired")
			return nil, ssoerr.TokenExpired("refresh token expired or revoked", classified)
		}
		m.metrics.RecordTokenRefresh("failure")
		return nil, ssoerr.RefreshFailed(classified)
	}

	m.metrics.RecordTokenRefresh("success")
	return tokens, nil
}

// Validate reports whether the IdP considers accessToken active. Any failure
// counts as invalid unless AllowAccessOnValidationError is set and the IdP
// could not be reached.
func (m *TokenManager) Validate(ctx context.Context, accessToken string) bool {
	ctx, span := m.tracer.Start(ctx, "sso.Validate")
	defer span.End()

	if accessToken == "" {
		m.metrics.RecordValidation("inactive")
		return false
	}

	result, err := m.transport.Introspect(ctx, accessToken)
	if err != nil {
		classified := ssoerr.Classify(err)
		span.RecordError(classified)
		if m.config.AllowAccessOnValidationError && classified.Kind == ssoerr.KindConnection {
			m.logger.WithError(classified).Warn("Token validation unavailable, allowing access")
			m.metrics.RecordValidation("allowed_on_error")
			return true
		}
		m.logger.WithError(classified).Warn("Token validation failed")
		m.metrics.RecordValidation("error")
		return false
	}

	if !result.Active {
		m.metrics.RecordValidation("inactive")
		return false
	}
	m.metrics.RecordValidation("active")
	return true
}

// RevokeSession ends the IdP session for refreshToken. It never fails; the
// return value reports whether the IdP confirmed the revocation.
func (m *TokenManager) RevokeSession(ctx context.Context, refreshToken string) bool {
	ctx, span := m.tracer.Start(ctx, "sso.RevokeSession")
	defer span.End()

	if refreshToken == "" {
		return false
	}
	ok, err := m.transport.Revoke(ctx, refreshToken)
	if err != nil {
		m.logger.WithError(err).Warn("IdP session revocation failed")
		return false
	}
	if !ok {
		m.logger.Warn("IdP did not confirm session revocation")
	}
	return ok
}

// BuildLogoutRedirectURL returns the IdP logout URL.
func (m *TokenManager) BuildLogoutRedirectURL(postLogoutRedirectURI string) string {
	return m.transport.LogoutURL(postLogoutRedirectURI)
}
