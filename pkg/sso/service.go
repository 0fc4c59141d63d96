package sso

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

// CallbackRequest carries the redirect parameters of an authorization callback.
type CallbackRequest struct {
	SessionID  string
	State      string
	Params     url.Values
	RemoteAddr string
}

// LoginResult is a successful SSO login.
type LoginResult struct {
	AttemptID string
	User      *User
	Tokens    *TokenSet
	Claims    Claims
}

// LogoutResult describes what the caller should do after logout.
type LogoutResult struct {
	// RedirectURL is the IdP logout URL, empty for local users.
	RedirectURL string
	IdPRevoked  bool
}

// FailureResponse is what an HTTP layer shows after a failed SSO attempt.
type FailureResponse struct {
	Message        string `json:"message"`
	Notice         string `json:"notice,omitempty"`
	AllowLocalAuth bool   `json:"allow_local_auth"`
	Code           int    `json:"code"`
}

// Service sequences the token manager, reconciler and hooks for an HTTP layer.
type Service struct {
	config  Config
	tokens  *TokenManager
	users   *UserReconciler
	tx      Transactor
	cipher  *TokenCipher
	hooks   *Hooks
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// ServiceDeps are the collaborators of a Service.
type ServiceDeps struct {
	Tokens     *TokenManager
	Reconciler *UserReconciler
	Transactor Transactor
	Cipher     *TokenCipher
	Hooks      *Hooks
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Now        func() time.Time
}

// NewService creates the SSO service.
func NewService(cfg Config, deps ServiceDeps) *Service {
	s := &Service{
		config:  cfg,
		tokens:  deps.Tokens,
		users:   deps.Reconciler,
		tx:      deps.Transactor,
		cipher:  deps.Cipher,
		hooks:   deps.Hooks,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		now:     deps.Now,
	}
	if s.logger == nil {
		s.logger = observability.NopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Enabled reports whether SSO is turned on.
func (s *Service) Enabled() bool {
	return s.config.Enabled
}

// BeginLogin returns the IdP authorization URL for a session.
func (s *Service) BeginLogin(ctx context.Context, sessionID string) (string, error) {
	if !s.config.Enabled {
		return "", ssoerr.Disabled()
	}
	authURL, _, err := s.tokens.BuildAuthorizationURL(ctx, sessionID)
	return authURL, err
}

// HandleCallback completes a login: it validates the callback, reconciles the
// local user and stores the encrypted refresh token.
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (*LoginResult, error) {
	attemptID := NewAttemptID()
	logger := s.logger.WithFields(map[string]interface{}{
		"attempt_id":  attemptID,
		"remote_addr": req.RemoteAddr,
	})

	if !s.config.Enabled {
		return nil, s.loginFailed(ctx, logger, attemptID, req, PhaseInit, ssoerr.Disabled())
	}

	outcome, err := s.tokens.CompleteLogin(ctx, req.SessionID, req.State, req.Params)
	if err != nil {
		return nil, s.loginFailed(ctx, logger, attemptID, req, PhaseOf(err), err)
	}

	user, err := s.users.FindOrCreateUser(ctx, outcome.Claims)
	if err != nil {
		return nil, s.loginFailed(ctx, logger, attemptID, req, PhaseCompleted, err)
	}

	if err := user.SetRefreshToken(s.cipher, outcome.Tokens.RefreshToken); err != nil {
		return nil, s.loginFailed(ctx, logger, attemptID, req, PhaseCompleted, ssoerr.UpdateFailed(user.Email, err))
	}
	user.UpdateTokenExpiry(outcome.Tokens.ExpiresAt)
	if err := s.save(ctx, user); err != nil {
		return nil, s.loginFailed(ctx, logger, attemptID, req, PhaseCompleted, ssoerr.UpdateFailed(user.Email, err))
	}

	logger.WithField("user_id", user.ID).Info("SSO login succeeded")
	s.hooks.LoginSucceeded(ctx, LoginEvent{
		AttemptID:  attemptID,
		User:       user,
		Tokens:     outcome.Tokens,
		RemoteAddr: req.RemoteAddr,
		At:         s.now(),
	})

	return &LoginResult{
		AttemptID: attemptID,
		User:      user,
		Tokens:    outcome.Tokens,
		Claims:    outcome.Claims,
	}, nil
}

// callbackSecretParams are one-time callback values kept out of failure logs.
var callbackSecretParams = map[string]struct{}{
	"code":          {},
	"state":         {},
	"session_state": {},
}

func (s *Service) loginFailed(ctx context.Context, logger *observability.Logger, attemptID string, req CallbackRequest, phase LoginPhase, err error) error {
	classified := ssoerr.Classify(err)

	params := make(map[string]interface{}, len(req.Params))
	for k, v := range req.Params {
		if _, skip := callbackSecretParams[k]; skip {
			continue
		}
		params[k] = v
	}
	logger.WithFields(map[string]interface{}{
		"phase":  string(phase),
		"kind":   string(classified.Kind),
		"reason": string(classified.Reason),
		"code":   classified.Code,
		"params": logger.Redactor().Map(params),
	}).WithError(classified).Log(ssoerr.Severity(classified), "SSO login failed")

	s.hooks.LoginFailed(ctx, LoginFailureEvent{
		AttemptID:  attemptID,
		Phase:      phase,
		Err:        classified,
		RemoteAddr: req.RemoteAddr,
		At:         s.now(),
	})
	return classified
}

// Logout revokes the IdP session of an SSO user and clears stored tokens.
// Local users are logged out without contacting the IdP.
func (s *Service) Logout(ctx context.Context, user *User, postLogoutRedirectURI string) (*LogoutResult, error) {
	result := &LogoutResult{}
	if user == nil {
		return result, nil
	}

	if user.IsSSO() && s.config.Enabled {
		refreshToken, err := user.RefreshToken(s.cipher)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", user.ID).Warn("Stored refresh token unreadable, skipping IdP revocation")
		} else {
			result.IdPRevoked = s.tokens.RevokeSession(ctx, refreshToken)
		}

		user.Clear()
		if err := s.save(ctx, user); err != nil {
			s.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to clear SSO tokens on logout")
		}
		result.RedirectURL = s.tokens.BuildLogoutRedirectURL(postLogoutRedirectURI)
	}

	s.hooks.LogoutSucceeded(ctx, LogoutEvent{User: user, IdPRevoked: result.IdPRevoked, At: s.now()})
	return result, nil
}

// EnsureFreshTokens refreshes the stored tokens of an SSO user whose access
// token is within the grace period. It returns nil tokens when no refresh was
// needed. When refresh fails the stored tokens are cleared.
func (s *Service) EnsureFreshTokens(ctx context.Context, user *User) (*TokenSet, error) {
	if !s.config.Enabled || user == nil || !user.IsSSO() {
		return nil, nil
	}
	if !user.IsTokenExpiringSoon(s.now(), s.config.TokenRefreshGracePeriod) {
		return nil, nil
	}

	refreshToken, err := user.RefreshToken(s.cipher)
	if err == nil && refreshToken == "" {
		err = errors.New("no refresh token stored")
	}
	var tokens *TokenSet
	if err == nil {
		tokens, err = s.tokens.RefreshTokens(ctx, refreshToken)
	}
	if err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("Token refresh failed, clearing SSO session")
		user.Clear()
		if saveErr := s.save(ctx, user); saveErr != nil {
			s.logger.WithError(saveErr).WithField("user_id", user.ID).Error("Failed to clear SSO tokens")
		}
		return nil, ssoerr.TokenExpired("SSO session expired", err)
	}

	if err := user.SetRefreshToken(s.cipher, tokens.RefreshToken); err != nil {
		return nil, ssoerr.UpdateFailed(user.Email, err)
	}
	user.UpdateTokenExpiry(tokens.ExpiresAt)
	if err := s.save(ctx, user); err != nil {
		return nil, ssoerr.UpdateFailed(user.Email, err)
	}
	return tokens, nil
}

// Validate reports whether accessToken is still active.
func (s *Service) Validate(ctx context.Context, accessToken string) bool {
	if !s.config.Enabled {
		return false
	}
	return s.tokens.Validate(ctx, accessToken)
}

// Failure maps an error to the response shown to the user.
func (s *Service) Failure(err error) FailureResponse {
	if err == nil {
		return FailureResponse{}
	}
	classified := ssoerr.Classify(err)
	resp := FailureResponse{
		Message:        ssoerr.UserMessage(classified, s.config.ErrorHandling.ShowDetails || s.config.Debug),
		AllowLocalAuth: s.config.FallbackOnError && s.config.AllowLocalAuth,
		Code:           classified.Code,
	}
	if resp.AllowLocalAuth {
		resp.Notice = ssoerr.FallbackNotice(classified)
	}
	return resp
}

func (s *Service) save(ctx context.Context, user *User) error {
	return s.tx.InTx(ctx, func(store Store) error {
		return store.Save(ctx, user)
	})
}
