package sso

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testTokens() *TokenSet {
	return NewTokenSet("access-1", "refresh-1", "id-1", "Bearer", "openid", 300, 1800, testNow)
}

func newTestManager(cfg Config, transport *fakeTransport, opts ...ManagerOption) (*TokenManager, *MemoryStateStore) {
	states := NewMemoryStateStore()
	opts = append([]ManagerOption{WithClock(fixedClock(testNow))}, opts...)
	return NewTokenManager(cfg, transport, states, opts...), states
}

func callbackParams(code string) url.Values {
	return url.Values{"code": {code}}
}

func TestBuildAuthorizationURL(t *testing.T) {
	transport := &fakeTransport{}
	m, states := newTestManager(testConfig(), transport)
	ctx := context.Background()

	authURL, state, err := m.BuildAuthorizationURL(ctx, "session-1")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(state), 40)
	assert.Contains(t, authURL, "state="+state)
	assert.Equal(t, DefaultScopes, transport.lastScopes)

	stored, err := states.Consume(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, state, stored)

	_, second, err := m.BuildAuthorizationURL(ctx, "session-1", "openid")
	require.NoError(t, err)
	assert.NotEqual(t, state, second)
	assert.Equal(t, []string{"openid"}, transport.lastScopes)
}

func TestCompleteLogin_Success(t *testing.T) {
	transport := &fakeTransport{
		exchange: testTokens(),
		claims:   Claims{Subject: "kc-123", Email: "jane@example.com"},
	}
	m, _ := newTestManager(testConfig(), transport)
	ctx := context.Background()

	_, state, err := m.BuildAuthorizationURL(ctx, "s1")
	require.NoError(t, err)

	outcome, err := m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
	require.NoError(t, err)
	assert.Equal(t, "kc-123", outcome.Claims.Subject)
	assert.Equal(t, "access-1", outcome.Tokens.AccessToken)
	assert.Equal(t, "abc", transport.lastCode)
	assert.Equal(t, testNow.Add(300*time.Second), outcome.Tokens.ExpiresAt)
}

func TestCompleteLogin_StateIsSingleUse(t *testing.T) {
	transport := &fakeTransport{exchange: testTokens(), claims: Claims{Subject: "kc-123"}}
	m, _ := newTestManager(testConfig(), transport)
	ctx := context.Background()

	_, state, err := m.BuildAuthorizationURL(ctx, "s1")
	require.NoError(t, err)

	_, err = m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
	require.NoError(t, err)

	_, err = m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ssoerr.ErrInvalidState))
	assert.Equal(t, 1, transport.exchangeCalls)
}

func TestCompleteLogin_CallbackFailures(t *testing.T) {
	tests := []struct {
		name       string
		state      func(stored string) string
		params     url.Values
		wantReason ssoerr.Reason
		wantPhase  LoginPhase
	}{
		{
			name:       "state mismatch",
			state:      func(string) string { return "forged" },
			params:     callbackParams("abc"),
			wantReason: ssoerr.ReasonInvalidState,
			wantPhase:  PhaseAwaitingCallback,
		},
		{
			name:       "empty state",
			state:      func(string) string { return "" },
			params:     callbackParams("abc"),
			wantReason: ssoerr.ReasonInvalidState,
			wantPhase:  PhaseAwaitingCallback,
		},
		{
			name:       "access denied by idp",
			state:      func(s string) string { return s },
			params:     url.Values{"error": {"access_denied"}, "error_description": {"user cancelled"}},
			wantReason: ssoerr.ReasonAccessDenied,
			wantPhase:  PhaseAwaitingCallback,
		},
		{
			name:       "missing code",
			state:      func(s string) string { return s },
			params:     url.Values{},
			wantReason: ssoerr.ReasonMissingCode,
			wantPhase:  PhaseAwaitingCallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{exchange: testTokens()}
			m, states := newTestManager(testConfig(), transport)
			ctx := context.Background()

			_, stored, err := m.BuildAuthorizationURL(ctx, "s1")
			require.NoError(t, err)

			outcome, err := m.CompleteLogin(ctx, "s1", tt.state(stored), tt.params)
			require.Error(t, err)
			assert.Nil(t, outcome)
			assert.True(t, errors.Is(err, ssoerr.ErrAuthentication))
			assert.Equal(t, tt.wantReason, ssoerr.Classify(err).Reason)
			assert.Equal(t, tt.wantPhase, PhaseOf(err))
			assert.Zero(t, transport.exchangeCalls)

			// consumed regardless of outcome
			left, _ := states.Consume(ctx, "s1")
			assert.Empty(t, left)
		})
	}
}

func TestCompleteLogin_ErrorDescriptionPropagated(t *testing.T) {
	m, _ := newTestManager(testConfig(), &fakeTransport{})
	ctx := context.Background()
	_, state, err := m.BuildAuthorizationURL(ctx, "s1")
	require.NoError(t, err)

	_, err = m.CompleteLogin(ctx, "s1", state, url.Values{"error": {"temporarily_unavailable"}, "error_description": {"try later"}})
	require.Error(t, err)
	e := ssoerr.Classify(err)
	assert.Equal(t, "temporarily_unavailable", e.OAuthError)
	assert.Contains(t, e.Message, "try later")
}

func TestCompleteLogin_RetriesTransientExchangeFailures(t *testing.T) {
	transport := &fakeTransport{
		exchangeErrs: []error{errConnRefused, errConnRefused},
		exchange:     testTokens(),
		claims:       Claims{Subject: "kc-123"},
	}
	m, _ := newTestManager(testConfig(), transport)
	ctx := context.Background()
	_, state, err := m.BuildAuthorizationURL(ctx, "s1")
	require.NoError(t, err)

	_, err = m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, transport.exchangeCalls)
}

func TestCompleteLogin_ExchangeExhausted(t *testing.T) {
	transport := &fakeTransport{
		exchangeErrs: []error{errConnRefused, errConnRefused, errConnRefused, nil},
		exchange:     testTokens(),
	}
	m, _ := newTestManager(testConfig(), transport)
	ctx := context.Background()
	_, state, err := m.BuildAuthorizationURL(ctx, "s1")
	require.NoError(t, err)

	_, err = m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ssoerr.ErrConnection))
	assert.Equal(t, PhaseExchanging, PhaseOf(err))
	assert.Equal(t, 3, transport.exchangeCalls)
}

func TestCompleteLogin_RejectionNotRetried(t *testing.T) {
	transport := &fakeTransport{
		exchangeErrs: []error{ssoerr.Rejected(400, "invalid_grant", "Code not valid")},
	}
	m, _ := newTestManager(testConfig(), transport)
	ctx := context.Background()
	_, state, err := m.BuildAuthorizationURL(ctx, "s1")
	require.NoError(t, err)

	_, err = m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
	require.Error(t, err)
	assert.Equal(t, 400, ssoerr.Classify(err).Code)
	assert.Equal(t, 1, transport.exchangeCalls)
}

func TestCompleteLogin_UserInfoCached(t *testing.T) {
	transport := &fakeTransport{exchange: testTokens(), claims: Claims{Subject: "kc-123"}}
	cache := NewLRUClaimsCache(10, time.Hour)
	cache.now = fixedClock(testNow)
	m, _ := newTestManager(testConfig(), transport, WithClaimsCache(cache))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, state, err := m.BuildAuthorizationURL(ctx, "s1")
		require.NoError(t, err)
		_, err = m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, transport.userInfoCalls)
}

func TestCompleteLogin_IDTokenVerification(t *testing.T) {
	cfg := testConfig()
	cfg.VerifyIDToken = true
	ctx := context.Background()

	t.Run("matching subject", func(t *testing.T) {
		transport := &fakeTransport{exchange: testTokens(), claims: Claims{Subject: "kc-123"}}
		m, _ := newTestManager(cfg, transport, WithIDTokenVerifier(fakeVerifier{claims: Claims{Subject: "kc-123"}}))
		_, state, err := m.BuildAuthorizationURL(ctx, "s1")
		require.NoError(t, err)
		_, err = m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
		assert.NoError(t, err)
	})

	t.Run("subject mismatch", func(t *testing.T) {
		transport := &fakeTransport{exchange: testTokens(), claims: Claims{Subject: "kc-123"}}
		m, _ := newTestManager(cfg, transport, WithIDTokenVerifier(fakeVerifier{claims: Claims{Subject: "other"}}))
		_, state, err := m.BuildAuthorizationURL(ctx, "s1")
		require.NoError(t, err)
		_, err = m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
		assert.True(t, errors.Is(err, ssoerr.ErrAuthentication))
	})

	t.Run("invalid signature", func(t *testing.T) {
		transport := &fakeTransport{exchange: testTokens(), claims: Claims{Subject: "kc-123"}}
		m, _ := newTestManager(cfg, transport, WithIDTokenVerifier(fakeVerifier{err: errors.New("bad signature")}))
		_, state, err := m.BuildAuthorizationURL(ctx, "s1")
		require.NoError(t, err)
		_, err = m.CompleteLogin(ctx, "s1", state, callbackParams("abc"))
		assert.True(t, errors.Is(err, ssoerr.ErrToken))
		assert.Zero(t, transport.userInfoCalls)
	})
}

func TestRefreshTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		refreshed := NewTokenSet("access-2", "refresh-2", "", "Bearer", "", 300, 0, testNow)
		m, _ := newTestManager(testConfig(), &fakeTransport{refresh: refreshed})
		tokens, err := m.RefreshTokens(ctx, "refresh-1")
		require.NoError(t, err)
		assert.Equal(t, "access-2", tokens.AccessToken)
	})

	t.Run("invalid grant means expired", func(t *testing.T) {
		transport := &fakeTransport{refreshErr: ssoerr.Rejected(400, "invalid_grant", "Token is not active")}
		m, _ := newTestManager(testConfig(), transport)
		_, err := m.RefreshTokens(ctx, "refresh-1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ssoerr.ErrTokenExpired))
		assert.True(t, errors.Is(err, ssoerr.ErrToken))
		assert.Equal(t, 1, transport.refreshCalls)
	})

	t.Run("other failures are refresh failures", func(t *testing.T) {
		transport := &fakeTransport{refreshErr: errConnRefused}
		m, _ := newTestManager(testConfig(), transport)
		_, err := m.RefreshTokens(ctx, "refresh-1")
		require.Error(t, err)
		e := ssoerr.Classify(err)
		assert.Equal(t, ssoerr.KindToken, e.Kind)
		assert.Equal(t, ssoerr.ReasonRefreshFailed, e.Reason)
		assert.Equal(t, 3, transport.refreshCalls)
	})

	t.Run("empty refresh token", func(t *testing.T) {
		transport := &fakeTransport{}
		m, _ := newTestManager(testConfig(), transport)
		_, err := m.RefreshTokens(ctx, "")
		assert.True(t, errors.Is(err, ssoerr.ErrToken))
		assert.Zero(t, transport.refreshCalls)
	})
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		introspect  *Introspection
		err         error
		allowOnErr  bool
		accessToken string
		want        bool
	}{
		{"active", &Introspection{Active: true}, nil, false, "tok", true},
		{"inactive", &Introspection{Active: false}, nil, false, "tok", false},
		{"empty token", &Introspection{Active: true}, nil, false, "", false},
		{"connection error denies", nil, errConnRefused, false, "tok", false},
		{"connection error allowed when configured", nil, errConnRefused, true, "tok", true},
		{"rejection denies even when configured", nil, ssoerr.Rejected(401, "invalid_client", ""), true, "tok", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AllowAccessOnValidationError = tt.allowOnErr
			m, _ := newTestManager(cfg, &fakeTransport{introspect: tt.introspect, introspectErr: tt.err})
			assert.Equal(t, tt.want, m.Validate(ctx, tt.accessToken))
		})
	}
}

func TestRevokeSession(t *testing.T) {
	ctx := context.Background()

	m, _ := newTestManager(testConfig(), &fakeTransport{revokeOK: true})
	assert.True(t, m.RevokeSession(ctx, "refresh-1"))

	m, _ = newTestManager(testConfig(), &fakeTransport{revokeOK: false})
	assert.False(t, m.RevokeSession(ctx, "refresh-1"))

	m, _ = newTestManager(testConfig(), &fakeTransport{revokeErr: errConnRefused})
	assert.False(t, m.RevokeSession(ctx, "refresh-1"))

	transport := &fakeTransport{revokeOK: true}
	m, _ = newTestManager(testConfig(), transport)
	assert.False(t, m.RevokeSession(ctx, ""))
	assert.Zero(t, transport.revokeCalls)
}

func TestTokenSet_Expiry(t *testing.T) {
	ts := NewTokenSet("a", "r", "", "Bearer", "", 300, 1800, testNow)

	assert.Equal(t, testNow.Add(5*time.Minute), ts.ExpiresAt)
	assert.Equal(t, testNow.Add(30*time.Minute), ts.RefreshExpiresAt)
	assert.False(t, ts.IsExpired(testNow.Add(299*time.Second)))
	assert.True(t, ts.IsExpired(testNow.Add(300*time.Second)))
	assert.True(t, ts.ExpiresWithin(testNow.Add(4*time.Minute), time.Minute))
	assert.False(t, ts.ExpiresWithin(testNow, time.Minute))
}
