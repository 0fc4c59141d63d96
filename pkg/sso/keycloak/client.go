package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/retry"
	"github.com/platinummonkey/ssobridge/pkg/sso"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

const maxResponseBytes = 1 << 20

// Client is the HTTP transport to a Keycloak realm.
type Client struct {
	config    sso.Config
	endpoints Endpoints
	oauth     *oauth2.Config
	http      *http.Client
	retry     *retry.Executor
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	keySet       oidc.KeySet
	verifierOnce sync.Once
	verifier     *oidc.IDTokenVerifier
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

// WithClock overrides the time source used to compute token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithKeySet overrides the remote JWKS used to verify ID tokens.
func WithKeySet(keySet oidc.KeySet) Option {
	return func(c *Client) { c.keySet = keySet }
}

// NewHTTPClient returns a traced client with separate connect and request timeouts.
func NewHTTPClient(timeout sso.TimeoutConfig) *http.Client {
	dialer := &net.Dialer{Timeout: timeout.Connect}
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: timeout.Connect,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout.Request,
		Transport: otelhttp.NewTransport(base),
	}
}

// New creates a client for the realm described by cfg.
func New(cfg sso.Config, opts ...Option) *Client {
	endpoints := NewEndpoints(cfg.BaseURL, cfg.Realm)
	c := &Client{
		config:    cfg,
		endpoints: endpoints,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoints.Auth,
				TokenURL:  endpoints.Token,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient(cfg.Timeout)
	}
	c.retry = retry.New(cfg.TransportRetryConfig(),
		retry.WithRetryable(ssoerr.IsRetryable),
		retry.WithLogger(c.logger),
		retry.WithMetrics(c.metrics),
	)
	return c
}

// Endpoints returns the realm endpoints.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// AuthorizationURL builds the authorization code request URL.
func (c *Client) AuthorizationURL(state string, scopes []string) string {
	cfg := *c.oauth
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	} else if len(cfg.Scopes) == 0 {
		cfg.Scopes = sso.DefaultScopes
	}
	return cfg.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*sso.TokenSet, error) {
	start := time.Now()
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	receivedAt := c.now()
	if err != nil {
		mapped := c.mapGrantError(err)
		c.observe("token", start, mapped)
		return nil, mapped
	}
	c.observe("token", start, nil)
	return toTokenSet(tok, receivedAt), nil
}

// Refresh obtains new tokens with a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*sso.TokenSet, error) {
	start := time.Now()
	tok, err := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	receivedAt := c.now()
	if err != nil {
		mapped := c.mapGrantError(err)
		c.observe("token", start, mapped)
		return nil, mapped
	}
	c.observe("token", start, nil)
	return toTokenSet(tok, receivedAt), nil
}

// UserInfo fetches the claims for an access token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (sso.Claims, error) {
	return retry.Run(ctx, c.retry, "userinfo", func(ctx context.Context) (sso.Claims, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.UserInfo, nil)
		if err != nil {
			return sso.Claims{}, ssoerr.Configuration("invalid userinfo endpoint")
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		status, body, err := c.send("userinfo", req)
		if err != nil {
			return sso.Claims{}, err
		}
		if status != http.StatusOK {
			return sso.Claims{}, oauthError(status, body)
		}

		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return sso.Claims{}, ssoerr.Authentication("invalid userinfo response", err)
		}
		return sso.NewClaims(raw), nil
	})
}

// Introspect asks the IdP whether token is active.
func (c *Client) Introspect(ctx context.Context, token string) (*sso.Introspection, error) {
	return retry.Run(ctx, c.retry, "introspect", func(ctx context.Context) (*sso.Introspection, error) {
		status, body, err := c.postForm(ctx, "introspect", c.endpoints.Introspect, url.Values{
			"token":         {token},
			"client_id":     {c.config.ClientID},
			"client_secret": {c.config.ClientSecret},
		})
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, oauthError(status, body)
		}

		var result sso.Introspection
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, ssoerr.Token("invalid introspection response", err)
		}
		return &result, nil
	})
}

// Revoke ends the IdP session bound to refreshToken.
func (c *Client) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	return retry.Run(ctx, c.retry, "revoke", func(ctx context.Context) (bool, error) {
		status, _, err := c.postForm(ctx, "logout", c.endpoints.Logout, url.Values{
			"client_id":     {c.config.ClientID},
			"client_secret": {c.config.ClientSecret},
			"refresh_token": {refreshToken},
		})
		if err != nil {
			return false, err
		}
		return status == http.StatusOK || status == http.StatusNoContent, nil
	})
}

// LogoutURL builds the browser logout URL.
func (c *Client) LogoutURL(postLogoutRedirectURI string) string {
	params := url.Values{"client_id": {c.config.ClientID}}
	if postLogoutRedirectURI != "" {
		params.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	return c.endpoints.Logout + "?" + params.Encode()
}

// VerifyIDToken checks the signature, issuer, audience and expiry of an ID token.
func (c *Client) VerifyIDToken(ctx context.Context, rawIDToken string) (sso.Claims, error) {
	c.verifierOnce.Do(func() {
		keySet := c.keySet
		if keySet == nil {
			keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), c.http), c.endpoints.Certs)
		}
		c.verifier = oidc.NewVerifier(c.endpoints.Issuer, keySet, &oidc.Config{
			ClientID: c.config.ClientID,
			Now:      c.now,
		})
	})

	idToken, err := c.verifier.Verify(oidc.ClientContext(ctx, c.http), rawIDToken)
	if err != nil {
		return sso.Claims{}, ssoerr.Token("ID token rejected", err)
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return sso.Claims{}, ssoerr.Token("invalid ID token claims", err)
	}
	return sso.NewClaims(raw), nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func (c *Client) postForm(ctx context.Context, endpoint, target string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, ssoerr.Configuration("invalid " + endpoint + " endpoint")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.send(endpoint, req)
}

// send performs req and reads a bounded body. Transport failures are classified.
func (c *Client) send(endpoint string, req *http.Request) (int, []byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		classified := ssoerr.Classify(err)
		c.observe(endpoint, start, classified)
		return 0, nil, classified
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		classified := ssoerr.Connection("failed to read identity provider response", err)
		c.observe(endpoint, start, classified)
		return 0, nil, classified
	}

	c.metrics.RecordIdPRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	c.logger.WithFields(map[string]interface{}{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
	}).Debug("Identity provider request completed")
	return resp.StatusCode, body, nil
}

func (c *Client) observe(endpoint string, start time.Time, err error) {
	status := "200"
	if err != nil {
		status = "error"
		var e *ssoerr.Error
		if errors.As(err, &e) && e.Kind == ssoerr.KindAuthentication && e.Code > 0 {
			status = strconv.Itoa(e.Code)
		}
	}
	c.metrics.RecordIdPRequest(endpoint, status, time.Since(start))
}

// mapGrantError converts oauth2 failures into domain errors.
func (c *Client) mapGrantError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode == "" {
			return oauthError(status, re.Body)
		}
		return ssoerr.Rejected(status, re.ErrorCode, re.ErrorDescription)
	}
	return ssoerr.Classify(err)
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// oauthError builds an authentication error from a non-success response.
func oauthError(status int, body []byte) *ssoerr.Error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	return ssoerr.Rejected(status, eb.Error, eb.ErrorDescription)
}

func toTokenSet(tok *oauth2.Token, receivedAt time.Time) *sso.TokenSet {
	expiresIn := int64Extra(tok, "expires_in")
	if expiresIn == 0 {
		expiresIn = tok.ExpiresIn
	}
	idToken, _ := tok.Extra("id_token").(string)
	scope, _ := tok.Extra("scope").(string)
	return sso.NewTokenSet(
		tok.AccessToken,
		tok.RefreshToken,
		idToken,
		tok.Type(),
		scope,
		expiresIn,
		int64Extra(tok, "refresh_expires_in"),
		receivedAt,
	)
}

func int64Extra(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

var (
	_ sso.Transport       = (*Client)(nil)
	_ sso.IDTokenVerifier = (*Client)(nil)
)

// String identifies the client in logs without exposing credentials.
func (c *Client) String() string {
	return fmt.Sprintf("keycloak(%s, client=%s)", c.endpoints.Issuer, c.config.ClientID)
}
