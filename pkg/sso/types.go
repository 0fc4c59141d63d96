package sso

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no row matches.
var ErrNotFound = errors.New("not found")

// AuthProvider identifies how a user authenticates
type AuthProvider string

const (
	ProviderLocal AuthProvider = "local"
	ProviderSSO   AuthProvider = "sso"
)

// Role is a locally defined role
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SSOIdentity is the SSO-specific portion of a user record.
type SSOIdentity struct {
	AuthProvider          AuthProvider `json:"auth_provider"`
	ExternalID            string       `json:"external_id,omitempty"`
	EncryptedRefreshToken string       `json:"-"`
	TokenExpiresAt        *time.Time   `json:"token_expires_at,omitempty"`
}

// IsSSO reports whether the identity is linked to the SSO provider.
func (i SSOIdentity) IsSSO() bool {
	return i.AuthProvider == ProviderSSO
}

// IsLocal reports whether the user authenticates locally. An empty provider is local.
func (i SSOIdentity) IsLocal() bool {
	return i.AuthProvider == "" || i.AuthProvider == ProviderLocal
}

// SetRefreshToken encrypts and stores the refresh token. An empty token clears it.
func (i *SSOIdentity) SetRefreshToken(cipher *TokenCipher, token string) error {
	if token == "" {
		i.EncryptedRefreshToken = ""
		return nil
	}
	encrypted, err := cipher.Encrypt(token)
	if err != nil {
		return err
	}
	i.EncryptedRefreshToken = encrypted
	return nil
}

// RefreshToken decrypts the stored refresh token. It returns "" when none is stored.
func (i SSOIdentity) RefreshToken(cipher *TokenCipher) (string, error) {
	if i.EncryptedRefreshToken == "" {
		return "", nil
	}
	return cipher.Decrypt(i.EncryptedRefreshToken)
}

// UpdateTokenExpiry records the absolute access token expiry.
func (i *SSOIdentity) UpdateTokenExpiry(expiresAt time.Time) {
	t := expiresAt
	i.TokenExpiresAt = &t
}

// HasTokenExpired reports whether the stored token expired before now.
// Non-SSO users and users without a recorded expiry never expire.
func (i SSOIdentity) HasTokenExpired(now time.Time) bool {
	if !i.IsSSO() || i.TokenExpiresAt == nil {
		return false
	}
	return !now.Before(*i.TokenExpiresAt)
}

// IsTokenExpiringSoon reports whether the stored token expires within grace of now.
func (i SSOIdentity) IsTokenExpiringSoon(now time.Time, grace time.Duration) bool {
	if !i.IsSSO() || i.TokenExpiresAt == nil {
		return false
	}
	return !now.Add(grace).Before(*i.TokenExpiresAt)
}

// Clear removes stored token material. The external link is kept.
func (i *SSOIdentity) Clear() {
	i.EncryptedRefreshToken = ""
	i.TokenExpiresAt = nil
}

// User is a local user record
type User struct {
	ID           int64   `json:"id"`
	Email        string  `json:"email"`
	DisplayName  string  `json:"display_name"`
	PasswordHash string  `json:"-"`
	RoleID       *int64  `json:"role_id,omitempty"`
	RoleIDs      []int64 `json:"role_ids,omitempty"`
	SSOIdentity

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TokenSet is the result of a successful token grant.
type TokenSet struct {
	AccessToken      string    `json:"-"`
	RefreshToken     string    `json:"-"`
	IDToken          string    `json:"-"`
	TokenType        string    `json:"token_type"`
	Scope            string    `json:"scope,omitempty"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresIn int64     `json:"refresh_expires_in,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

// NewTokenSet builds a TokenSet whose absolute expiries are derived from receivedAt.
func NewTokenSet(accessToken, refreshToken, idToken, tokenType, scope string, expiresIn, refreshExpiresIn int64, receivedAt time.Time) *TokenSet {
	ts := &TokenSet{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		IDToken:          idToken,
		TokenType:        tokenType,
		Scope:            scope,
		ExpiresIn:        expiresIn,
		RefreshExpiresIn: refreshExpiresIn,
		ReceivedAt:       receivedAt,
		ExpiresAt:        receivedAt.Add(time.Duration(expiresIn) * time.Second),
	}
	if refreshExpiresIn > 0 {
		ts.RefreshExpiresAt = receivedAt.Add(time.Duration(refreshExpiresIn) * time.Second)
	}
	return ts
}

// IsExpired reports whether the access token has expired at now.
func (t *TokenSet) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within grace of now.
func (t *TokenSet) ExpiresWithin(now time.Time, grace time.Duration) bool {
	return !now.Add(grace).Before(t.ExpiresAt)
}

// Introspection is an RFC 7662 introspection response
type Introspection struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub,omitempty"`
	Expiry    int64  `json:"exp,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}
