package sso

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSOIdentity_Provider(t *testing.T) {
	assert.True(t, SSOIdentity{}.IsLocal())
	assert.True(t, SSOIdentity{AuthProvider: ProviderLocal}.IsLocal())
	assert.False(t, SSOIdentity{AuthProvider: "saml"}.IsLocal())
	assert.False(t, SSOIdentity{AuthProvider: "saml"}.IsSSO())
	assert.True(t, SSOIdentity{AuthProvider: ProviderSSO}.IsSSO())
}

func TestSSOIdentity_TokenExpiry(t *testing.T) {
	expires := testNow.Add(10 * time.Minute)

	id := SSOIdentity{AuthProvider: ProviderSSO}
	assert.False(t, id.HasTokenExpired(testNow), "no expiry recorded")

	id.UpdateTokenExpiry(expires)
	assert.False(t, id.HasTokenExpired(testNow))
	assert.True(t, id.HasTokenExpired(expires))
	assert.False(t, id.IsTokenExpiringSoon(testNow, 5*time.Minute))
	assert.True(t, id.IsTokenExpiringSoon(testNow, 10*time.Minute))

	local := SSOIdentity{AuthProvider: ProviderLocal}
	local.UpdateTokenExpiry(testNow.Add(-time.Hour))
	assert.False(t, local.HasTokenExpired(testNow))
	assert.False(t, local.IsTokenExpiringSoon(testNow, time.Hour))
}

func TestSSOIdentity_RefreshTokenRoundTrip(t *testing.T) {
	cipher, err := NewTokenCipher(testKey)
	require.NoError(t, err)

	var id SSOIdentity
	require.NoError(t, id.SetRefreshToken(cipher, "refresh-abc"))
	assert.NotContains(t, id.EncryptedRefreshToken, "refresh-abc")

	plain, err := id.RefreshToken(cipher)
	require.NoError(t, err)
	assert.Equal(t, "refresh-abc", plain)

	id.UpdateTokenExpiry(testNow)
	id.Clear()
	assert.Empty(t, id.EncryptedRefreshToken)
	assert.Nil(t, id.TokenExpiresAt)

	plain, err = id.RefreshToken(cipher)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestTokenCipher(t *testing.T) {
	_, err := NewTokenCipher([]byte("short"))
	assert.Error(t, err)

	cipher, err := NewTokenCipher(testKey)
	require.NoError(t, err)

	a, err := cipher.Encrypt("same")
	require.NoError(t, err)
	b, err := cipher.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random nonce per encryption")

	other, err := NewTokenCipher([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	_, err = other.Decrypt(a)
	assert.Error(t, err)

	_, err = cipher.Decrypt("not base64!")
	assert.Error(t, err)
	_, err = cipher.Decrypt("AAAA")
	assert.Error(t, err)
}

func TestGenerateState(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := GenerateState()
		require.NoError(t, err)
		assert.Len(t, s, 43)
		assert.NotContains(t, s, "=")
		assert.False(t, seen[s])
		seen[s] = true
	}
}

func TestMemoryStateStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()
	now := testNow
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, "a", "state-a", time.Minute))
	require.NoError(t, store.Save(ctx, "b", "state-b", time.Minute))

	got, err := store.Consume(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "state-a", got)

	got, err = store.Consume(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got, "single use")

	now = now.Add(2 * time.Minute)
	got, err = store.Consume(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, got, "expired")

	// last write wins for a shared session
	require.NoError(t, store.Save(ctx, "c", "first", time.Minute))
	require.NoError(t, store.Save(ctx, "c", "second", time.Minute))
	got, _ = store.Consume(ctx, "c")
	assert.Equal(t, "second", got)
}

func TestLRUClaimsCache(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUClaimsCache(10, time.Hour)
	now := testNow
	cache.now = func() time.Time { return now }

	cache.Set(ctx, "token-1", Claims{Subject: "a"}, now.Add(time.Minute))
	got, ok := cache.Get(ctx, "token-1")
	require.True(t, ok)
	assert.Equal(t, "a", got.Subject)

	_, ok = cache.Get(ctx, "token-2")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(ctx, "token-1")
	assert.False(t, ok, "entry never outlives the token")

	cache.Set(ctx, "token-3", Claims{Subject: "c"}, now.Add(-time.Second))
	_, ok = cache.Get(ctx, "token-3")
	assert.False(t, ok)
}

func TestCacheKey(t *testing.T) {
	key := CacheKey("secret-access-token")
	assert.Len(t, key, 64)
	assert.NotContains(t, key, "secret")
	assert.Equal(t, key, CacheKey("secret-access-token"))
}

func TestNewClaims(t *testing.T) {
	raw := map[string]any{
		"sub":                "kc-1",
		"email":              "jane@example.com",
		"email_verified":     true,
		"given_name":         "Jane",
		"family_name":        "Doe",
		"preferred_username": "jdoe",
		"realm_access":       map[string]any{"roles": []any{"crm-admin", "offline_access"}},
		"resource_access": map[string]any{
			"crm": map[string]any{"roles": []any{"crm-agent"}},
		},
		"roles": []any{"extra"},
	}

	c := NewClaims(raw)
	assert.Equal(t, "kc-1", c.Subject)
	assert.Equal(t, "jane@example.com", c.Email)
	assert.True(t, c.EmailVerified)
	assert.Equal(t, []string{"crm-admin", "offline_access"}, c.RealmRoles)
	assert.Equal(t, []string{"crm-agent"}, c.ClientRoles["crm"])
	assert.Equal(t, []string{"extra"}, c.Roles)
	assert.Equal(t, "Jane Doe", c.DisplayName())

	normalized := NewClaims(map[string]any{
		"subject":      "kc-2",
		"realm_roles":  []string{"a"},
		"client_roles": map[string]any{"crm": []any{"b"}},
	})
	assert.Equal(t, "kc-2", normalized.Subject)
	assert.Equal(t, []string{"a"}, normalized.RealmRoles)
	assert.Equal(t, []string{"b"}, normalized.ClientRoles["crm"])
}
