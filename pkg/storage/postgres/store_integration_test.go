//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/ssobridge/pkg/sso"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	if _, err := testcontainers.ProviderDocker.GetProvider(); err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("sso_test"),
		tcpostgres.WithUsername("sso"),
		tcpostgres.WithPassword("sso_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	require.NoError(t, RunMigrations(ctx, db, nil))
	require.NoError(t, SeedRoles(ctx, db, "Admin", "Sales Agent", "Manager"))
	return db
}

func TestIntegration_ReconcileLifecycle(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	store := NewStore(db)

	cfg := sso.DefaultConfig()
	cfg.ClientID = "crm"
	cfg.RoleMapping = sso.RoleMapping{
		"crm-admin":   {"Admin"},
		"crm-manager": {"Manager", "Sales Agent"},
	}
	mapper := sso.NewRoleMapper(cfg, nil, nil)
	require.NoError(t, mapper.Validate(ctx, store))
	reconciler := sso.NewUserReconciler(cfg, store, mapper, nil, nil)

	claims := sso.Claims{
		Subject:    "kc-123",
		Email:      "jane@example.com",
		Name:       "Jane Doe",
		RealmRoles: []string{"crm-manager"},
	}

	created, err := reconciler.FindOrCreateUser(ctx, claims)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.True(t, created.IsSSO())

	manager, err := store.FindRoleByName(ctx, "Manager")
	require.NoError(t, err)
	loaded, err := store.FindByExternalID(ctx, "kc-123")
	require.NoError(t, err)
	require.NotNil(t, loaded.RoleID)
	assert.Equal(t, manager.ID, *loaded.RoleID)
	assert.Len(t, loaded.RoleIDs, 2)

	claims.RealmRoles = []string{"crm-admin"}
	_, err = reconciler.FindOrCreateUser(ctx, claims)
	require.NoError(t, err)

	admin, err := store.FindRoleByName(ctx, "Admin")
	require.NoError(t, err)
	loaded, err = store.FindByEmail(ctx, "JANE@example.com")
	require.NoError(t, err)
	assert.Equal(t, []int64{admin.ID}, loaded.RoleIDs)
}

func TestIntegration_LinkLocalUserAndSweep(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	store := NewStore(db)

	local := &sso.User{Email: "bob@example.com", DisplayName: "Bob", PasswordHash: "hash"}
	require.NoError(t, store.Create(ctx, local))

	cfg := sso.DefaultConfig()
	reconciler := sso.NewUserReconciler(cfg, store, sso.NewRoleMapper(cfg, nil, nil), nil, nil)

	linked, err := reconciler.FindOrCreateUser(ctx, sso.Claims{Subject: "kc-bob", Email: "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, local.ID, linked.ID)
	assert.Equal(t, "kc-bob", linked.ExternalID)

	expired := time.Now().Add(-time.Hour)
	linked.EncryptedRefreshToken = "ciphertext"
	linked.TokenExpiresAt = &expired
	require.NoError(t, store.Save(ctx, linked))

	n, err := store.ClearExpiredTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	loaded, err := store.FindByExternalID(ctx, "kc-bob")
	require.NoError(t, err)
	assert.Empty(t, loaded.EncryptedRefreshToken)
	assert.Nil(t, loaded.TokenExpiresAt)
}
