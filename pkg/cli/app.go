package cli

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/ssobridge/pkg/config"
	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/sso"
	"github.com/platinummonkey/ssobridge/pkg/sso/keycloak"
	"github.com/platinummonkey/ssobridge/pkg/storage/postgres"
	"github.com/platinummonkey/ssobridge/pkg/storage/redisstore"
)

// App is the fully wired set of SSO components built from configuration.
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Client *keycloak.Client
	Mapper *sso.RoleMapper
	Tokens *sso.TokenManager

	// Set only when the app was built with a database.
	DB      *postgres.ConnectionManager
	Store   *postgres.Store
	Service *sso.Service
	Sweeper *sso.TokenSweeper

	redis *redis.Client
	otel  *observability.OTelProviders
}

type appOptions struct {
	database bool
	tracing  bool
}

// AppOption selects optional infrastructure for NewApp.
type AppOption func(*appOptions)

// WithDatabase connects to postgres and builds the store-backed components.
func WithDatabase() AppOption {
	return func(o *appOptions) { o.database = true }
}

// WithTracing installs the OTLP exporter when enabled in configuration.
func WithTracing() AppOption {
	return func(o *appOptions) { o.tracing = true }
}

// NewApp wires the transport, token manager and role mapper. With
// WithDatabase it also wires the postgres store, reconciler, service and
// sweeper. Call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, opts ...AppOption) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := cfg.Logger()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  metrics,
	}

	if o.tracing {
		providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		app.otel = providers
	}

	app.Client = keycloak.New(cfg.SSO,
		keycloak.WithLogger(logger),
		keycloak.WithMetrics(metrics),
	)
	app.Mapper = sso.NewRoleMapper(cfg.SSO, logger, metrics)

	states, cache, err := app.sessionStores(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	managerOpts := []sso.ManagerOption{
		sso.WithManagerLogger(logger),
		sso.WithManagerMetrics(metrics),
	}
	if cfg.SSO.CacheTokens {
		managerOpts = append(managerOpts, sso.WithClaimsCache(cache))
	}
	if cfg.SSO.VerifyIDToken {
		managerOpts = append(managerOpts, sso.WithIDTokenVerifier(app.Client))
	}
	app.Tokens = sso.NewTokenManager(cfg.SSO, app.Client, states, managerOpts...)

	if o.database {
		if err := app.connectDatabase(ctx); err != nil {
			app.Close(ctx)
			return nil, err
		}
	}

	return app, nil
}

// sessionStores picks redis when configured, otherwise in-process stores.
func (a *App) sessionStores(ctx context.Context) (sso.StateStore, sso.ClaimsCache, error) {
	cfg := a.Config
	if cfg.Storage.RedisURL == "" {
		a.Logger.Debug("Using in-process state store and claims cache")
		return sso.NewMemoryStateStore(), sso.NewLRUClaimsCache(cfg.Storage.ClaimsCacheSize, cfg.SSO.CacheTTL), nil
	}

	client, err := redisstore.NewClient(ctx, cfg.Redis())
	if err != nil {
		return nil, nil, err
	}
	a.redis = client
	prefix := cfg.Storage.RedisKeyPrefix
	return redisstore.NewStateStore(client, prefix),
		redisstore.NewClaimsCache(client, prefix, cfg.SSO.CacheTTL, a.Logger),
		nil
}

func (a *App) connectDatabase(ctx context.Context) error {
	cfg := a.Config
	cm, err := postgres.NewConnectionManager(cfg.Postgres(), a.Logger)
	if err != nil {
		return err
	}
	a.DB = cm

	if cfg.Storage.AutoMigrate {
		if err := postgres.RunMigrations(ctx, cm.Primary(), a.Logger); err != nil {
			return err
		}
	}

	a.Store = postgres.NewStore(cm.Primary(),
		postgres.WithReader(cm.Replica),
		postgres.WithStoreLogger(a.Logger),
	)

	if cfg.SSO.Enabled {
		if err := a.Mapper.Validate(ctx, a.Store); err != nil {
			return err
		}
	}

	var cipher *sso.TokenCipher
	if len(cfg.SSO.EncryptionKey) > 0 {
		cipher, err = sso.NewTokenCipher(cfg.SSO.EncryptionKey)
		if err != nil {
			return err
		}
	}

	hooks := sso.NewHooks(a.Logger,
		sso.NewLastLoginRecorder(a.Store),
		sso.NewFailedAttemptTracker(a.Logger),
		sso.NewMetricsObserver(a.Metrics),
	)

	a.Service = sso.NewService(cfg.SSO, sso.ServiceDeps{
		Tokens:     a.Tokens,
		Reconciler: sso.NewUserReconciler(cfg.SSO, a.Store, a.Mapper, a.Logger, a.Metrics),
		Transactor: a.Store,
		Cipher:     cipher,
		Hooks:      hooks,
		Logger:     a.Logger,
		Metrics:    a.Metrics,
	})
	a.Sweeper = sso.NewTokenSweeper(a.Store, cfg.SSO.TokenSweepSchedule, a.Logger, a.Metrics)
	return nil
}

// Close releases connections and flushes traces.
func (a *App) Close(ctx context.Context) {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close database")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close redis")
		}
	}
	if a.otel != nil {
		_ = observability.ShutdownOTel(ctx, a.otel, a.Logger)
	}
}
