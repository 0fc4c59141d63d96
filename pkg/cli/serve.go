package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ssobridge/pkg/config"
	"github.com/platinummonkey/ssobridge/pkg/observability"
)

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the token sweeper, metrics endpoint and role mapping watcher",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
		Run:         runServe,
	}

	cmd.Flags.Duration("replica-check-interval", 30*time.Second, "How often unhealthy replicas are dropped")
	cmd.Flags.Duration("shutdown-timeout", 15*time.Second, "Grace period for in-flight work on shutdown")

	return cmd
}

func runServe(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	replicaInterval := flags.Duration("replica-check-interval", 30*time.Second, "How often unhealthy replicas are dropped")
	shutdownTimeout := flags.Duration("shutdown-timeout", 15*time.Second, "Grace period for in-flight work on shutdown")

	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, WithDatabase(), WithTracing())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()
		app.Close(closeCtx)
	}()

	return serve(ctx, app, *replicaInterval, *shutdownTimeout)
}

// serve runs the background workers until ctx ends or one of them fails.
func serve(ctx context.Context, app *App, replicaInterval, shutdownTimeout time.Duration) error {
	logger := app.Logger
	eg, ctx := errgroup.WithContext(ctx)

	if err := app.Sweeper.Start(); err != nil {
		return err
	}
	eg.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.Sweeper.Stop(stopCtx)
		return nil
	})

	app.DB.StartHealthCheckRoutine(ctx, replicaInterval)

	if app.Config.RoleMappingFile != "" {
		eg.Go(func() error {
			return config.WatchRoleMappingFile(ctx, app.Config.RoleMappingFile, app.Mapper, logger)
		})
	}

	if app.Config.Observability.MetricsEnabled {
		server := &http.Server{
			Addr:              app.Config.Observability.MetricsAddr,
			Handler:           otelhttp.NewHandler(opsMux(app, app.DB), "ssobridge.ops"),
			ReadHeaderTimeout: 5 * time.Second,
		}
		eg.Go(func() error {
			logger.WithField("addr", server.Addr).Info("Metrics server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("ssobridge started")
	err := eg.Wait()
	logger.Info("ssobridge stopped")
	return err
}

// healthChecker is satisfied by *postgres.ConnectionManager.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// opsMux serves /metrics and /healthz.
func opsMux(app *App, db healthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	observability.RegisterMetricsEndpoint(mux, app.Registry)
	mux.Handle("/healthz", healthHandler(db, app.Logger))
	return mux
}

func healthHandler(db healthChecker, logger *observability.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.HealthCheck(ctx); err != nil {
			logger.WithError(err).Warn("Health check failed")
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
}
