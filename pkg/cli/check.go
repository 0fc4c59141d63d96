package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/ssobridge/pkg/config"
)

func newCheckCommand() *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Validate configuration and optionally the database",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
		Run:         runCheck,
	}

	cmd.Flags.Bool("db", false, "Connect to postgres, run migrations and verify the default role")

	return cmd
}

func runCheck(args []string) error {
	flags := flag.NewFlagSet("check", flag.ContinueOnError)
	withDB := flags.Bool("db", false, "Connect to postgres, run migrations and verify the default role")

	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	printSummary(cfg)

	if *withDB {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		app, err := NewApp(ctx, cfg, WithDatabase())
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		if err := app.DB.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
		fmt.Fprintln(out, "Database is reachable and migrated")
	}

	fmt.Fprintln(out, "Configuration is valid")
	return nil
}

// printSummary prints non-secret settings. Secrets are reported as set or missing.
func printSummary(cfg *config.Config) {
	s := cfg.SSO
	fmt.Fprintf(out, "SSO enabled:        %t\n", s.Enabled)
	fmt.Fprintf(out, "Base URL:           %s\n", s.BaseURL)
	fmt.Fprintf(out, "Realm:              %s\n", s.Realm)
	fmt.Fprintf(out, "Client ID:          %s\n", s.ClientID)
	fmt.Fprintf(out, "Client secret:      %s\n", presence(s.ClientSecret != ""))
	fmt.Fprintf(out, "Encryption key:     %s\n", presence(len(s.EncryptionKey) > 0))
	fmt.Fprintf(out, "Redirect URI:       %s\n", s.RedirectURI)
	fmt.Fprintf(out, "Scopes:             %s\n", strings.Join(s.Scopes, " "))
	fmt.Fprintf(out, "Default role:       %s\n", s.DefaultRole)
	fmt.Fprintf(out, "Role sync mode:     %s\n", s.RoleSyncMode)
	fmt.Fprintf(out, "Role mappings:      %d\n", len(s.RoleMapping))
	fmt.Fprintf(out, "Local auth allowed: %t\n", s.AllowLocalAuth)

	store := "memory"
	if cfg.Storage.RedisURL != "" {
		store = "redis"
	}
	fmt.Fprintf(out, "State store:        %s\n", store)
}

func presence(ok bool) string {
	if ok {
		return "set"
	}
	return "missing"
}
