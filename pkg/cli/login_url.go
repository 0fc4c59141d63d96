package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/ssobridge/pkg/config"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

func newLoginURLCommand() *Command {
	cmd := &Command{
		Name:        "login-url",
		Description: "Generate an authorization URL and store its state",
		Flags:       flag.NewFlagSet("login-url", flag.ContinueOnError),
		Run:         runLoginURL,
	}

	cmd.Flags.String("session", "", "Session id to bind the state to (random when empty)")
	cmd.Flags.String("scopes", "", "Comma-separated scopes (configured scopes when empty)")

	return cmd
}

func runLoginURL(args []string) error {
	flags := flag.NewFlagSet("login-url", flag.ContinueOnError)
	session := flags.String("session", "", "Session id to bind the state to (random when empty)")
	scopes := flags.String("scopes", "", "Comma-separated scopes (configured scopes when empty)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if !cfg.SSO.Enabled {
		return ssoerr.Disabled()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	sessionID := *session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var requested []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			requested = append(requested, s)
		}
	}

	authURL, _, err := app.Tokens.BuildAuthorizationURL(ctx, sessionID, requested...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Session: %s\n", sessionID)
	fmt.Fprintln(out, authURL)
	return nil
}
