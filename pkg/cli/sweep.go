package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/ssobridge/pkg/config"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

func newSweepCommand() *Command {
	cmd := &Command{
		Name:        "sweep",
		Description: "Clear expired SSO refresh tokens once",
		Flags:       flag.NewFlagSet("sweep", flag.ContinueOnError),
		Run:         runSweep,
	}

	cmd.Flags.Duration("timeout", time.Minute, "Maximum time for the sweep")

	return cmd
}

func runSweep(args []string) error {
	flags := flag.NewFlagSet("sweep", flag.ContinueOnError)
	timeout := flags.Duration("timeout", time.Minute, "Maximum time for the sweep")

	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.PostgresURL == "" {
		return ssoerr.MissingConfig("storage_postgres_url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	app, err := NewApp(ctx, cfg, WithDatabase())
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	cleared, err := app.Sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cleared %d expired token(s)\n", cleared)
	return nil
}
