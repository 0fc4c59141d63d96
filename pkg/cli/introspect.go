package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/platinummonkey/ssobridge/pkg/config"
	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

// in supplies tokens to commands that read them from standard input.
var in io.Reader = os.Stdin

func newIntrospectCommand() *Command {
	cmd := &Command{
		Name:        "introspect",
		Description: "Introspect an access token read from stdin or a file",
		Flags:       flag.NewFlagSet("introspect", flag.ContinueOnError),
		Run:         runIntrospect,
	}

	cmd.Flags.String("token-file", "-", "File holding the token, - for stdin")

	return cmd
}

func runIntrospect(args []string) error {
	flags := flag.NewFlagSet("introspect", flag.ContinueOnError)
	tokenFile := flags.String("token-file", "-", "File holding the token, - for stdin")

	if err := flags.Parse(args); err != nil {
		return err
	}

	token, err := readToken(*tokenFile)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if !cfg.SSO.Enabled {
		return ssoerr.Disabled()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SSO.Timeout.Request+5*time.Second)
	defer cancel()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	result, err := app.Client.Introspect(ctx, token)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// readToken reads the first non-empty line. Tokens are never taken from
// arguments so they stay out of shell history and process listings.
func readToken(path string) (string, error) {
	var r io.Reader = in
	if path != "-" {
		f, err := os.Open(path) // #nosec G304 -- operator supplied path
		if err != nil {
			return "", fmt.Errorf("failed to open token file: %w", err)
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return "", fmt.Errorf("no token provided")
}
