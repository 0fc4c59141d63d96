package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// out is where commands print results. Tests replace it.
var out io.Writer = os.Stdout

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "ssobridge",
		Description: "ssobridge - OIDC single sign-on token lifecycle tooling",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("ssobridge", flag.ContinueOnError),
	}

	// Add subcommands
	root.Subcommands["check"] = newCheckCommand()
	root.Subcommands["login-url"] = newLoginURLCommand()
	root.Subcommands["map-roles"] = newMapRolesCommand()
	root.Subcommands["introspect"] = newIntrospectCommand()
	root.Subcommands["sweep"] = newSweepCommand()
	root.Subcommands["serve"] = newServeCommand()

	return root
}

// Execute runs the subcommand named by args[0].
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
