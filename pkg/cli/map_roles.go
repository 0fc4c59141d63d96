package cli

import (
	"flag"
	"fmt"

	"github.com/platinummonkey/ssobridge/pkg/config"
	"github.com/platinummonkey/ssobridge/pkg/sso"
)

func newMapRolesCommand() *Command {
	cmd := &Command{
		Name:        "map-roles",
		Description: "Show the local roles a set of IdP roles maps to",
		Flags:       flag.NewFlagSet("map-roles", flag.ContinueOnError),
		Run:         runMapRoles,
	}

	cmd.Flags.String("mapping-file", "", "YAML role mapping to use instead of the configured one")

	return cmd
}

func runMapRoles(args []string) error {
	flags := flag.NewFlagSet("map-roles", flag.ContinueOnError)
	mappingFile := flags.String("mapping-file", "", "YAML role mapping to use instead of the configured one")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return fmt.Errorf("at least one IdP role is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	mapper := sso.NewRoleMapper(cfg.SSO, cfg.Logger(), nil)
	if *mappingFile != "" {
		mapping, err := config.LoadRoleMappingFile(*mappingFile)
		if err != nil {
			return err
		}
		mapper.SetMapping(mapping)
	}

	for i, role := range mapper.MapToLocalRoles(flags.Args()) {
		if i == 0 {
			fmt.Fprintf(out, "%s (primary)\n", role)
			continue
		}
		fmt.Fprintln(out, role)
	}
	return nil
}
