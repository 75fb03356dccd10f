package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duniter-go/node/internal/config"
)

// namedModules lists the §2 module names `enable`/`disable`/`modules`
// accept, mirroring the constants start.go registers under the router.
var namedModules = []string{
	string(moduleNetwork),
	string(moduleStorage),
	string(moduleClientAPI),
}

func enableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <module>",
		Short: "re-enable a module for this profile's next `start`",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setModuleEnabled(args[0], true)
		},
	}
}

func disableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <module>",
		Short: "disable a module for this profile's next `start`",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setModuleEnabled(args[0], false)
		},
	}
}

func modulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "list modules and whether this profile starts them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, name := range namedModules {
				status := "enabled"
				if !cfg.ModuleEnabled(name) {
					status = "disabled"
				}
				fmt.Printf("%-10s %s\n", name, status)
			}
			return nil
		},
	}
}

func setModuleEnabled(name string, enabled bool) error {
	valid := false
	for _, m := range namedModules {
		if m == name {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown module %q (want one of %v)", name, namedModules)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	disabled := cfg.Modules.Disabled[:0:0]
	for _, d := range cfg.Modules.Disabled {
		if d != name {
			disabled = append(disabled, d)
		}
	}
	if !enabled {
		disabled = append(disabled, name)
	}
	cfg.Modules.Disabled = disabled

	if err := config.Save(rootFlags.configDir, cfg); err != nil {
		return err
	}
	fmt.Printf("module %q is now %s\n", name, map[bool]string{true: "enabled", false: "disabled"}[enabled])
	return nil
}
