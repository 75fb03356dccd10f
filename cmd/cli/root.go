// Package cli assembles the node's command surface: start, sync, reset,
// dbex, keys, enable/disable and modules, each a cobra sub-command sharing
// a profile-scoped Config and logrus.Logger built by persistent flags.
package cli

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/duniter-go/node/internal/config"
)

var rootFlags struct {
	configDir string
	profile   string
	logLevel  string
	logStdout bool
}

// Execute builds the root command and runs it, the sole entry point called
// from cmd/duniter/main.go.
func Execute() error {
	root := &cobra.Command{
		Use:   "duniter",
		Short: "Duniter-style blockchain node",
	}
	root.PersistentFlags().StringVar(&rootFlags.configDir, "config-dir", "./profiles", "directory holding per-profile conf.yaml")
	root.PersistentFlags().StringVar(&rootFlags.profile, "profile", "default", "configuration profile name")
	root.PersistentFlags().StringVar(&rootFlags.logLevel, "logs", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&rootFlags.logStdout, "log-stdout", false, "log to stdout instead of stderr")

	root.AddCommand(startCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(resetCmd())
	root.AddCommand(dbexCmd())
	root.AddCommand(keysCmd())
	root.AddCommand(enableCmd())
	root.AddCommand(disableCmd())
	root.AddCommand(modulesCmd())

	return root.Execute()
}

// loadConfig reads the active profile per the persistent --config-dir/
// --profile flags, failing fast per §7's ConfigError ("fail fast with exit
// code != 0").
func loadConfig() (config.Config, error) {
	return config.Load(rootFlags.configDir, rootFlags.profile)
}

// newLogger builds the logger every sub-command shares, its level and
// destination set by --logs/--log-stdout, matching dexserver.go's
// logrus.New() then Printf/Fatalf-style use.
func newLogger() *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(rootFlags.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if rootFlags.logStdout {
		log.SetOutput(os.Stdout)
	} else {
		log.SetOutput(os.Stderr)
	}
	return log
}
