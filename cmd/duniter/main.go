// Command duniter is the node binary: a cobra root command delegating to
// cmd/cli's start/sync/reset/dbex/keys/enable/disable/modules verbs. In the
// shape of cmd/synnergy/main.go's rootCmd.AddCommand(...)/Execute() shell.
package main

import (
	"fmt"
	"os"

	"github.com/duniter-go/node/cmd/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
