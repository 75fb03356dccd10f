package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/duniter-go/node/internal/storage"
)

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <all|blockchain|forks|identities|...>",
		Short: "clear persisted namespaces, for recovering from a storage error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(args[0])
		},
	}
}

func runReset(what string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	st, err := storage.Open(log, filepath.Join(cfg.Storage.DataDir, cfg.Network.Currency+".db"))
	if err != nil {
		return err
	}
	defer st.Close()

	if what == "all" {
		if err := st.ResetAll(); err != nil {
			return err
		}
		fmt.Println("reset: cleared every namespace")
		return nil
	}

	switch what {
	case storage.NSBlockchain, storage.NSForks, storage.NSForkBlocks, storage.NSIdentities,
		storage.NSMemberships, storage.NSCerts, storage.NSCertsExpir, storage.NSSources,
		storage.NSTransactions, storage.NSParams:
		if err := st.Namespace(what).Reset(); err != nil {
			return err
		}
		fmt.Printf("reset: cleared namespace %q\n", what)
		return nil
	default:
		return fmt.Errorf("reset: unknown namespace %q", what)
	}
}
