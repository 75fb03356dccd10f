package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duniter-go/node/internal/p2p"
)

// keysCmd reports the node's libp2p peer identity. It never touches a WoT
// member's signing keypair: key generation/signing is the external
// cryptographic collaborator this node treats as out of scope.
func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "inspect the node's network identity"}
	cmd.AddCommand(&cobra.Command{
		Use:   "peer-id",
		Short: "print the node's libp2p peer id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger()
			node, err := p2p.NewNode(log, p2p.Config{
				ListenAddr:     cfg.Network.ListenAddr,
				DiscoveryTag:   cfg.Network.DiscoveryTag,
				BootstrapPeers: nil,
			})
			if err != nil {
				return err
			}
			defer node.Close()
			fmt.Println(node.ID())
			return nil
		},
	})
	return cmd
}
