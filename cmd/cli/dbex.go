package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/duniter-go/node/internal/blockchain"
	"github.com/duniter-go/node/internal/crypto"
	"github.com/duniter-go/node/internal/protocol"
	"github.com/duniter-go/node/internal/storage"
)

// dbexCmd is the read-only database-inspection sub-tree: `dbex block <n>`,
// `dbex current`, `dbex distance <pubkey>`. Grounded on §6's CLI surface
// naming `dbex` as a verb without specifying its sub-commands (the CLI is
// "interface only"); distance reports the simplified outbound-stock/
// active-status diagnostic Engine.IdentityDistance exposes, not a
// recomputation of the certification-renewal distance rule.
func dbexCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dbex", Short: "inspect persisted blockchain state"}
	cmd.AddCommand(&cobra.Command{
		Use:   "block <n>",
		Short: "print the main-chain block at height n",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseBlockNumber(args[0])
			if err != nil {
				return err
			}
			return withHydratedEngine(func(engine *blockchain.Engine) error {
				b, ok := engine.BlockAt(n)
				if !ok {
					return fmt.Errorf("dbex: no block at height %d", n)
				}
				printBlock(b)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "print the main-chain tip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHydratedEngine(func(engine *blockchain.Engine) error {
				tip := engine.Tip()
				b, ok := engine.BlockAt(tip.Number)
				if !ok {
					return fmt.Errorf("dbex: no current block (empty db)")
				}
				printBlock(b)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "distance <pubkey>",
		Short: "print a public key's outbound certification stock and active status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pk blockchain.PublicKey
			if err := pk.UnmarshalText([]byte(args[0])); err != nil {
				return fmt.Errorf("dbex: invalid public key %q: %w", args[0], err)
			}
			return withHydratedEngine(func(engine *blockchain.Engine) error {
				stock, active, known := engine.IdentityDistance(pk)
				if !known {
					return fmt.Errorf("dbex: unknown public key %s", pk)
				}
				fmt.Printf("pubkey=%s outboundStock=%d active=%t\n", pk, stock, active)
				return nil
			})
		},
	})
	return cmd
}

func parseBlockNumber(s string) (blockchain.BlockNumber, error) {
	var n uint32
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("dbex: invalid block number %q", s)
	}
	return blockchain.BlockNumber(n), nil
}

func printBlock(b *blockchain.Block) {
	fmt.Printf("number=%d hash=%s previousHash=%s issuer=%s time=%d\n",
		b.Number, b.Hash, b.PreviousHash, b.Issuer, b.Time)
}

// withHydratedEngine builds an engine against the active profile's store,
// replays persisted blocks into it, and runs fn — the read-only-inspection
// shape every dbex sub-command shares.
func withHydratedEngine(fn func(engine *blockchain.Engine) error) error {
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

	engine := blockchain.NewEngine(log, nil, noopNetworkAdapter{log}, crypto.Ed25519Verifier{}, protocol.PermissiveChecker{}, nil, blockchain.EngineConfig{
		Self:             moduleBlockchain,
		NetworkModule:    moduleNetwork,
		ChunkSize:        cfg.Blockchain.ChunkSize,
		MaxBlocksRequest: cfg.Blockchain.MaxBlocksRequest,
		MaxForkSlots:     cfg.Blockchain.MaxForkSlots,
		ForkTolerance:    blockchain.BlockNumber(cfg.Blockchain.ForkTolerance),
		ConsensusPoll:    cfg.Blockchain.ConsensusPoll,
		StackUpInterval:  cfg.Blockchain.StackUpInterval,
		CertValiditySecs: cfg.Blockchain.CertValiditySecs,
	})
	if err := storage.Hydrate(st, engine); err != nil {
		return err
	}
	if err := engine.Reconcile(); err != nil {
		return err
	}
	return fn(engine)
}
