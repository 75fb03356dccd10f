package cli

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/duniter-go/node/internal/blockchain"
	"github.com/duniter-go/node/internal/busrouter"
	"github.com/duniter-go/node/internal/clientapi"
	"github.com/duniter-go/node/internal/crypto"
	"github.com/duniter-go/node/internal/p2p"
	"github.com/duniter-go/node/internal/protocol"
	"github.com/duniter-go/node/internal/storage"
)

const (
	moduleBlockchain busrouter.ModuleName = "blockchain"
	moduleNetwork    busrouter.ModuleName = "network"
	moduleStorage    busrouter.ModuleName = "storage"
	moduleClientAPI  busrouter.ModuleName = "clientapi"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run the node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

// runStart wires every module named in §2's diagram onto one router and
// blocks until SIGINT/SIGTERM, grounded on blockchain_synchronization.go's
// constructor-wires-then-Start/Stop shape generalized across the whole
// module set instead of one subsystem.
func runStart() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	var followers []busrouter.Mailbox
	router := busrouter.New(log, cfg.Router.GraceWindow, followers, nil)

	var st *storage.Store
	if cfg.ModuleEnabled(string(moduleStorage)) {
		st, err = storage.Open(log, filepath.Join(cfg.Storage.DataDir, cfg.Network.Currency+".db"))
		if err != nil {
			log.WithError(err).Error("start: storage open failed; try `duniter reset all`")
			return err
		}
		defer st.Close()
	}

	stop := make(chan struct{})
	var running []interface{ Run(<-chan struct{}) error }

	var net blockchain.NetworkAdapter = noopNetworkAdapter{log}
	if cfg.ModuleEnabled(string(moduleNetwork)) {
		node, err := p2p.NewNode(log, p2p.Config{
			ListenAddr:     cfg.Network.ListenAddr,
			DiscoveryTag:   cfg.Network.DiscoveryTag,
			BootstrapPeers: cfg.Network.BootstrapPeers,
		})
		if err != nil {
			return err
		}
		netModule := p2p.NewNetworkModule(log, node, router, moduleNetwork, moduleBlockchain)
		if err := netModule.Register(); err != nil {
			return err
		}
		running = append(running, netModule)
		net = netModule
	}

	engine := blockchain.NewEngine(log, router, net, crypto.Ed25519Verifier{}, protocol.PermissiveChecker{}, nil, blockchain.EngineConfig{
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

	if st != nil {
		if err := storage.Hydrate(st, engine); err != nil {
			log.WithError(err).Error("start: hydration failed; try `duniter reset all`")
			return err
		}
	}
	if err := engine.Reconcile(); err != nil {
		log.WithError(err).Error("start: reconcile failed; try `duniter reset all`")
		return err
	}

	if err := engine.Register([]busrouter.RoleTag{"block producer"}, nil); err != nil {
		return err
	}

	if st != nil && cfg.ModuleEnabled(string(moduleStorage)) {
		persister := storage.NewBlockPersister(log, st, router, moduleStorage)
		if err := persister.Register(); err != nil {
			return err
		}
		running = append(running, persister)
	}

	var api *clientapi.Server
	if cfg.ClientAPI.Enabled && cfg.ModuleEnabled(string(moduleClientAPI)) {
		api = clientapi.NewServer(log, router, moduleClientAPI, moduleBlockchain, cfg.ClientAPI.ListenAddr, 5*time.Second)
		if err := api.Register(); err != nil {
			return err
		}
	}

	router.Run()
	for _, m := range running {
		go func(m interface{ Run(<-chan struct{}) error }) {
			if err := m.Run(stop); err != nil {
				log.WithError(err).Warn("start: module exited with error")
			}
		}(m)
	}
	if api != nil {
		go func() {
			if err := api.Run(stop); err != nil {
				log.WithError(err).Warn("start: clientapi exited with error")
			}
		}()
	}
	go engine.Run(stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	if cfg.RunDuration > 0 {
		select {
		case <-sig:
		case <-time.After(cfg.RunDuration):
		}
	} else {
		<-sig
	}

	close(stop)
	log.Info("start: shutting down")
	return nil
}
