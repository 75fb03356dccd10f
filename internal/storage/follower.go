package storage

import (
	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/internal/blockchain"
	"github.com/duniter-go/node/internal/busrouter"
)

// BlockPersister is the router module that makes the blocks namespace
// durable: it subscribes to blockchain.EventNewBlock and writes each
// accepted block, and the advancing tip, into the Store. It carries no
// role, only the event subscription, since nothing addresses it directly.
type BlockPersister struct {
	log *logrus.Logger

	blocks *BlocksStore
	router *busrouter.Router
	self   busrouter.ModuleName

	mailbox busrouter.Mailbox
}

// NewBlockPersister wires s's blockchain namespace into the router under
// self.
func NewBlockPersister(log *logrus.Logger, s *Store, router *busrouter.Router, self busrouter.ModuleName) *BlockPersister {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlockPersister{
		log:     log,
		blocks:  NewBlocksStore(s),
		router:  router,
		self:    self,
		mailbox: busrouter.NewMailbox(256),
	}
}

// Register joins the router, subscribed to EventNewBlock only.
func (p *BlockPersister) Register() error {
	return p.router.Register(p.self, p.mailbox, nil, []busrouter.EventTag{blockchain.EventNewBlock})
}

// Run drains the mailbox until stop closes, persisting every NewBlock
// event it sees.
func (p *BlockPersister) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case msg, ok := <-p.mailbox:
			if !ok {
				return nil
			}
			p.handle(msg)
		}
	}
}

func (p *BlockPersister) handle(msg busrouter.Message) {
	if msg.Payload.Kind != busrouter.PKEvent || msg.Payload.EventKind != blockchain.EventNewBlock {
		return
	}
	b, ok := msg.Payload.Content.(*blockchain.Block)
	if !ok {
		p.log.Warn("storage: NewBlock event with unexpected content type")
		return
	}
	if err := p.blocks.PutBlock(b, true); err != nil {
		p.log.WithError(err).WithField("number", b.Number).Warn("storage: failed to persist block")
		return
	}
	if err := p.blocks.SetTip(b.Blockstamp()); err != nil {
		p.log.WithError(err).WithField("number", b.Number).Warn("storage: failed to persist tip")
	}
}

// Hydrate loads every persisted main-chain block (and the tip) from s into
// engine's in-memory chain, for startup before engine.Reconcile runs.
// Intended to be called once, before the engine's Register/Run.
func Hydrate(s *Store, engine *blockchain.Engine) error {
	blocks := NewBlocksStore(s)
	err := blocks.Blocks(func(b *blockchain.Block) error {
		return engine.LoadBlock(b, true)
	})
	if err != nil {
		return err
	}
	tip := blocks.Tip()
	if tip == (blockchain.Blockstamp{}) {
		return nil
	}
	return engine.LoadTip(tip)
}

// PersistFromEngine writes every main-chain block engine holds beyond what
// s already has on disk, and advances the persisted tip to match. The
// `sync` CLI command calls this once bulk import completes, since
// SyncPipeline (unlike IngestBlock) writes only to the engine's in-memory
// chain and emits no EventNewBlock for BlockPersister to catch.
func PersistFromEngine(s *Store, engine *blockchain.Engine) error {
	blocks := NewBlocksStore(s)
	start := blocks.Len()
	tip := engine.Tip()
	for n := start; n <= tip.Number; n++ {
		b, ok := engine.BlockAt(n)
		if !ok {
			break
		}
		if err := blocks.PutBlock(b, true); err != nil {
			return err
		}
	}
	return blocks.SetTip(tip)
}
