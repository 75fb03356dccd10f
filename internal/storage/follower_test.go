package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/duniter-go/node/internal/blockchain"
	"github.com/duniter-go/node/internal/busrouter"
)

func TestBlockPersisterPersistsNewBlockEvents(t *testing.T) {
	s, err := Open(nil, filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	router := busrouter.New(nil, time.Minute, nil, nil)
	router.Run()

	p := NewBlockPersister(nil, s, router, "storage")
	if err := p.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { p.Run(stop); close(done) }()

	b := &blockchain.Block{Number: 1, Hash: blockchain.BlockHash{5}}
	router.Deliver(busrouter.Message{
		Selector: busrouter.All(),
		Payload:  busrouter.Event(blockchain.EventNewBlock, b),
	})

	deadline := time.After(2 * time.Second)
	for {
		got, ok := NewBlocksStore(s).BlockAt(1)
		if ok && got.Hash == b.Hash {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for block to be persisted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if tip := NewBlocksStore(s).Tip(); tip != b.Blockstamp() {
		t.Fatalf("Tip = %v, want %v", tip, b.Blockstamp())
	}

	close(stop)
	<-done
}

func TestHydrateLoadsPersistedBlocksIntoEngine(t *testing.T) {
	s, err := Open(nil, filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	bs := NewBlocksStore(s)
	genesis := &blockchain.Block{Number: 0, Hash: blockchain.BlockHash{1}}
	b1 := &blockchain.Block{Number: 1, PreviousHash: genesis.Hash, Hash: blockchain.BlockHash{2}}
	for _, b := range []*blockchain.Block{genesis, b1} {
		if err := bs.PutBlock(b, true); err != nil {
			t.Fatalf("PutBlock: %v", err)
		}
	}
	if err := bs.SetTip(b1.Blockstamp()); err != nil {
		t.Fatalf("SetTip: %v", err)
	}

	e := newTestEngine(t)
	if err := Hydrate(s, e); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	if e.Tip() != b1.Blockstamp() {
		t.Fatalf("Tip after hydration = %v, want %v", e.Tip(), b1.Blockstamp())
	}
}

type noopNetworkAdapter struct{}

func (noopNetworkAdapter) SendRequest(busrouter.Message) {}

type alwaysVerifier struct{}

func (alwaysVerifier) Verify(blockchain.PublicKey, []byte, []byte) bool { return true }

type noopProtocol struct{}

func (noopProtocol) IssuerEligible(*blockchain.Block) error                   { return nil }
func (noopProtocol) CertificationTargetsActive(*blockchain.Block, *blockchain.WoT) error {
	return nil
}
func (noopProtocol) DividendMatchesSchedule(*blockchain.Block) error { return nil }
func (noopProtocol) TransactionsSettle(*blockchain.Block) error      { return nil }

func TestPersistFromEngineFlushesBlocksSyncNeverEmitted(t *testing.T) {
	s, err := Open(nil, filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	e := newTestEngine(t)
	genesis := &blockchain.Block{Number: 0, Hash: blockchain.BlockHash{1}}
	b1 := &blockchain.Block{Number: 1, PreviousHash: genesis.Hash, Hash: blockchain.BlockHash{2}}
	b2 := &blockchain.Block{Number: 2, PreviousHash: b1.Hash, Hash: blockchain.BlockHash{3}}
	for _, b := range []*blockchain.Block{genesis, b1, b2} {
		if err := e.LoadBlock(b, true); err != nil {
			t.Fatalf("LoadBlock: %v", err)
		}
	}
	if err := e.LoadTip(b2.Blockstamp()); err != nil {
		t.Fatalf("LoadTip: %v", err)
	}

	if err := PersistFromEngine(s, e); err != nil {
		t.Fatalf("PersistFromEngine: %v", err)
	}

	bs := NewBlocksStore(s)
	for _, want := range []*blockchain.Block{genesis, b1, b2} {
		got, ok := bs.BlockAt(want.Number)
		if !ok || got.Hash != want.Hash {
			t.Fatalf("BlockAt(%d) = %v, %v; want %v", want.Number, got, ok, want.Hash)
		}
	}
	if tip := bs.Tip(); tip != b2.Blockstamp() {
		t.Fatalf("Tip = %v, want %v", tip, b2.Blockstamp())
	}
}

func newTestEngine(t *testing.T) *blockchain.Engine {
	t.Helper()
	router := busrouter.New(nil, time.Minute, nil, nil)
	router.Run()
	e := blockchain.NewEngine(nil, router, noopNetworkAdapter{}, alwaysVerifier{}, noopProtocol{}, nil, blockchain.EngineConfig{
		Self:             "blockchain",
		NetworkModule:    "network",
		ChunkSize:        250,
		MaxBlocksRequest: 500,
		MaxForkSlots:     10,
		ForkTolerance:    30,
		ConsensusPoll:    time.Second,
		StackUpInterval:  time.Second,
		CertValiditySecs: 1000,
	})
	if err := e.Register(nil, nil); err != nil {
		t.Fatalf("register engine: %v", err)
	}
	return e
}
