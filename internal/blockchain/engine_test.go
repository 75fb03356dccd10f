package blockchain

import (
	"time"

	"testing"

	"github.com/duniter-go/node/internal/busrouter"
)

type noopNetworkAdapter struct{}

func (noopNetworkAdapter) SendRequest(busrouter.Message) {}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	router := busrouter.New(nil, time.Minute, nil, nil)
	router.Run()
	e := NewEngine(nil, router, noopNetworkAdapter{}, alwaysVerifier{ok: true}, noopProtocol{}, nil, EngineConfig{
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

func TestReconcileReplaysWotAfterUncleanShutdown(t *testing.T) {
	e := newTestEngine(t)

	genesis := &Block{Number: 0, Hash: BlockHash{0}}
	pk := PublicKey{9}
	b1 := &Block{
		Number:       1,
		PreviousHash: genesis.Hash,
		Hash:         BlockHash{1},
		Identities:   []IdentityDoc{{PublicKey: pk, UID: "carol"}},
	}

	// Simulate the blocks namespace having already persisted both blocks
	// while WoT/currency never ran (an unclean shutdown mid-write).
	if err := e.mainChain.PutBlock(genesis, true); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	if err := e.mainChain.SetTip(genesis.Blockstamp()); err != nil {
		t.Fatalf("set tip: %v", err)
	}
	if err := e.mainChain.PutBlock(b1, true); err != nil {
		t.Fatalf("put b1: %v", err)
	}
	if err := e.mainChain.SetTip(b1.Blockstamp()); err != nil {
		t.Fatalf("set tip: %v", err)
	}

	if wot := e.wot; wot.IsActive(pk) {
		t.Fatal("identity should not be active before Reconcile runs")
	}

	if err := e.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if !e.wot.IsActive(pk) {
		t.Fatal("expected identity active after Reconcile replays b1's WoT writes")
	}
	last, ok := e.applier.LastApplied()
	if !ok || last != 1 {
		t.Fatalf("LastApplied = (%d, %v), want (1, true)", last, ok)
	}

	// Running Reconcile again must be a no-op, not double-apply.
	if err := e.Reconcile(); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
}

func TestIngestBlockAcceptsGenesisAndAdvancesTip(t *testing.T) {
	e := newTestEngine(t)
	genesis := &Block{Number: 0, Currency: "test_currency", Nonce: "n", PreviousHash: BlockHash{0}}
	inner := genesis.InnerHashRecomputed()
	genesis.InnerHash = inner
	genesis.Hash = OuterHashFrom(inner, genesis.Nonce)

	e.IngestBlock(genesis, HashCautious)

	if e.mainChain.Tip().Number != 0 {
		t.Fatalf("tip number = %d, want 0", e.mainChain.Tip().Number)
	}
	if last, ok := e.applier.LastApplied(); !ok || last != 0 {
		t.Fatalf("LastApplied = (%d, %v), want (0, true)", last, ok)
	}
}
