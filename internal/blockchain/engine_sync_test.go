package blockchain

import (
	"context"
	"testing"
)

func TestEngineSyncAppliesChunkSourceToOwnMainChain(t *testing.T) {
	e := newTestEngine(t)

	genesis := makeChainBlock(0, BlockHash{})
	b1 := makeChainBlock(1, genesis.Hash)
	b2 := makeChainBlock(2, b1.Hash)
	source := &fakeChunkSource{chunks: map[int][]*Block{0: {genesis, b1, b2}}}

	result, err := e.Sync(context.Background(), source, HashCautious, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.BlocksApplied != 3 {
		t.Fatalf("BlocksApplied = %d, want 3", result.BlocksApplied)
	}
	if e.Tip().Number != 2 {
		t.Fatalf("Tip().Number = %d, want 2", e.Tip().Number)
	}

	got, ok := e.BlockAt(1)
	if !ok || got.Hash != b1.Hash {
		t.Fatalf("BlockAt(1) = %v, %v; want %v", got, ok, b1.Hash)
	}
}

func TestEngineIdentityDistanceReportsUnknownKey(t *testing.T) {
	e := newTestEngine(t)

	if _, _, known := e.IdentityDistance(PublicKey{42}); known {
		t.Fatal("IdentityDistance should report unknown for a key never seen in a block")
	}
}

func TestEngineIdentityDistanceReportsKnownIdentity(t *testing.T) {
	e := newTestEngine(t)

	pk := PublicKey{7}
	genesis := &Block{Number: 0, Hash: BlockHash{1}, Identities: []IdentityDoc{{PublicKey: pk, UID: "alice"}}}
	if err := e.LoadBlock(genesis, true); err != nil {
		t.Fatalf("LoadBlock: %v", err)
	}
	if err := e.LoadTip(genesis.Blockstamp()); err != nil {
		t.Fatalf("LoadTip: %v", err)
	}
	if err := e.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if _, _, known := e.IdentityDistance(pk); !known {
		t.Fatal("IdentityDistance should report known for an identity reconciled from a loaded block")
	}
}
