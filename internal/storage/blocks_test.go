package storage

import (
	"path/filepath"
	"testing"

	"github.com/duniter-go/node/internal/blockchain"
)

func TestBlocksStorePutGetAndTip(t *testing.T) {
	s, err := Open(nil, filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	bs := NewBlocksStore(s)

	genesis := &blockchain.Block{Number: 0, Currency: "test_currency", Hash: blockchain.BlockHash{1}}
	if err := bs.PutBlock(genesis, true); err != nil {
		t.Fatalf("PutBlock genesis: %v", err)
	}
	if err := bs.SetTip(genesis.Blockstamp()); err != nil {
		t.Fatalf("SetTip: %v", err)
	}

	block1 := &blockchain.Block{Number: 1, Currency: "test_currency", PreviousHash: genesis.Hash, Hash: blockchain.BlockHash{2}}
	if err := bs.PutBlock(block1, true); err != nil {
		t.Fatalf("PutBlock block1: %v", err)
	}
	if err := bs.SetTip(block1.Blockstamp()); err != nil {
		t.Fatalf("SetTip: %v", err)
	}

	if got := bs.Tip(); got != block1.Blockstamp() {
		t.Fatalf("Tip = %v, want %v", got, block1.Blockstamp())
	}
	if got := bs.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	got, ok := bs.BlockAt(1)
	if !ok {
		t.Fatal("BlockAt(1) not found")
	}
	if got.Hash != block1.Hash || got.Currency != "test_currency" {
		t.Fatalf("BlockAt(1) = %+v, want matching block1", got)
	}

	if !bs.OnMainChain(block1.Blockstamp()) {
		t.Fatal("expected block1 on main chain")
	}
	if !bs.OnMainChain(blockchain.Blockstamp{}) {
		t.Fatal("expected the zero blockstamp (genesis's implicit parent) on main chain")
	}
	if bs.OnMainChain(blockchain.Blockstamp{Number: 1, Hash: blockchain.BlockHash{9}}) {
		t.Fatal("expected mismatched hash at number 1 to not be on main chain")
	}

	if v, ok := bs.VersionAt(0); !ok || v != genesis.Version {
		t.Fatalf("VersionAt(0) = (%d, %v), want (%d, true)", v, ok, genesis.Version)
	}
	if _, ok := bs.VersionAt(5); ok {
		t.Fatal("VersionAt(5) should not be found")
	}
}

func TestBlocksStoreRemoveBlock(t *testing.T) {
	s, err := Open(nil, filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	bs := NewBlocksStore(s)
	b := &blockchain.Block{Number: 3, Hash: blockchain.BlockHash{7}}
	if err := bs.PutBlock(b, true); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	if err := bs.RemoveBlock(b.Blockstamp(), true); err != nil {
		t.Fatalf("RemoveBlock: %v", err)
	}
	if _, ok := bs.BlockAt(3); ok {
		t.Fatal("expected block removed")
	}
}

func TestBlocksStoreIgnoresForkBlocks(t *testing.T) {
	s, err := Open(nil, filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	bs := NewBlocksStore(s)
	forkBlock := &blockchain.Block{Number: 1, Hash: blockchain.BlockHash{4}}
	if err := bs.PutBlock(forkBlock, false); err != nil {
		t.Fatalf("PutBlock onMain=false: %v", err)
	}
	if _, ok := bs.BlockAt(1); ok {
		t.Fatal("fork-slot blocks must not land in the main blockchain namespace")
	}
}

func TestBlocksIteratesAscendingSkippingTipKey(t *testing.T) {
	s, err := Open(nil, filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	bs := NewBlocksStore(s)
	for n := blockchain.BlockNumber(0); n <= 2; n++ {
		b := &blockchain.Block{Number: n, Hash: blockchain.BlockHash{byte(n + 1)}}
		if err := bs.PutBlock(b, true); err != nil {
			t.Fatalf("PutBlock %d: %v", n, err)
		}
	}
	if err := bs.SetTip((&blockchain.Block{Number: 2}).Blockstamp()); err != nil {
		t.Fatalf("SetTip: %v", err)
	}

	var seen []blockchain.BlockNumber
	err = bs.Blocks(func(b *blockchain.Block) error {
		seen = append(seen, b.Number)
		return nil
	})
	if err != nil {
		t.Fatalf("Blocks: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("got %d blocks, want 3: %v", len(seen), seen)
	}
	for i, n := range seen {
		if n != blockchain.BlockNumber(i) {
			t.Fatalf("blocks not in ascending order: %v", seen)
		}
	}
}
