package blockchain

import "testing"

func TestApplyRevertDuality(t *testing.T) {
	wot := NewWoT(nil)
	expiry := NewCertExpiryIndex()
	currency := NewCurrencyLedger()
	mainChain := NewMainChain()
	applier := NewApplier(nil, wot, expiry, currency, mainChain, 1000)

	genesis := &Block{Number: 0, Hash: BlockHash{0}}
	if err := applier.Apply(applier.BuildApplyReqs(genesis, true)); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	pkAlice := PublicKey{1}
	b1 := &Block{
		Number:         1,
		PreviousHash:   genesis.Hash,
		Hash:            BlockHash{1},
		MedianTime:     1000,
		DividendAmount: 0,
		Identities:     []IdentityDoc{{PublicKey: pkAlice, UID: "alice"}},
	}
	reqs := applier.BuildApplyReqs(b1, true)
	if err := applier.Apply(reqs); err != nil {
		t.Fatalf("apply b1: %v", err)
	}
	if !wot.IsActive(pkAlice) {
		t.Fatal("expected alice to be active after applying b1")
	}
	activeBefore := wot.ActiveCount()
	massBefore := currency.MonetaryMass()

	if err := applier.Revert(reqs); err != nil {
		t.Fatalf("revert b1: %v", err)
	}
	if wot.IsActive(pkAlice) {
		t.Fatal("expected alice to no longer be active after reverting b1")
	}
	if currency.MonetaryMass() != massBefore {
		t.Fatalf("monetary mass changed across revert: before=%d after=%d", massBefore, currency.MonetaryMass())
	}
	_ = activeBefore
}

func TestApplyDividendCreditAndRevert(t *testing.T) {
	wot := NewWoT(nil)
	expiry := NewCertExpiryIndex()
	currency := NewCurrencyLedger()
	mainChain := NewMainChain()
	applier := NewApplier(nil, wot, expiry, currency, mainChain, 1000)

	pk := PublicKey{7}
	wot.AddIdentity(Identity{PublicKey: pk, UID: "bob"})

	b := &Block{Number: 1, Hash: BlockHash{1}, DividendAmount: 100}
	reqs := applier.BuildApplyReqs(b, true)
	if err := applier.Apply(reqs); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if currency.MonetaryMass() != 100 {
		t.Fatalf("monetary mass = %d, want 100", currency.MonetaryMass())
	}
	if err := applier.Revert(reqs); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if currency.MonetaryMass() != 0 {
		t.Fatalf("monetary mass after revert = %d, want 0", currency.MonetaryMass())
	}
}
