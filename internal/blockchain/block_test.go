package blockchain

import "testing"

func TestOuterHashRoundTrip(t *testing.T) {
	b := &Block{Number: 1, Currency: "test_currency", Nonce: "12345"}
	inner := b.InnerHashRecomputed()
	outer := OuterHashFrom(inner, b.Nonce)
	b.InnerHash = inner
	b.Hash = outer

	if OuterHashFrom(b.InnerHashRecomputed(), b.Nonce) != b.Hash {
		t.Fatal("outer hash does not round-trip from recomputed inner hash")
	}
}

func TestBlockstampUsesDeclaredHash(t *testing.T) {
	var want BlockHash
	want[0] = 0xAB
	b := &Block{Number: 42, Hash: want}
	if got := b.Blockstamp(); got.Hash != want || got.Number != 42 {
		t.Fatalf("Blockstamp() = %+v, want Number=42 Hash=%x", got, want)
	}
}
