package blockchain

import (
	"context"
	"testing"
)

type fakeChunkSource struct {
	chunks map[int][]*Block
}

func (f *fakeChunkSource) ChunkNumbers() ([]int, error) {
	out := make([]int, 0, len(f.chunks))
	for n := range f.chunks {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeChunkSource) ReadChunk(n int) ([]*Block, error) { return f.chunks[n], nil }

func makeChainBlock(n BlockNumber, prev BlockHash) *Block {
	var h BlockHash
	h[0] = byte(n)
	h[1] = byte(n >> 8)
	b := &Block{Number: n, PreviousHash: prev, Nonce: "0"}
	b.InnerHash = b.InnerHashRecomputed()
	b.Hash = OuterHashFrom(b.InnerHash, b.Nonce)
	return b
}

func TestSyncPipelineLinearImport(t *testing.T) {
	genesis := makeChainBlock(0, BlockHash{})
	b1 := makeChainBlock(1, genesis.Hash)
	b2 := makeChainBlock(2, b1.Hash)

	source := &fakeChunkSource{chunks: map[int][]*Block{0: {genesis, b1, b2}}}

	wot := NewWoT(nil)
	expiry := NewCertExpiryIndex()
	currency := NewCurrencyLedger()
	mainChain := NewMainChain()
	applier := NewApplier(nil, wot, expiry, currency, mainChain, 1000)
	validator := NewValidator(nil, alwaysVerifier{ok: true}, noopProtocol{}, mainChain)

	pipeline := NewSyncPipeline(nil, source, mainChain, wot, applier, validator)
	result, err := pipeline.Run(context.Background(), HashCautious, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BlocksApplied != 3 {
		t.Fatalf("BlocksApplied = %d, want 3", result.BlocksApplied)
	}
	if mainChain.Tip().Number != 2 {
		t.Fatalf("tip number = %d, want 2", mainChain.Tip().Number)
	}
}
