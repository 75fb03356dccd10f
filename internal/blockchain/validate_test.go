package blockchain

import "testing"

type alwaysVerifier struct{ ok bool }

func (a alwaysVerifier) Verify(PublicKey, []byte, []byte) bool { return a.ok }

type noopProtocol struct{}

func (noopProtocol) IssuerEligible(*Block) error                       { return nil }
func (noopProtocol) CertificationTargetsActive(*Block, *WoT) error     { return nil }
func (noopProtocol) DividendMatchesSchedule(*Block) error              { return nil }
func (noopProtocol) TransactionsSettle(*Block) error                   { return nil }

func buildValidBlock() *Block {
	b := &Block{Number: 0, Currency: "test_currency", Nonce: "n", PreviousHash: BlockHash{0}}
	inner := b.InnerHashRecomputed()
	b.InnerHash = inner
	b.Hash = OuterHashFrom(inner, b.Nonce)
	return b
}

func TestValidateAcceptsGoodSignature(t *testing.T) {
	b := buildValidBlock()
	v := NewValidator(nil, alwaysVerifier{ok: true}, noopProtocol{}, &MainChain{})
	link := NewMainChain()
	res := v.Validate(b, NewWoT(nil), link, HashCautious, link.OnMainChain)
	if res.Outcome != Accepted {
		t.Fatalf("Outcome = %v, want Accepted (err=%v)", res.Outcome, res.Err)
	}
}

func TestValidateRejectsBadSignature(t *testing.T) {
	b := buildValidBlock()
	v := NewValidator(nil, alwaysVerifier{ok: false}, noopProtocol{}, &MainChain{})
	link := NewMainChain()
	res := v.Validate(b, NewWoT(nil), link, HashCautious, link.OnMainChain)
	if res.Outcome != Invalid {
		t.Fatalf("Outcome = %v, want Invalid", res.Outcome)
	}
}

func TestValidateRejectsHashMismatch(t *testing.T) {
	b := buildValidBlock()
	b.Hash[0] ^= 0xFF // corrupt the declared outer hash
	v := NewValidator(nil, alwaysVerifier{ok: true}, noopProtocol{}, &MainChain{})
	link := NewMainChain()
	res := v.Validate(b, NewWoT(nil), link, HashCautious, link.OnMainChain)
	if res.Outcome != Invalid {
		t.Fatalf("Outcome = %v, want Invalid", res.Outcome)
	}
}
