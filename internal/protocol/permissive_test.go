package protocol

import (
	"testing"

	"github.com/duniter-go/node/internal/blockchain"
)

func TestPermissiveCheckerAcceptsEveryBlock(t *testing.T) {
	c := PermissiveChecker{}
	b := &blockchain.Block{Number: 1}
	w := blockchain.NewWoT(nil)

	if err := c.IssuerEligible(b); err != nil {
		t.Fatalf("IssuerEligible: %v", err)
	}
	if err := c.CertificationTargetsActive(b, w); err != nil {
		t.Fatalf("CertificationTargetsActive: %v", err)
	}
	if err := c.DividendMatchesSchedule(b); err != nil {
		t.Fatalf("DividendMatchesSchedule: %v", err)
	}
	if err := c.TransactionsSettle(b); err != nil {
		t.Fatalf("TransactionsSettle: %v", err)
	}
}
