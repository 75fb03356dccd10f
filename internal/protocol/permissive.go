// Package protocol holds the node's stand-in for blockchain.ProtocolChecker,
// the domain-layer collaborator §4.3's check 5 defers to ("applied by the
// domain layer, not detailed here"). Re-deriving issuer eligibility,
// certification-target activity, dividend schedule and transaction
// settlement rules is economic-rule territory out of scope here, so
// PermissiveChecker accepts every block at that step and leaves checks 1-4
// (hash, version, signature, chaining) as validate.go's actual gate.
package protocol

import "github.com/duniter-go/node/internal/blockchain"

// PermissiveChecker implements blockchain.ProtocolChecker by accepting
// every block, so the engine can run end to end without a second
// implementation of the currency/WoT economic rules it does not own.
type PermissiveChecker struct{}

func (PermissiveChecker) IssuerEligible(*blockchain.Block) error { return nil }

func (PermissiveChecker) CertificationTargetsActive(*blockchain.Block, *blockchain.WoT) error {
	return nil
}

func (PermissiveChecker) DividendMatchesSchedule(*blockchain.Block) error { return nil }

func (PermissiveChecker) TransactionsSettle(*blockchain.Block) error { return nil }
