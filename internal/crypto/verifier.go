// Package crypto supplies the one concrete implementation of
// blockchain.Verifier the node ships with: stdlib ed25519 signature
// checking. Kept out of internal/blockchain so that package stays
// interface-only against its external cryptographic collaborator.
package crypto

import (
	"crypto/ed25519"

	"github.com/duniter-go/node/internal/blockchain"
)

// Ed25519Verifier implements blockchain.Verifier against stdlib ed25519.
type Ed25519Verifier struct{}

// Verify reports whether sig is a valid ed25519 signature by pubKey over
// data. A malformed (wrong-length) signature never verifies.
func (Ed25519Verifier) Verify(pubKey blockchain.PublicKey, sig, data []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey[:]), data, sig)
}
