// Package blockchain implements the state machine of §4: block validation,
// apply/revert, fork management and bulk sync, in the shape of
// chain_fork_manager.go / blockchain_synchronization.go / ledger.go.
package blockchain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// BlockNumber is an unsigned 32-bit block height, per §3.
type BlockNumber uint32

// BlockHash is the content-addressed digest of a block's canonical text
// plus its nonce (the "outer hash", §3).
type BlockHash [32]byte

func (h BlockHash) String() string { return fmt.Sprintf("%x", h[:]) }

// MarshalText renders the hash as hex, so JSON encoding (and use as a map
// key) produces a readable wire value instead of a byte array.
func (h BlockHash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText parses a hex-encoded hash.
func (h *BlockHash) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("blockhash: %w", err)
	}
	if len(decoded) != len(h) {
		return fmt.Errorf("blockhash: want %d bytes, got %d", len(h), len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// Blockstamp is the pair (BlockNumber, BlockHash) identifying a block
// unambiguously, per §3 and the GLOSSARY.
type Blockstamp struct {
	Number BlockNumber
	Hash   BlockHash
}

func (s Blockstamp) String() string { return fmt.Sprintf("%d-%s", s.Number, s.Hash) }

// PublicKey is an issuer or certifier's verifying key. Crypto primitives
// are an external collaborator per §1; this package only ever compares and
// hashes keys, never generates or verifies signatures directly except
// through the Verifier interface in validate.go.
type PublicKey [32]byte

func (k PublicKey) String() string { return fmt.Sprintf("%x", k[:]) }

// MarshalText renders the key as hex, so JSON encoding (and use as a map
// key, as ResponseContent.UIDs does) produces a readable wire value.
func (k PublicKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a hex-encoded key.
func (k *PublicKey) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("publickey: %w", err)
	}
	if len(decoded) != len(k) {
		return fmt.Errorf("publickey: want %d bytes, got %d", len(k), len(decoded))
	}
	copy(k[:], decoded)
	return nil
}

// Block is the protocol document of §3. Only the fields the engine's
// validation/apply/fork/sync pipelines actually touch are modeled; document
// grammar and the remaining protocol-specific fields are the document
// parser's concern (§1, out of scope).
type Block struct {
	Version      uint32
	Number       BlockNumber
	Currency     string
	Time         int64
	MedianTime   int64
	Issuer       PublicKey
	Signature    []byte
	Issuers      []PublicKey // for multi-issuer blocks
	Signatures   [][]byte
	PreviousHash BlockHash
	PreviousIssuer PublicKey
	InnerHash    BlockHash // declared inner hash, from the wire
	Hash         BlockHash // declared outer hash, from the wire
	Nonce        string
	DividendAmount uint64 // 0 means no dividend this block
	UnitBase     uint32
	IssuersCount uint32
	IssuersFrame uint32
	IssuersFrameVar int32
	MembersCount uint32
	MonetaryMass uint64

	Identities     []IdentityDoc
	Joiners        []MembershipDoc
	Actives        []MembershipDoc
	Leavers        []MembershipDoc
	Revoked        []RevocationDoc
	Excluded       []PublicKey
	Certifications []CertificationDoc
	Transactions   []TransactionDoc
}

// Blockstamp returns this block's identifying pair using its declared hash.
func (b *Block) Blockstamp() Blockstamp {
	return Blockstamp{Number: b.Number, Hash: b.Hash}
}

// innerCanonical returns the canonical byte representation used for the
// inner hash: every field except the nonce. The exact on-wire grammar is
// the document parser's concern (§1); this is a stable, order-preserving
// encoding sufficient for hashing and equality checks within the engine.
func (b *Block) innerCanonical() []byte {
	buf := make([]byte, 0, 256)
	var tmp [8]byte
	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(tmp[:4], v)
		buf = append(buf, tmp[:4]...)
	}
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(tmp[:8], v)
		buf = append(buf, tmp[:8]...)
	}
	putI64 := func(v int64) { putU64(uint64(v)) }

	putU32(b.Version)
	putU32(uint32(b.Number))
	buf = append(buf, []byte(b.Currency)...)
	putI64(b.Time)
	putI64(b.MedianTime)
	buf = append(buf, b.Issuer[:]...)
	buf = append(buf, b.PreviousHash[:]...)
	buf = append(buf, b.PreviousIssuer[:]...)
	putU64(b.DividendAmount)
	putU32(b.UnitBase)
	putU32(b.IssuersCount)
	putU32(b.IssuersFrame)
	putU32(b.MembersCount)
	putU64(b.MonetaryMass)

	for _, idty := range b.Identities {
		buf = append(buf, idty.PublicKey[:]...)
		buf = append(buf, []byte(idty.UID)...)
	}
	for _, c := range b.Certifications {
		buf = append(buf, c.From[:]...)
		buf = append(buf, c.To[:]...)
		putU32(uint32(c.BlockNumber))
	}
	for _, tx := range b.Transactions {
		buf = append(buf, []byte(tx.ID)...)
	}
	return buf
}

// InnerHashRecomputed recomputes the inner hash from canonical content,
// per §4.3 check 1.
func (b *Block) InnerHashRecomputed() BlockHash {
	return sha256.Sum256(b.innerCanonical())
}

// OuterHashFrom recomputes the outer hash (inner hash + nonce string) from
// a given inner hash, per §3's "digest of the textual inner representation
// plus nonce".
func OuterHashFrom(inner BlockHash, nonce string) BlockHash {
	buf := append(append([]byte{}, inner[:]...), []byte(nonce)...)
	return sha256.Sum256(buf)
}
