package blockchain

import (
	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/pkg/errs"
)

// Verifier is the external cryptographic collaborator (§1: "cryptographic
// signing/verification" is out of scope, interface-only). The engine never
// generates keys or signs; it only asks whether a signature over a byte
// string verifies against a public key.
type Verifier interface {
	Verify(pubKey PublicKey, sig, data []byte) bool
}

// ProtocolChecker is the domain-layer collaborator for §4.3 check 5
// ("applied by the domain layer, not detailed here"): issuer eligibility,
// certification target activity, dividend schedule and transaction script
// success. Kept as a narrow interface so validate.go stays about sequencing
// checks, not re-deriving economic rules.
type ProtocolChecker interface {
	IssuerEligible(b *Block) error
	CertificationTargetsActive(b *Block, wot *WoT) error
	DividendMatchesSchedule(b *Block) error
	TransactionsSettle(b *Block) error
}

// ChainLinkage is what validate needs to know about where a candidate
// block's previous hash might attach: the main-chain tip, or a fork slot's
// head.
type ChainLinkage interface {
	Tip() Blockstamp
	ForkHead(previousHash BlockHash) (Blockstamp, bool)
}

// HashMode selects how much of §4.3 check 1 to run. Fast mode (used during
// sync's non-cautious path) skips inner-hash recomputation but still
// requires outer-hash equality; cautious mode runs both.
type HashMode int

const (
	HashCautious HashMode = iota
	HashFast
)

// PreviousBlockVersion is the version-monotonicity collaborator (§4.3 check
// 2): given a block number, report the previous block's declared version.
type PreviousBlockVersion interface {
	VersionAt(n BlockNumber) (uint32, bool)
}

// Validator runs the §4.3 acceptance pipeline, short-circuiting on the
// first failing check. In the shape of consensus.go's ValidatePoH /
// ValidatePoS ordered, independently-failing checks run before a block is
// sealed, generalized from proof-of-work sealing checks into the
// document-acceptance pipeline this system actually needs.
type Validator struct {
	log      *logrus.Logger
	verifier Verifier
	protocol ProtocolChecker
	versions PreviousBlockVersion
}

func NewValidator(log *logrus.Logger, v Verifier, p ProtocolChecker, pv PreviousBlockVersion) *Validator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Validator{log: log, verifier: v, protocol: p, versions: pv}
}

// Outcome classifies how the pipeline finished, per §4.3's "structured
// error distinguishing invalid / already known / unknown parent / fatal
// storage".
type Outcome int

const (
	Accepted Outcome = iota
	Invalid
	AlreadyKnown
	UnknownParent
)

// Result is the pipeline's verdict for one candidate block.
type Result struct {
	Outcome Outcome
	Err     error
}

// Validate runs checks 1-5 of §4.3 in order. link is consulted for check 3
// (chain linkage); mode controls how much of check 1 runs.
func (v *Validator) Validate(b *Block, wot *WoT, link ChainLinkage, mode HashMode, alreadyHave func(Blockstamp) bool) Result {
	log := v.log.WithField("block", b.Blockstamp().String())

	if alreadyHave != nil && alreadyHave(b.Blockstamp()) {
		return Result{Outcome: AlreadyKnown}
	}

	// Check 1: hash integrity.
	outerInput := b.InnerHash
	if mode == HashCautious {
		recomputed := b.InnerHashRecomputed()
		if recomputed != b.InnerHash {
			log.Warn("blockchain: inner hash mismatch")
			return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, "inner hash mismatch")}
		}
		outerInput = recomputed
	}
	if OuterHashFrom(outerInput, b.Nonce) != b.Hash {
		log.Warn("blockchain: outer hash mismatch")
		return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, "outer hash mismatch")}
	}

	// Check 2: version monotonicity.
	if b.Number > 0 && v.versions != nil {
		prevVersion, ok := v.versions.VersionAt(b.Number - 1)
		if !ok {
			return Result{Outcome: UnknownParent, Err: errs.Wrap(errs.ErrUnknownParent, "previous block not found")}
		}
		if prevVersion > b.Version {
			log.Warn("blockchain: version regression")
			return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, "version decreased from previous block")}
		}
	}

	// Check 3: chain linkage.
	if b.Number > 0 {
		tip := link.Tip()
		if b.PreviousHash != tip.Hash {
			if _, onFork := link.ForkHead(b.PreviousHash); !onFork {
				return Result{Outcome: UnknownParent, Err: errs.Wrap(errs.ErrUnknownParent, "previous hash matches neither tip nor any fork head")}
			}
		}
	}

	// Check 4: signature check.
	canonical := b.innerCanonical()
	if len(b.Issuers) > 0 {
		if len(b.Issuers) != len(b.Signatures) {
			return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, "issuers/signatures count mismatch")}
		}
		for i, issuer := range b.Issuers {
			if v.verifier == nil || !v.verifier.Verify(issuer, b.Signatures[i], canonical) {
				log.Warn("blockchain: multi-issuer signature failed")
				return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, "signature verification failed")}
			}
		}
	} else {
		if v.verifier == nil || !v.verifier.Verify(b.Issuer, b.Signature, canonical) {
			log.Warn("blockchain: signature failed")
			return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, "signature verification failed")}
		}
	}

	// Check 5: protocol rules, delegated to the domain layer.
	if v.protocol != nil {
		if err := v.protocol.IssuerEligible(b); err != nil {
			return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, err.Error())}
		}
		if err := v.protocol.CertificationTargetsActive(b, wot); err != nil {
			return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, err.Error())}
		}
		if err := v.protocol.DividendMatchesSchedule(b); err != nil {
			return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, err.Error())}
		}
		if err := v.protocol.TransactionsSettle(b); err != nil {
			return Result{Outcome: Invalid, Err: errs.Wrap(errs.ErrInvalidBlock, err.Error())}
		}
	}

	return Result{Outcome: Accepted}
}
