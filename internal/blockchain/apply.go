package blockchain

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/pkg/errs"
)

// WriteQuery is one pure database write and its inverse, per §4.3's
// "ValidBlockApplyReqs... composed of three sequences of pure database
// writes". In the shape of ledger.go's small, named, independently
// undoable state transitions (AppendSubBlock / AddBlock paired with
// revert-capable bookkeeping), generalized into an explicit Do/Undo pair
// so roll-back (§4.4) can unwind partial application.
type WriteQuery struct {
	Desc string
	Do   func() error
	Undo func() error
}

// ApplyReqs is the three-way write split of §4.3/§4.6: blocks, WoT,
// currency. Namespaces are applied and reverted independently; the engine
// only relies on ordering within, not across, namespaces.
type ApplyReqs struct {
	Blocks   []WriteQuery
	Wot      []WriteQuery
	Currency []WriteQuery
}

// BlocksStore is the blocks namespace collaborator (§4.6): persist to main
// chain or a fork slot, and update the slot-0 tip mapping.
type BlocksStore interface {
	PutBlock(b *Block, onMain bool) error
	RemoveBlock(bs Blockstamp, onMain bool) error
	SetTip(bs Blockstamp) error
}

// txOutputRef names one UTXO inside the in-memory currency ledger.
type txOutputRef struct {
	txID  string
	index int
}

// CurrencyLedger is the monetary-state collaborator of §3: unspent
// transaction outputs plus a running monetary mass, consumed/produced by
// transactions and credited by the dividend schedule. Grounded on the
// ledger.go's MintBig / AddBlock bookkeeping, generalized from a single
// balance map into an unspent-output set per §3's "set of unspent
// transaction outputs".
type CurrencyLedger struct {
	mu           sync.Mutex
	outputs      map[txOutputRef]TxOutput
	monetaryMass uint64
}

func NewCurrencyLedger() *CurrencyLedger {
	return &CurrencyLedger{outputs: make(map[txOutputRef]TxOutput)}
}

func (c *CurrencyLedger) MonetaryMass() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monetaryMass
}

func (c *CurrencyLedger) credit(pk PublicKey, amount uint64, sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[txOutputRef{txID: sourceID, index: 0}] = TxOutput{Recipient: pk, Amount: amount}
	c.monetaryMass += amount
}

func (c *CurrencyLedger) revertCredit(amount uint64, sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.outputs, txOutputRef{txID: sourceID, index: 0})
	c.monetaryMass -= amount
}

func (c *CurrencyLedger) consume(ref txOutputRef) (TxOutput, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.outputs[ref]
	if !ok {
		return TxOutput{}, false
	}
	delete(c.outputs, ref)
	return out, true
}

func (c *CurrencyLedger) restore(ref txOutputRef, out TxOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[ref] = out
}

func (c *CurrencyLedger) produce(ref txOutputRef, out TxOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[ref] = out
}

func (c *CurrencyLedger) unproduce(ref txOutputRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.outputs, ref)
}

// Applier builds and runs the write-query triples for a block, per
// §4.3/§4.6.
type Applier struct {
	log      *logrus.Logger
	wot      *WoT
	expiry   *CertExpiryIndex
	currency *CurrencyLedger
	blocks   BlocksStore

	certValiditySecs int64

	mu          sync.Mutex
	lastApplied BlockNumber
	hasApplied  bool
}

func NewApplier(log *logrus.Logger, wot *WoT, expiry *CertExpiryIndex, currency *CurrencyLedger, blocks BlocksStore, certValiditySecs int64) *Applier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Applier{log: log, wot: wot, expiry: expiry, currency: currency, blocks: blocks, certValiditySecs: certValiditySecs}
}

// MarkApplied records n as the highest block number whose WoT/Currency
// writes are known committed, per §4.6(a)'s reconciliation marker.
func (a *Applier) MarkApplied(n BlockNumber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasApplied || n > a.lastApplied {
		a.lastApplied = n
		a.hasApplied = true
	}
}

// LastApplied reports the marker MarkApplied last advanced, if any.
func (a *Applier) LastApplied() (BlockNumber, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastApplied, a.hasApplied
}

// DrainExpired pulls every certification edge CertExpiryIndex has scheduled
// at or before medianTime and removes the ones whose validity horizon has
// actually passed, per §4.5 step 2's sliding window of batch-expiring
// certifications and §8 property 5. Called once per applied main-chain
// block, keyed off that block's own median_time.
func (a *Applier) DrainExpired(medianTime int64) []Edge {
	due := a.expiry.Due(medianTime)
	if len(due) == 0 {
		return nil
	}
	return a.wot.ExpireAt(due, medianTime)
}

// BuildApplyReqs produces the descriptor of pure writes a validated block
// implies, without running them, per §4.3.
func (a *Applier) BuildApplyReqs(b *Block, onMain bool) ApplyReqs {
	reqs := ApplyReqs{}

	bs := b.Blockstamp()
	prevBS := Blockstamp{Number: b.Number - 1, Hash: b.PreviousHash}
	reqs.Blocks = append(reqs.Blocks, WriteQuery{
		Desc: fmt.Sprintf("put block %s", bs),
		Do:   func() error { return a.blocks.PutBlock(b, onMain) },
		Undo: func() error { return a.blocks.RemoveBlock(bs, onMain) },
	})
	if onMain {
		reqs.Blocks = append(reqs.Blocks, WriteQuery{
			Desc: fmt.Sprintf("advance tip to %s", bs),
			Do:   func() error { return a.blocks.SetTip(bs) },
			Undo: func() error { return a.blocks.SetTip(prevBS) },
		})
	}

	for _, idty := range b.Identities {
		idty := idty
		id := Identity{PublicKey: idty.PublicKey, UID: idty.UID, CreatedOn: idty.CreatedOn, Status: StatusPending}
		var idx NodeIndex
		reqs.Wot = append(reqs.Wot, WriteQuery{
			Desc: fmt.Sprintf("register identity %s", idty.UID),
			Do:   func() error { idx = a.wot.AddIdentity(id); return nil },
			Undo: func() error { a.wot.RemoveIdentity(idty.PublicKey, StatusPending); return nil },
		})
		_ = idx
	}
	for _, m := range b.Joiners {
		m := m
		id := Identity{PublicKey: m.PublicKey, UID: m.UID, CreatedOn: m.BlockID, Status: StatusActive}
		reqs.Wot = append(reqs.Wot, WriteQuery{
			Desc: fmt.Sprintf("activate membership %s", m.UID),
			Do:   func() error { a.wot.AddIdentity(id); return nil },
			Undo: func() error { a.wot.RemoveIdentity(m.PublicKey, StatusPending); return nil },
		})
	}
	for _, r := range b.Revoked {
		r := r
		reqs.Wot = append(reqs.Wot, WriteQuery{
			Desc: fmt.Sprintf("revoke identity %s", r.UID),
			Do:   func() error { a.wot.RemoveIdentity(r.PublicKey, StatusRevoked); return nil },
			Undo: func() error { a.wot.AddIdentity(Identity{PublicKey: r.PublicKey, UID: r.UID, Status: StatusActive}); return nil },
		})
	}
	for _, pk := range b.Excluded {
		pk := pk
		reqs.Wot = append(reqs.Wot, WriteQuery{
			Desc: "exclude identity",
			Do:   func() error { a.wot.RemoveIdentity(pk, StatusExcluded); return nil },
			Undo: func() error { a.wot.AddIdentity(Identity{PublicKey: pk, Status: StatusActive}); return nil },
		})
	}
	for _, c := range b.Certifications {
		c := c
		expireAt := b.MedianTime + a.certValiditySecs
		reqs.Wot = append(reqs.Wot, WriteQuery{
			Desc: "add certification",
			Do: func() error {
				from, ok1 := a.wot.NodeIndexOf(c.From)
				to, ok2 := a.wot.NodeIndexOf(c.To)
				if !ok1 || !ok2 {
					return errs.Wrap(errs.ErrInvalidBlock, "certification references unknown identity")
				}
				cert := Certification{IssuedAt: c.BlockNumber, IssuedAtTime: b.MedianTime, ValiditySecs: a.certValiditySecs}
				a.wot.AddCertification(from, to, cert)
				a.expiry.Schedule(expireAt, Edge{From: from, To: to})
				return nil
			},
			Undo: func() error {
				from, ok1 := a.wot.NodeIndexOf(c.From)
				to, ok2 := a.wot.NodeIndexOf(c.To)
				if ok1 && ok2 {
					a.wot.RemoveCertification(from, to)
					a.expiry.Unschedule(expireAt, Edge{From: from, To: to})
				}
				return nil
			},
		})
	}

	if b.DividendAmount > 0 {
		for _, id := range a.wot.ActiveIdentities() {
			id := id
			sourceID := fmt.Sprintf("ud:%d:%x", b.Number, id.PublicKey[:8])
			reqs.Currency = append(reqs.Currency, WriteQuery{
				Desc: fmt.Sprintf("credit dividend to %s", id.UID),
				Do:   func() error { a.currency.credit(id.PublicKey, b.DividendAmount, sourceID); return nil },
				Undo: func() error { a.currency.revertCredit(b.DividendAmount, sourceID); return nil },
			})
		}
	}

	for _, tx := range b.Transactions {
		tx := tx
		for _, in := range tx.Inputs {
			in := in
			ref := txOutputRef{txID: in.Source, index: 0}
			var consumed TxOutput
			reqs.Currency = append(reqs.Currency, WriteQuery{
				Desc: fmt.Sprintf("consume input %s", in.Source),
				Do: func() error {
					out, ok := a.currency.consume(ref)
					if !ok {
						return errs.Wrap(errs.ErrInvalidBlock, "transaction references unknown or spent source")
					}
					consumed = out
					return nil
				},
				Undo: func() error { a.currency.restore(ref, consumed); return nil },
			})
		}
		for i, out := range tx.Outputs {
			out := out
			ref := txOutputRef{txID: tx.ID, index: i}
			reqs.Currency = append(reqs.Currency, WriteQuery{
				Desc: fmt.Sprintf("create output %s:%d", tx.ID, i),
				Do:   func() error { a.currency.produce(ref, out); return nil },
				Undo: func() error { a.currency.unproduce(ref); return nil },
			})
		}
	}

	return reqs
}

// Apply runs reqs in the normal path's order: WoT, then currency, then
// blocks last, per §4.6(a) — "writing blocks last in the normal path, so a
// crash mid-write leaves WoT/currency ahead of blocks and reconciliation on
// restart replays from the block tip". On failure it unwinds whatever
// already succeeded, in reverse, and returns the originating error.
func (a *Applier) Apply(reqs ApplyReqs) error {
	var done []WriteQuery
	run := func(qs []WriteQuery) error {
		for _, q := range qs {
			if err := q.Do(); err != nil {
				return err
			}
			done = append(done, q)
		}
		return nil
	}
	if err := run(reqs.Wot); err != nil {
		a.unwind(done)
		return errs.Wrap(err, "apply wot writes")
	}
	if err := run(reqs.Currency); err != nil {
		a.unwind(done)
		return errs.Wrap(err, "apply currency writes")
	}
	if err := run(reqs.Blocks); err != nil {
		a.unwind(done)
		return errs.Wrap(err, "apply blocks writes")
	}
	return nil
}

func (a *Applier) unwind(done []WriteQuery) {
	for i := len(done) - 1; i >= 0; i-- {
		if err := done[i].Undo(); err != nil {
			a.log.WithError(err).WithField("write", done[i].Desc).Warn("blockchain: failed to unwind partial apply")
		}
	}
}

// Revert undoes reqs in the order §4.4's roll-back procedure specifies:
// currency, then WoT, then blocks.
func (a *Applier) Revert(reqs ApplyReqs) error {
	for i := len(reqs.Currency) - 1; i >= 0; i-- {
		if err := reqs.Currency[i].Undo(); err != nil {
			return errs.Wrap(err, "revert currency writes")
		}
	}
	for i := len(reqs.Wot) - 1; i >= 0; i-- {
		if err := reqs.Wot[i].Undo(); err != nil {
			return errs.Wrap(err, "revert wot writes")
		}
	}
	for i := len(reqs.Blocks) - 1; i >= 0; i-- {
		if err := reqs.Blocks[i].Undo(); err != nil {
			return errs.Wrap(err, "revert blocks writes")
		}
	}
	return nil
}
