package blockchain

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/pkg/errs"
)

// ForkStatusKind is the classification of a fork slot, per §3.
type ForkStatusKind int

const (
	Free ForkStatusKind = iota
	Isolate
	Stackable
	RollBack
	TooOld
)

func (k ForkStatusKind) String() string {
	switch k {
	case Free:
		return "Free"
	case Isolate:
		return "Isolate"
	case Stackable:
		return "Stackable"
	case RollBack:
		return "RollBack"
	case TooOld:
		return "TooOld"
	default:
		return "Unknown"
	}
}

// ForkStatus is a slot's classification result, per §3's "Fork status".
type ForkStatus struct {
	Kind           ForkStatusKind
	AlreadyChecked bool
	CommonBlockID  BlockNumber // valid when Kind == RollBack
}

// forkSlot holds one alternative subchain, keyed by each block's parent
// blockstamp pointing at the block extending it — exactly the "keyed by its
// parent blockstamp -> its block hash" shape §3 specifies, generalized to
// store the full block rather than just its hash, since roll-back/stack-up
// need the block bodies to re-apply.
type forkSlot struct {
	byParent       map[Blockstamp]*Block
	head           Blockstamp
	earliestParent Blockstamp
	status         ForkStatus
}

// headParent returns the blockstamp the slot's head block itself extends,
// as opposed to earliestParent, which is the slot's divergence point from
// the main chain and can sit several blocks below the head.
func (s *forkSlot) headParent() Blockstamp {
	for parentBS, b := range s.byParent {
		if b.Blockstamp() == s.head {
			return parentBS
		}
	}
	return Blockstamp{}
}

// MainChainView is the read-only slice of the main chain the fork manager
// needs for classification: its current tip and whether a given blockstamp
// sits on it. Storage owns the real data (§4.6); this interface keeps
// fork.go decoupled from any concrete persistence adapter.
type MainChainView interface {
	Tip() Blockstamp
	OnMainChain(bs Blockstamp) bool
}

// ForkTable tracks up to NMax alternative subchains beside the main chain.
// Its AddForkBlock/Classify/StackableSlots shape is grounded on
// core/chain_fork_manager.go's ChainForkManager (AddForkBlock /
// ResolveForks / RecoverLongestFork), generalized from a single unbounded
// map of forks into a fixed-size slot table with per-slot classification.
type ForkTable struct {
	log *logrus.Logger

	mu        sync.Mutex
	slots     []*forkSlot // length NMax; nil entries are Free
	tolerance BlockNumber
}

// NewForkTable allocates a table with nMax slots and the given roll-back
// tolerance window (§3: "no older than 100 blocks back").
func NewForkTable(log *logrus.Logger, nMax int, tolerance BlockNumber) *ForkTable {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ForkTable{log: log, slots: make([]*forkSlot, nMax), tolerance: tolerance}
}

// AddForkBlock parks b in the slot whose head matches b's parent, or
// allocates a new slot. It fails with errs.ErrNoFreeForkSlot only after
// trying to evict the oldest TooOld slot, per SPEC_FULL.md's supplemented
// eviction behavior (§4.4, §9).
func (f *ForkTable) AddForkBlock(b *Block) (slotIdx int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parentBS := Blockstamp{Number: b.Number - 1, Hash: b.PreviousHash}

	for i, s := range f.slots {
		if s != nil && s.head == parentBS {
			s.byParent[parentBS] = b
			s.head = b.Blockstamp()
			s.status.AlreadyChecked = false
			return i, nil
		}
	}

	idx, ok := f.freeSlotLocked()
	if !ok {
		if evicted := f.evictOldestTooOldLocked(); !evicted {
			return -1, errs.ErrNoFreeForkSlot
		}
		idx, ok = f.freeSlotLocked()
		if !ok {
			return -1, errs.ErrNoFreeForkSlot
		}
	}

	f.slots[idx] = &forkSlot{
		byParent:       map[Blockstamp]*Block{parentBS: b},
		head:           b.Blockstamp(),
		earliestParent: parentBS,
		status:         ForkStatus{Kind: Isolate},
	}
	f.log.WithFields(logrus.Fields{"slot": idx, "parent": parentBS.String(), "block": b.Blockstamp().String()}).
		Info("blockchain: parked block in new fork slot")
	return idx, nil
}

func (f *ForkTable) freeSlotLocked() (int, bool) {
	for i, s := range f.slots {
		if s == nil {
			return i, true
		}
	}
	return -1, false
}

// evictOldestTooOldLocked frees the oldest slot classified TooOld (the one
// whose divergence point, earliestParent, sits furthest back), per the
// eviction behavior §4.4 expects callers to implement.
func (f *ForkTable) evictOldestTooOldLocked() bool {
	oldest := -1
	for i, s := range f.slots {
		if s != nil && s.status.Kind == TooOld && (oldest < 0 || s.earliestParent.Number < f.slots[oldest].earliestParent.Number) {
			oldest = i
		}
	}
	if oldest < 0 {
		return false
	}
	f.slots[oldest] = nil
	f.log.WithField("slot", oldest).Warn("blockchain: evicted oldest TooOld fork slot to make room")
	return true
}

// Classify reclassifies every occupied slot against the main chain's
// current tip, per §4.4's procedure: for each slot, find the largest
// main-chain block id among its entries' parent blockstamps that is within
// tolerance of the tip; Isolate if none, TooOld if all are older than
// tolerance, Stackable if the head sits on the tip, else RollBack.
//
// This follows the DAL-reader semantics §4.4 describes rather than the
// older in-engine code path §9 calls out as disagreeing on how TooOld
// interacts with AlreadyChecked: AlreadyChecked here is just a marker that
// this slot was visited this pass, recomputed fresh every time rather than
// accumulated across passes.
func (f *ForkTable) Classify(view MainChainView) []ForkStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	tip := view.Tip()
	statuses := make([]ForkStatus, len(f.slots))
	for i, s := range f.slots {
		if s == nil {
			statuses[i] = ForkStatus{Kind: Free}
			continue
		}
		s.status = f.classifySlotLocked(s, view, tip)
		statuses[i] = s.status
	}
	return statuses
}

func (f *ForkTable) classifySlotLocked(s *forkSlot, view MainChainView, tip Blockstamp) ForkStatus {
	var maxCommonID BlockNumber
	foundOnMain := false
	allTooOld := true

	floor := int64(tip.Number) - int64(f.tolerance)

	for parentBS := range s.byParent {
		if !view.OnMainChain(parentBS) {
			continue
		}
		foundOnMain = true
		if int64(parentBS.Number) >= floor {
			allTooOld = false
			if parentBS.Number > maxCommonID || !foundOnMain {
				maxCommonID = parentBS.Number
			}
		}
	}
	// earliestParent is always a candidate parent blockstamp too.
	if view.OnMainChain(s.earliestParent) {
		foundOnMain = true
		if int64(s.earliestParent.Number) >= floor {
			allTooOld = false
			if s.earliestParent.Number > maxCommonID {
				maxCommonID = s.earliestParent.Number
			}
		}
	}

	switch {
	case !foundOnMain:
		return ForkStatus{Kind: Isolate, AlreadyChecked: true}
	case allTooOld:
		return ForkStatus{Kind: TooOld, AlreadyChecked: true}
	case s.head == (Blockstamp{}):
		return ForkStatus{Kind: Isolate, AlreadyChecked: true}
	case s.headParent() == tip:
		return ForkStatus{Kind: Stackable, AlreadyChecked: true}
	default:
		return ForkStatus{Kind: RollBack, AlreadyChecked: true, CommonBlockID: maxCommonID}
	}
}

// StackableSlots returns the indices currently classified Stackable, for
// the engine's 20s stack-up attempt (§4.2 step 4, §4.4 "Stack-up
// procedure").
func (f *ForkTable) StackableSlots() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for i, s := range f.slots {
		if s != nil && s.status.Kind == Stackable {
			out = append(out, i)
		}
	}
	return out
}

// Head returns the current head block of slot idx, for applying during
// stack-up or roll-back.
func (f *ForkTable) Head(idx int) (*Block, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.slots[idx]
	if s == nil {
		return nil, false
	}
	return s.byParent[s.headParent()], true
}

// ChainFrom returns slot idx's blocks in ascending order, starting after
// fromExclusive, for the roll-back procedure's forward-apply phase (§4.4).
func (f *ForkTable) ChainFrom(idx int, fromExclusive BlockNumber) []*Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.slots[idx]
	if s == nil {
		return nil
	}
	byNumber := make(map[BlockNumber]*Block, len(s.byParent))
	for _, b := range s.byParent {
		byNumber[b.Number] = b
	}
	var out []*Block
	for n := fromExclusive + 1; ; n++ {
		b, ok := byNumber[n]
		if !ok {
			break
		}
		out = append(out, b)
	}
	return out
}

// Free releases slot idx, e.g. after a successful stack-up/roll-back moved
// its chain onto the main chain, or after a failed apply attempt (§4.4).
func (f *ForkTable) Free(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[idx] = nil
}

// Status returns the last-computed status for slot idx.
func (f *ForkTable) Status(idx int) ForkStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.slots[idx] == nil {
		return ForkStatus{Kind: Free}
	}
	return f.slots[idx].status
}

// Len returns the number of slots in the table (N_MAX).
func (f *ForkTable) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.slots)
}
