package blockchain

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/internal/busrouter"
	"github.com/duniter-go/node/pkg/errs"
)

// EventRefusedPendingDoc is emitted whenever a candidate document (block or
// embedded operation) is rejected by validation, per §7's InvalidDocument
// handling ("reject the document, emit RefusedPendingDoc, continue").
const EventRefusedPendingDoc busrouter.EventTag = "RefusedPendingDoc"

// EventNewBlock is emitted after a block is applied to the main chain, so
// other modules (prover, client api) can react.
const EventNewBlock busrouter.EventTag = "NewBlock"

// RefusedPendingDoc is the typed payload carried by EventRefusedPendingDoc.
type RefusedPendingDoc struct {
	Blockstamp Blockstamp
	Reason     string
}

// Engine is the blockchain module of §4.2: it owns current_blockstamp, the
// WoT mirror, the fork table, and the set of in-flight network request
// ids, and drives the main loop described there. In the shape of
// consensus.go's service (NewConsensus wiring collaborators, Start
// launching goroutines, a ticker-driven main loop dispatching to named
// handlers).
type Engine struct {
	log *logrus.Logger

	self          busrouter.ModuleName
	networkModule busrouter.ModuleName

	mainChain *MainChain
	wot       *WoT
	expiry    *CertExpiryIndex
	currency  *CurrencyLedger
	forks     *ForkTable
	applier   *Applier
	validator *Validator
	scheduler *Scheduler
	inFlight  *InFlight

	router  *busrouter.Router
	mailbox busrouter.Mailbox
	metrics *EngineMetrics

	chunkSize        uint32
	maxBlocksRequest uint32
	consensusPoll    time.Duration
	stackUpInterval  time.Duration

	mu        sync.Mutex
	consensus Blockstamp
	stop      chan struct{}
}

// EngineConfig bundles the Engine's tunables, threaded from internal/config
// rather than module-level constants (§9: "Global singletons... should be
// configuration values threaded through, not module-level mutable
// statics").
type EngineConfig struct {
	Self             busrouter.ModuleName
	NetworkModule    busrouter.ModuleName
	ChunkSize        uint32
	MaxBlocksRequest uint32
	MaxForkSlots     int
	ForkTolerance    BlockNumber
	ConsensusPoll    time.Duration
	StackUpInterval  time.Duration
	CertValiditySecs int64
}

// NewEngine wires every collaborator together, grounded on NewConsensus's
// constructor-does-the-wiring pattern.
func NewEngine(log *logrus.Logger, router *busrouter.Router, net NetworkAdapter, verifier Verifier, protocol ProtocolChecker, metrics *EngineMetrics, cfg EngineConfig) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	mainChain := NewMainChain()
	wot := NewWoT(log)
	expiry := NewCertExpiryIndex()
	currency := NewCurrencyLedger()
	forks := NewForkTable(log, cfg.MaxForkSlots, cfg.ForkTolerance)
	inFlight := NewInFlight()

	e := &Engine{
		log:              log,
		self:             cfg.Self,
		networkModule:    cfg.NetworkModule,
		mainChain:        mainChain,
		wot:              wot,
		expiry:           expiry,
		currency:         currency,
		forks:            forks,
		applier:          NewApplier(log, wot, expiry, currency, mainChain, cfg.CertValiditySecs),
		validator:        NewValidator(log, verifier, protocol, mainChain),
		scheduler:        NewScheduler(log, net, inFlight, cfg.ChunkSize, cfg.MaxBlocksRequest),
		inFlight:         inFlight,
		router:           router,
		mailbox:          busrouter.NewMailbox(256),
		metrics:          metrics,
		chunkSize:        cfg.ChunkSize,
		maxBlocksRequest: cfg.MaxBlocksRequest,
		consensusPoll:    cfg.ConsensusPoll,
		stackUpInterval:  cfg.StackUpInterval,
		stop:             make(chan struct{}),
	}
	return e
}

// Tip implements ChainLinkage.
func (e *Engine) Tip() Blockstamp { return e.mainChain.Tip() }

// OnMainChain implements MainChainView.
func (e *Engine) OnMainChain(bs Blockstamp) bool { return e.mainChain.OnMainChain(bs) }

// LoadBlock seeds the in-memory main chain with a previously-persisted
// block, for startup hydration from a durable blocks namespace (§4.6)
// before Reconcile and Run take over.
func (e *Engine) LoadBlock(b *Block, onMain bool) error {
	return e.mainChain.PutBlock(b, onMain)
}

// LoadTip seeds the in-memory main chain's tip pointer during startup
// hydration, mirroring LoadBlock.
func (e *Engine) LoadTip(bs Blockstamp) error {
	return e.mainChain.SetTip(bs)
}

// BlockAt reports the main-chain block at n, for read-only inspection
// (the `dbex block`/`dbex current` CLI commands).
func (e *Engine) BlockAt(n BlockNumber) (*Block, bool) {
	return e.mainChain.BlockAt(n)
}

// IdentityDistance reports a public key's outbound certification stock and
// active status, the read-only diagnostic `dbex distance` exposes. It is
// not a recomputation of the certification-renewal distance rule, which is
// economic-rule territory out of scope.
func (e *Engine) IdentityDistance(pk PublicKey) (outboundStock int, active bool, known bool) {
	idx, ok := e.wot.NodeIndexOf(pk)
	if !ok {
		return 0, false, false
	}
	return e.wot.OutboundStock(idx), e.wot.IsActive(pk), true
}

// Sync runs the §4.5 bulk import pipeline against source directly on the
// engine's own main chain, WoT and applier, so the `sync` CLI command never
// needs its own copy of the engine's collaborators. Intended to run before
// Register/Run, against a freshly hydrated (or empty) engine.
func (e *Engine) Sync(ctx context.Context, source ChunkSource, mode HashMode, endAt *BlockNumber) (SyncResult, error) {
	pipeline := NewSyncPipeline(e.log, source, e.mainChain, e.wot, e.applier, e.validator)
	return pipeline.Run(ctx, mode, endAt)
}

// ForkHead implements ChainLinkage: report whether previousHash matches
// some fork slot's current head.
func (e *Engine) ForkHead(previousHash BlockHash) (Blockstamp, bool) {
	for i := 0; i < e.forks.Len(); i++ {
		if b, ok := e.forks.Head(i); ok && b.Hash == previousHash {
			return b.Blockstamp(), true
		}
	}
	return Blockstamp{}, false
}

// Register joins the router under the engine's module name, playing the
// given roles and subscribing to the given events.
func (e *Engine) Register(roles []busrouter.RoleTag, events []busrouter.EventTag) error {
	return e.router.Register(e.self, e.mailbox, roles, events)
}

// Run drives the §4.2 main loop until Stop is delivered or stopSignal closes.
func (e *Engine) Run(stopSignal <-chan struct{}) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	lastConsensusPoll := time.Time{}
	lastStackUp := time.Time{}

	for {
		select {
		case <-stopSignal:
			return
		case <-e.stop:
			return
		case msg := <-e.mailbox:
			e.handleMessage(msg)
			if msg.Payload.Kind == busrouter.PKStop {
				return
			}
		case now := <-tick.C:
			if lastConsensusPoll.IsZero() || now.Sub(lastConsensusPoll) >= e.consensusPoll {
				e.scheduler.PollConsensus(e.networkModule, e.self)
				e.maybeRequestChunks()
				lastConsensusPoll = now
			}
			if lastStackUp.IsZero() || now.Sub(lastStackUp) >= e.stackUpInterval {
				e.tryStackUp()
				lastStackUp = now
			}
		}
	}
}

func (e *Engine) maybeRequestChunks() {
	e.mu.Lock()
	consensus := e.consensus
	e.mu.Unlock()
	if consensus.Number == 0 {
		return
	}
	e.scheduler.RequestMissingChunks(e.networkModule, e.self, e.mainChain.Tip().Number, consensus.Number)
}

func (e *Engine) handleMessage(msg busrouter.Message) {
	switch msg.Payload.Kind {
	case busrouter.PKRequest:
		e.handleRequest(msg.Payload)
	case busrouter.PKResponse:
		e.handleResponse(msg.Payload)
	case busrouter.PKEvent:
		e.handleEvent(msg.Payload)
	case busrouter.PKStop:
		e.log.Info("blockchain: stopping on broadcast Stop")
	default:
		e.log.WithField("kind", msg.Payload.Kind).Warn("blockchain: unhandled payload kind")
	}
}

// handleRequest answers peer queries from storage, per §4.2 step 3 and the
// §6 request/response table.
func (e *Engine) handleRequest(p busrouter.Payload) {
	req, ok := p.Content.(RequestContent)
	if !ok {
		e.log.Warn("blockchain: request with unexpected content type")
		return
	}
	var resp ResponseContent
	switch req.Kind {
	case ReqCurrentBlock:
		tip := e.mainChain.Tip()
		if b, ok := e.mainChain.BlockAt(tip.Number); ok {
			resp = ResponseContent{Kind: ReqCurrentBlock, Block: b, Blockstamp: tip, Found: true}
		} else {
			resp = ResponseContent{Kind: ReqCurrentBlock, Found: false}
		}
	case ReqCurrentBlockstamp:
		resp = ResponseContent{Kind: ReqCurrentBlockstamp, Blockstamp: e.mainChain.Tip(), Found: true}
	case ReqBlockByNumber:
		b, ok := e.mainChain.BlockAt(req.Number)
		if !ok {
			return // §6: "silently no reply"
		}
		resp = ResponseContent{Kind: ReqBlockByNumber, Block: b, Found: true}
	case ReqChunk:
		var blocks []*Block
		for n := req.First; n < req.First+BlockNumber(req.Count); n++ {
			b, ok := e.mainChain.BlockAt(n)
			if !ok {
				break
			}
			blocks = append(blocks, b)
		}
		resp = ResponseContent{Kind: ReqChunk, Blocks: blocks, Found: true}
	case ReqUIDs:
		uids := make(map[PublicKey]string)
		for _, pk := range req.PubKeys {
			if idx, ok := e.wot.NodeIndexOf(pk); ok {
				if id, ok := e.wot.Identity(idx); ok {
					uids[pk] = id.UID
				}
			}
		}
		resp = ResponseContent{Kind: ReqUIDs, UIDs: uids, Found: true}
	case ReqGetIdentities:
		var docs []IdentityDoc
		for _, id := range e.wot.ActiveIdentities() {
			docs = append(docs, IdentityDoc{PublicKey: id.PublicKey, UID: id.UID, CreatedOn: id.CreatedOn})
		}
		resp = ResponseContent{Kind: ReqGetIdentities, Identities: docs, Found: true}
	default:
		e.log.WithField("kind", req.Kind).Warn("blockchain: unknown request kind")
		return
	}

	e.router.Deliver(busrouter.Message{
		Selector: busrouter.One(p.From),
		Payload:  busrouter.Response(e.self, p.From, p.ReqID, resp),
	})
}

// handleResponse correlates a response by request id and incorporates the
// result, per §4.2 step 3.
func (e *Engine) handleResponse(p busrouter.Payload) {
	kind, known := e.inFlight.Take(p.ReqID)
	if !known {
		e.log.WithField("req_id", p.ReqID).Warn("blockchain: response for unknown request id")
		return
	}
	resp, ok := p.Content.(ResponseContent)
	if !ok {
		e.log.Warn("blockchain: response with unexpected content type")
		return
	}
	switch kind {
	case ReqCurrentBlockstamp:
		e.scheduler.ConsensusAnswered(p.ReqID)
		e.mu.Lock()
		e.consensus = resp.Blockstamp
		e.mu.Unlock()
		if int64(e.mainChain.Tip().Number) > int64(resp.Blockstamp.Number)+2 {
			e.tryRollBackOnDivergence()
		}
	case ReqChunk:
		for _, b := range resp.Blocks {
			e.IngestBlock(b, HashCautious)
		}
	}
}

func (e *Engine) handleEvent(p busrouter.Payload) {
	switch p.EventKind {
	case EventNewBlock:
		if b, ok := p.Content.(*Block); ok {
			e.IngestBlock(b, HashCautious)
		}
	default:
		e.log.WithField("event", p.EventKind).Debug("blockchain: event ignored")
	}
}

// IngestBlock runs the §4.3 validation pipeline and, on acceptance,
// applies the block to the main chain or parks it in a fork slot per
// §4.3's "unknown parent" outcome.
func (e *Engine) IngestBlock(b *Block, mode HashMode) {
	result := e.validator.Validate(b, e.wot, e, mode, e.mainChain.OnMainChain)

	switch result.Outcome {
	case AlreadyKnown:
		return
	case Invalid:
		if e.metrics != nil {
			e.metrics.BlocksRejected.Inc()
		}
		e.emitRefused(b.Blockstamp(), result.Err)
		return
	case UnknownParent:
		if _, err := e.forks.AddForkBlock(b); err != nil {
			e.log.WithError(err).Warn("blockchain: failed to park block with unknown parent")
			return
		}
		if e.metrics != nil {
			e.metrics.BlocksParked.Inc()
		}
		return
	}

	onMain := b.PreviousHash == e.mainChain.Tip().Hash
	if !onMain {
		// Check 3 attached the block to a fork head rather than the tip:
		// extend that fork slot instead of touching main-chain state.
		if _, err := e.forks.AddForkBlock(b); err != nil {
			e.log.WithError(err).Warn("blockchain: failed to park block on fork head")
			return
		}
		if e.metrics != nil {
			e.metrics.BlocksParked.Inc()
		}
		return
	}
	reqs := e.applier.BuildApplyReqs(b, onMain)
	if err := e.applier.Apply(reqs); err != nil {
		if e.metrics != nil {
			e.metrics.BlocksRejected.Inc()
		}
		e.emitRefused(b.Blockstamp(), err)
		return
	}
	if onMain {
		e.applier.MarkApplied(b.Number)
		e.applier.DrainExpired(b.MedianTime)
		e.forks.Classify(e)
		if e.metrics != nil {
			e.metrics.BlocksAccepted.Inc()
			e.metrics.CurrentBlockGauge.Set(float64(b.Number))
			e.metrics.ActiveIdentities.Set(float64(e.wot.ActiveCount()))
		}
		e.router.Deliver(busrouter.Message{Selector: busrouter.All(), Payload: busrouter.Event(EventNewBlock, b)})
	}
}

// Reconcile replays WoT/currency writes for main-chain blocks the
// applier's marker hasn't caught up to yet, per §4.6(a): blocks are
// written last in the normal path, so an unclean shutdown can leave the
// blocks namespace ahead of WoT/currency. Intended to run once, before
// Run, against a freshly loaded persisted chain.
func (e *Engine) Reconcile() error {
	tip := e.mainChain.Tip()
	start := BlockNumber(0)
	if last, ok := e.applier.LastApplied(); ok {
		start = last + 1
	}
	for n := start; n <= tip.Number; n++ {
		b, ok := e.mainChain.BlockAt(n)
		if !ok {
			break
		}
		reqs := e.applier.BuildApplyReqs(b, true)
		reqs.Blocks = nil // already on disk; only WoT/currency lag behind
		if err := e.applier.Apply(reqs); err != nil {
			return errs.Wrapf(err, "reconcile: block %d", n)
		}
		e.applier.MarkApplied(n)
	}
	return nil
}

func (e *Engine) emitRefused(bs Blockstamp, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	e.log.WithFields(logrus.Fields{"blockstamp": bs.String(), "reason": reason}).Warn("blockchain: refusing pending document")
	e.router.Deliver(busrouter.Message{
		Selector: busrouter.All(),
		Payload:  busrouter.Event(EventRefusedPendingDoc, RefusedPendingDoc{Blockstamp: bs, Reason: reason}),
	})
}

// tryStackUp runs §4.4's stack-up procedure every stackUpInterval.
func (e *Engine) tryStackUp() {
	for _, idx := range e.forks.StackableSlots() {
		head, ok := e.forks.Head(idx)
		if !ok {
			continue
		}
		reqs := e.applier.BuildApplyReqs(head, true)
		if err := e.applier.Apply(reqs); err != nil {
			e.log.WithError(err).WithField("slot", idx).Warn("blockchain: stack-up failed, freeing slot")
			e.forks.Free(idx)
			continue
		}
		e.forks.Free(idx)
		e.forks.Classify(e)
		if e.metrics != nil {
			e.metrics.StackUpsRun.Inc()
			e.metrics.CurrentBlockGauge.Set(float64(head.Number))
		}
		e.router.Deliver(busrouter.Message{Selector: busrouter.All(), Payload: busrouter.Event(EventNewBlock, head)})
	}
}

// tryRollBackOnDivergence reclassifies every fork slot and attempts a
// roll-back on the first one found RollBack-classified, per §4.2 step 3's
// "on consensus divergence ... trigger a revert".
func (e *Engine) tryRollBackOnDivergence() {
	statuses := e.forks.Classify(e)
	for idx, st := range statuses {
		if st.Kind == RollBack {
			if err := e.RollBack(idx); err != nil {
				e.log.WithError(err).WithField("slot", idx).Warn("blockchain: roll-back on divergence failed")
			}
			return
		}
	}
}

// RollBack implements §4.4's roll-back procedure for the named slot,
// reverting main-chain blocks down to its common block id and then
// applying the fork's chain forward.
func (e *Engine) RollBack(slotIdx int) error {
	status := e.forks.Status(slotIdx)
	if status.Kind != RollBack {
		return errs.Wrapf(errs.ErrProtocol, "slot %d is not classified RollBack", slotIdx)
	}

	tip := e.mainChain.Tip()
	var undone []ApplyReqs
	for n := tip.Number; n > status.CommonBlockID; n-- {
		b, ok := e.mainChain.BlockAt(n)
		if !ok {
			break
		}
		reqs := e.applier.BuildApplyReqs(b, true)
		if err := e.applier.Revert(reqs); err != nil {
			return errs.Wrapf(err, "reverting main chain block %d", n)
		}
		undone = append(undone, reqs)
	}

	forward := e.forks.ChainFrom(slotIdx, status.CommonBlockID)
	var applied []ApplyReqs
	for _, b := range forward {
		reqs := e.applier.BuildApplyReqs(b, true)
		if err := e.applier.Apply(reqs); err != nil {
			// Unwind this roll-back attempt entirely: undo whatever of the
			// fork's chain we just applied, then re-apply the main-chain
			// blocks we reverted, restoring the pre-rollback state.
			for i := len(applied) - 1; i >= 0; i-- {
				_ = e.applier.Revert(applied[i])
			}
			for i := len(undone) - 1; i >= 0; i-- {
				_ = e.applier.Apply(undone[i])
			}
			return errs.Wrapf(err, "applying fork chain from slot %d", slotIdx)
		}
		applied = append(applied, reqs)
	}

	if e.metrics != nil {
		e.metrics.RollBacksRun.Inc()
	}
	e.forks.Free(slotIdx)
	e.forks.Classify(e)
	return nil
}
