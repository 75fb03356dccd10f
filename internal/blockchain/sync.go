package blockchain

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/pkg/errs"
)

// ChunkSource enumerates and decodes pre-exported sync chunks (§4.5, §6:
// files named chunk_<n>-250.json). Decoding the JSON wire format is thin
// glue, not the document grammar excluded by scope (§1); the concrete
// implementation lives in chunkfile.go.
type ChunkSource interface {
	ChunkNumbers() ([]int, error)
	ReadChunk(n int) ([]*Block, error)
}

// writeJob is one namespace's slice of a block's write-query triple,
// handed to its dedicated writer worker. postHook, when set, runs once the
// job's own queries have committed; the wot writer uses it to drain
// certification expiry for the block's median_time right after that
// block's own WoT writes land, keeping expiry order consistent with the
// rest of that namespace's history.
type writeJob struct {
	blockstamp Blockstamp
	queries    []WriteQuery
	postHook   func()
}

// SyncPipeline implements §4.5's bulk import: a reader worker streaming
// blocks in order, an orchestrator building apply descriptors, and three
// writer workers (blocks/WoT/currency) committing independently.
// In the shape of blockchain_synchronization.go's SyncManager (loop/
// SyncOnce orchestration over a Replicator), generalized from a single
// best-effort catch-up loop into the ordered three-writer pipeline §4.5
// describes.
type SyncPipeline struct {
	log       *logrus.Logger
	source    ChunkSource
	mainChain *MainChain
	wot       *WoT
	applier   *Applier
	validator *Validator
}

func NewSyncPipeline(log *logrus.Logger, source ChunkSource, mainChain *MainChain, wot *WoT, applier *Applier, validator *Validator) *SyncPipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SyncPipeline{log: log, source: source, mainChain: mainChain, wot: wot, applier: applier, validator: validator}
}

// Tip and ForkHead implement ChainLinkage: sync is a linear import, so no
// fork slot ever attaches mid-stream.
func (p *SyncPipeline) Tip() Blockstamp { return p.mainChain.Tip() }
func (p *SyncPipeline) ForkHead(BlockHash) (Blockstamp, bool) { return Blockstamp{}, false }

// SyncResult reports where the pipeline ended up, for the CLI's `sync`
// command and for S3's end-to-end check.
type SyncResult struct {
	Target       Blockstamp
	LastApplied  Blockstamp
	BlocksApplied int
}

// Run executes the pipeline to completion (or ctx cancellation). mode
// controls hash-recomputation strictness (§4.5's fast/cautious toggle);
// endAt, if non-nil, caps the import at that block number (CLI `--end`).
func (p *SyncPipeline) Run(ctx context.Context, mode HashMode, endAt *BlockNumber) (SyncResult, error) {
	numbers, err := p.source.ChunkNumbers()
	if err != nil {
		return SyncResult{}, errs.Wrap(err, "listing sync chunks")
	}
	sort.Ints(numbers)
	if len(numbers) == 0 {
		return SyncResult{}, errs.Wrap(errs.ErrStorageFailure, "no sync chunks found")
	}

	blocksCh := make(chan *Block, 64)
	errCh := make(chan error, 1)
	targetCh := make(chan Blockstamp, 1)

	go p.readerWorker(ctx, numbers, endAt, blocksCh, targetCh, errCh)

	result, err := p.orchestrate(ctx, blocksCh, mode)
	if err != nil {
		return result, err
	}

	select {
	case target := <-targetCh:
		result.Target = target
	case err := <-errCh:
		if err != nil {
			return result, err
		}
	default:
	}
	return result, nil
}

// readerWorker enumerates chunks, announces the target blockstamp (the
// last block within endAt, or the very last block available), then
// streams blocks starting after the local tip (§4.5 step 1).
func (p *SyncPipeline) readerWorker(ctx context.Context, numbers []int, endAt *BlockNumber, out chan<- *Block, targetCh chan<- Blockstamp, errCh chan<- error) {
	defer close(out)

	localTip := p.mainChain.Tip().Number
	var target Blockstamp
	var prev Blockstamp
	var announced bool

	for _, n := range numbers {
		blocks, err := p.source.ReadChunk(n)
		if err != nil {
			errCh <- errs.Wrapf(err, "reading chunk %d", n)
			return
		}
		for _, b := range blocks {
			if endAt != nil && b.Number > *endAt {
				if !announced {
					target = prev
					announced = true
					targetCh <- target
				}
				return
			}
			prev = b.Blockstamp()
			if !announced && isLastInRun(b, blocks, numbers, n) {
				target = b.Blockstamp()
			}
			if b.Number <= localTip && b.Number > 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- b:
			}
		}
	}
	if !announced {
		targetCh <- target
	}
}

// isLastInRun reports whether b is the last block of the last known chunk,
// used only to opportunistically report a target before EOF; the final
// fallback announcement after the loop always fires regardless.
func isLastInRun(b *Block, chunk []*Block, numbers []int, n int) bool {
	return n == numbers[len(numbers)-1] && b.Number == chunk[len(chunk)-1].Number
}

// orchestrate consumes decoded blocks in order, builds each one's
// write-query triple and fans the three namespaces out to dedicated
// writer goroutines, then awaits their completion acks (§4.5 steps 2-4).
// Each block's wot job carries a postHook draining certification expiry for
// that block's median_time, the sliding window §4.5 step 2 calls for.
func (p *SyncPipeline) orchestrate(ctx context.Context, blocksCh <-chan *Block, mode HashMode) (SyncResult, error) {
	blocksJobs := make(chan writeJob, 64)
	wotJobs := make(chan writeJob, 64)
	currencyJobs := make(chan writeJob, 64)

	doneCh := make(chan struct{}, 3)
	failCh := make(chan error, 3)

	go runWriter(blocksJobs, doneCh, failCh)
	go runWriter(wotJobs, doneCh, failCh)
	go runWriter(currencyJobs, doneCh, failCh)

	var result SyncResult
	var pipelineErr error
	tip := p.mainChain.Tip()

loop:
	for {
		select {
		case <-ctx.Done():
			pipelineErr = ctx.Err()
			break loop
		case b, ok := <-blocksCh:
			if !ok {
				break loop
			}
			onMain := b.PreviousHash == tip.Hash
			res := p.validator.Validate(b, p.wot, p, mode, p.mainChain.OnMainChain)
			if res.Outcome == Invalid {
				pipelineErr = errs.Wrapf(res.Err, "invalid block %s during sync", b.Blockstamp())
				break loop
			}
			if res.Outcome == AlreadyKnown {
				continue
			}
			reqs := p.applier.BuildApplyReqs(b, onMain)
			medianTime := b.MedianTime
			blocksJobs <- writeJob{blockstamp: b.Blockstamp(), queries: reqs.Blocks}
			wotJobs <- writeJob{blockstamp: b.Blockstamp(), queries: reqs.Wot, postHook: func() {
				p.applier.DrainExpired(medianTime)
			}}
			currencyJobs <- writeJob{blockstamp: b.Blockstamp(), queries: reqs.Currency}
			result.BlocksApplied++
			result.LastApplied = b.Blockstamp()
			tip = b.Blockstamp()
		}
	}

	close(blocksJobs)
	close(wotJobs)
	close(currencyJobs)

	acked := 0
	for acked < 3 {
		select {
		case <-doneCh:
			acked++
		case err := <-failCh:
			if pipelineErr == nil {
				pipelineErr = err
			}
			acked++
		}
	}

	return result, pipelineErr
}

// runWriter is one of the three writer workers of §4.5 step 3: it owns no
// shared state with the other two, applying queries strictly in the order
// received, then acks completion once its job channel closes (the "End" /
// "ApplyFinish" handshake of §4.5 step 4).
func runWriter(jobs <-chan writeJob, done chan<- struct{}, fail chan<- error) {
	for job := range jobs {
		for _, q := range job.queries {
			if err := q.Do(); err != nil {
				fail <- errs.Wrapf(err, "writer failed applying %s", job.blockstamp)
				return
			}
		}
		if job.postHook != nil {
			job.postHook()
		}
	}
	done <- struct{}{}
}
