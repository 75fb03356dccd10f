package blockchain

import (
	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/internal/busrouter"
)

// NetworkAdapter is the peer-transport collaborator the scheduler issues
// requests through. In the shape of consensus.go's networkAdapter
// interface (Broadcast/Subscribe), narrowed to the one-shot request shape
// this module needs: deliver a Request payload addressed to the network
// module via the router.
type NetworkAdapter interface {
	SendRequest(msg busrouter.Message)
}

// Scheduler implements §4.2 steps 1-2: poll for the peer-claimed consensus
// blockstamp, and when behind, request missing blocks in fixed-size
// chunks, bounded by MaxBlocksRequest ahead of the local tip.
type Scheduler struct {
	log       *logrus.Logger
	net       NetworkAdapter
	inFlight  *InFlight
	chunkSize uint32
	maxAhead  uint32

	consensusReqID string
}

func NewScheduler(log *logrus.Logger, net NetworkAdapter, inFlight *InFlight, chunkSize, maxAhead uint32) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{log: log, net: net, inFlight: inFlight, chunkSize: chunkSize, maxAhead: maxAhead}
}

// PollConsensus asks the network layer for the peer-claimed consensus
// blockstamp, if no such request is already outstanding (§4.2 step 1).
func (s *Scheduler) PollConsensus(networkModule busrouter.ModuleName, selfModule busrouter.ModuleName) {
	if s.consensusReqID != "" && s.inFlight.Has(s.consensusReqID) {
		return
	}
	id := NewRequestID()
	s.consensusReqID = id
	s.inFlight.Add(id, ReqCurrentBlockstamp)
	s.net.SendRequest(busrouter.Message{
		Selector: busrouter.One(networkModule),
		Payload:  busrouter.Request(selfModule, networkModule, id, RequestContent{Kind: ReqCurrentBlockstamp}),
	})
}

// ConsensusAnswered clears the outstanding consensus poll marker once its
// response has been consumed.
func (s *Scheduler) ConsensusAnswered(id string) {
	if id == s.consensusReqID {
		s.consensusReqID = ""
	}
}

// RequestMissingChunks issues chunk requests to close the gap between the
// local tip and the peer-claimed consensus blockstamp, per §4.2 step 2: up
// to MaxBlocksRequest blocks ahead, in ChunkSize-sized requests, plus one
// chunk ending at consensus to surface deep forks.
func (s *Scheduler) RequestMissingChunks(networkModule, selfModule busrouter.ModuleName, localTip, consensus BlockNumber) {
	if consensus <= localTip {
		return
	}
	ahead := consensus - localTip
	if ahead > BlockNumber(s.maxAhead) {
		ahead = BlockNumber(s.maxAhead)
	}

	for first := localTip + 1; first <= localTip+ahead; first += BlockNumber(s.chunkSize) {
		count := s.chunkSize
		if remaining := uint32(localTip + ahead - first + 1); remaining < count {
			count = remaining
		}
		id := NewRequestID()
		s.inFlight.Add(id, ReqChunk)
		s.net.SendRequest(busrouter.Message{
			Selector: busrouter.One(networkModule),
			Payload: busrouter.Request(selfModule, networkModule, id, RequestContent{
				Kind:  ReqChunk,
				First: first,
				Count: count,
			}),
		})
	}

	// Also request a chunk ending at consensus to detect deep forks.
	if consensus > localTip+ahead {
		deepFirst := consensus - BlockNumber(s.chunkSize) + 1
		id := NewRequestID()
		s.inFlight.Add(id, ReqChunk)
		s.net.SendRequest(busrouter.Message{
			Selector: busrouter.One(networkModule),
			Payload: busrouter.Request(selfModule, networkModule, id, RequestContent{
				Kind:  ReqChunk,
				First: deepFirst,
				Count: s.chunkSize,
			}),
		})
	}
}
