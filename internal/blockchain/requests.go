package blockchain

import (
	"github.com/google/uuid"
)

// RequestKind enumerates the peer-facing queries §6 says the blockchain
// module answers.
type RequestKind int

const (
	ReqCurrentBlock RequestKind = iota
	ReqCurrentBlockstamp
	ReqBlockByNumber
	ReqChunk
	ReqUIDs
	ReqGetIdentities
)

// RequestContent carries the kind-specific arguments of a request. Only
// the fields relevant to Kind are populated.
type RequestContent struct {
	Kind RequestKind

	// ReqBlockByNumber
	Number BlockNumber

	// ReqChunk
	First BlockNumber
	Count uint32

	// ReqUIDs
	PubKeys []PublicKey

	// ReqGetIdentities
	Filter string
}

// ResponseContent carries the kind-specific answer. A nil/zero-valued
// field means "not found" for request kinds that may legitimately find
// nothing (§6: CurrentBlock on an empty db, BlockByNumber with "silently
// no reply").
type ResponseContent struct {
	Kind RequestKind

	Block      *Block
	Blockstamp Blockstamp
	Blocks     []*Block
	UIDs       map[PublicKey]string // absent key => no UID known
	Identities []IdentityDoc
	Found      bool
}

// NewRequestID mints a fresh correlation id for a Request/Response pair,
// per §6's envelope (Request{from,to,id,content}).
func NewRequestID() string { return uuid.NewString() }

// InFlight tracks outstanding network requests this module has issued
// (§4.2: "a set of in-flight network request IDs"), so responses can be
// correlated and stale/unknown ones logged and dropped per §7's
// ProtocolError handling.
type InFlight struct {
	ids map[string]RequestKind
}

func NewInFlight() *InFlight { return &InFlight{ids: make(map[string]RequestKind)} }

func (f *InFlight) Add(id string, kind RequestKind) { f.ids[id] = kind }

func (f *InFlight) Take(id string) (RequestKind, bool) {
	kind, ok := f.ids[id]
	if ok {
		delete(f.ids, id)
	}
	return kind, ok
}

func (f *InFlight) Has(id string) bool {
	_, ok := f.ids[id]
	return ok
}

func (f *InFlight) Len() int { return len(f.ids) }
