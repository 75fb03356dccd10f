package blockchain

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// NodeIndex is a dense index into the WoT graph, assigned when an identity
// becomes a node (§3 "Web of Trust").
type NodeIndex uint32

// Certification is a non-expired directed edge of the WoT graph: issued at
// a block, valid until a median-time horizon (§3).
type Certification struct {
	IssuedAt     BlockNumber
	IssuedAtTime int64 // the issuing block's median_time
	ValiditySecs int64
}

func (c Certification) expiresAt() int64 { return c.IssuedAtTime + c.ValiditySecs }

// Edge identifies a certification by its endpoints.
type Edge struct {
	From NodeIndex
	To   NodeIndex
}

// WoT is the directed certification graph of §3: nodes are active
// identities indexed densely by NodeIndex, edges are non-expired
// certifications. In the shape of identity_verification.go's
// IdentityService (prefix-indexed lookups) and authority_nodes.go's
// AuthoritySet active-member bookkeeping, generalized from a single flat
// set into a graph with outbound stock per node.
type WoT struct {
	log *logrus.Logger

	mu       sync.RWMutex
	byIndex  map[NodeIndex]*Identity
	byPubkey map[PublicKey]NodeIndex
	next     NodeIndex

	// edges[from][to] = certification
	edges    map[NodeIndex]map[NodeIndex]Certification
	outStock map[NodeIndex]int
}

func NewWoT(log *logrus.Logger) *WoT {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WoT{
		log:      log,
		byIndex:  make(map[NodeIndex]*Identity),
		byPubkey: make(map[PublicKey]NodeIndex),
		edges:    make(map[NodeIndex]map[NodeIndex]Certification),
		outStock: make(map[NodeIndex]int),
	}
}

// AddIdentity admits id as an active WoT node, assigning it a fresh
// NodeIndex. If the public key is already a node, it keeps that NodeIndex,
// replaces the stored record with id marked active, and returns the
// existing index.
func (w *WoT) AddIdentity(id Identity) NodeIndex {
	w.mu.Lock()
	defer w.mu.Unlock()

	if idx, ok := w.byPubkey[id.PublicKey]; ok {
		id.Status = StatusActive
		w.byIndex[idx] = &id
		return idx
	}
	idx := w.next
	w.next++
	id.Status = StatusActive
	w.byIndex[idx] = &id
	w.byPubkey[id.PublicKey] = idx
	w.edges[idx] = make(map[NodeIndex]Certification)
	return idx
}

// RemoveIdentity demotes pk out of the active node set (revocation,
// exclusion or expiry), dropping its outbound and inbound edges. §3
// invariant 5 requires this keep the WoT's node set exactly the active
// identities.
func (w *WoT) RemoveIdentity(pk PublicKey, status IdentityStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx, ok := w.byPubkey[pk]
	if !ok {
		return
	}
	if id := w.byIndex[idx]; id != nil {
		id.Status = status
	}
	delete(w.byPubkey, pk)
	delete(w.edges, idx)
	delete(w.outStock, idx)
	for from, targets := range w.edges {
		if _, had := targets[idx]; had {
			delete(targets, idx)
			w.outStock[from]--
		}
	}
	delete(w.byIndex, idx)
}

// NodeIndexOf returns the node index for an active identity's public key.
func (w *WoT) NodeIndexOf(pk PublicKey) (NodeIndex, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	idx, ok := w.byPubkey[pk]
	return idx, ok
}

// IsActive reports whether pk is currently an active WoT node, per §3
// invariant 4/5.
func (w *WoT) IsActive(pk PublicKey) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	idx, ok := w.byPubkey[pk]
	if !ok {
		return false
	}
	id := w.byIndex[idx]
	return id != nil && id.Status == StatusActive
}

// Identity returns a copy of the node's tracked identity, if any.
func (w *WoT) Identity(idx NodeIndex) (Identity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	id, ok := w.byIndex[idx]
	if !ok {
		return Identity{}, false
	}
	return *id, true
}

// AddCertification records a non-expired edge from->to, incrementing the
// issuer's outbound stock (§3 "contributes to the issuer's outbound
// stock").
func (w *WoT) AddCertification(from, to NodeIndex, cert Certification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.edges[from] == nil {
		w.edges[from] = make(map[NodeIndex]Certification)
	}
	if _, exists := w.edges[from][to]; !exists {
		w.outStock[from]++
	}
	w.edges[from][to] = cert
}

// RemoveCertification drops the from->to edge, e.g. on expiry or revert.
func (w *WoT) RemoveCertification(from, to NodeIndex) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if targets, ok := w.edges[from]; ok {
		if _, existed := targets[to]; existed {
			delete(targets, to)
			w.outStock[from]--
		}
	}
}

// HasCertification reports whether a non-expired from->to edge exists.
func (w *WoT) HasCertification(from, to NodeIndex) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.edges[from][to]
	return ok
}

// OutboundStock returns the issuer's current outbound certification count.
func (w *WoT) OutboundStock(idx NodeIndex) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.outStock[idx]
}

// ActiveCount returns the number of active WoT nodes, for §3 invariant 5
// checks and member-count fields.
func (w *WoT) ActiveCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, id := range w.byIndex {
		if id.Status == StatusActive {
			n++
		}
	}
	return n
}

// ActiveIdentities returns a copy of every currently active identity, for
// dividend distribution over §3's member set.
func (w *WoT) ActiveIdentities() []Identity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Identity, 0, len(w.byIndex))
	for _, id := range w.byIndex {
		if id.Status == StatusActive {
			out = append(out, *id)
		}
	}
	return out
}

// ExpireAt removes edges whose validity horizon has passed relative to
// medianTime, per §3 invariant 5 and §8 property 5. It is the authoritative
// check backing the batch expiry driven by CertExpiryIndex.
func (w *WoT) ExpireAt(edges []Edge, medianTime int64) []Edge {
	w.mu.Lock()
	defer w.mu.Unlock()
	var expired []Edge
	for _, e := range edges {
		cert, ok := w.edges[e.From][e.To]
		if !ok {
			continue
		}
		if medianTime > cert.expiresAt() {
			delete(w.edges[e.From], e.To)
			w.outStock[e.From]--
			expired = append(expired, e)
		}
	}
	return expired
}
