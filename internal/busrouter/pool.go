package busrouter

import "sync"

// pool holds not-yet-deliverable payloads in arrival order, keyed by either
// a ModuleName (unicast pool) or a Selector's pool key (role/event pool).
// It is cleared and disabled once the grace window elapses (§3 invariant 6,
// §4.1).
type pool struct {
	mu     sync.Mutex
	items  map[string][]Message
	closed bool
}

func newPool() *pool {
	return &pool{items: make(map[string][]Message)}
}

// add appends msg under key and reports whether it was pooled. It is a
// no-op once the pool has closed.
func (p *pool) add(key string, msg Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.items[key] = append(p.items[key], msg)
	return true
}

// drain returns and removes all pooled messages for key, in arrival order.
// Returns nil once the pool has closed (draining happens at registration
// time, which only happens before closing in practice, but the guard keeps
// the contract explicit).
func (p *pool) drain(key string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	msgs := p.items[key]
	delete(p.items, key)
	return msgs
}

// closeForever empties the pool and disables further pooling, implementing
// §3 invariant 6 and §4.1's "Once the grace window has elapsed, pools are
// cleared and unused thereafter." Unlike the source behavior called out in
// §9 as a likely bug, closing one key never affects another: this clears
// every key at once, deliberately, because the grace window is global.
func (p *pool) closeForever() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = nil
	p.closed = true
}
