package blockchain

import "sync"

// CertExpiryIndex maps a median-time horizon to the certifications
// estimated to expire at or after that time, per §3's "Certification
// expiration index". It is a scheduling aid: the authoritative expiry
// test is WoT's median-time comparison (§8 property 5); this index just
// bounds how many edges need to be checked at each step instead of
// scanning the whole graph.
type CertExpiryIndex struct {
	mu      sync.Mutex
	entries map[int64][]Edge
}

func NewCertExpiryIndex() *CertExpiryIndex {
	return &CertExpiryIndex{entries: make(map[int64][]Edge)}
}

// Schedule records that edge e is expected to expire at or after
// expireAtTime, a median-time horizon (IssuedAtTime + ValiditySecs).
func (c *CertExpiryIndex) Schedule(expireAtTime int64, e Edge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[expireAtTime] = append(c.entries[expireAtTime], e)
}

// Due pops and returns every edge scheduled at or before upTo, removing
// them from the index so each is only returned once.
func (c *CertExpiryIndex) Due(upTo int64) []Edge {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due []Edge
	for at, edges := range c.entries {
		if at <= upTo {
			due = append(due, edges...)
			delete(c.entries, at)
		}
	}
	return due
}

// Unschedule removes a single pending entry for e at expireAtTime, used
// when reverting a certification's apply.
func (c *CertExpiryIndex) Unschedule(expireAtTime int64, e Edge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	edges := c.entries[expireAtTime]
	for i, cur := range edges {
		if cur == e {
			c.entries[expireAtTime] = append(edges[:i], edges[i+1:]...)
			break
		}
	}
}
