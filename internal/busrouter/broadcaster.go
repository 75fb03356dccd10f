package busrouter

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// broadcaster is the second stage: it owns the role->members and
// event->subscribers indexes (§3 "Router state"), pools role/event traffic
// during the grace window, and serializes fan-out so observers see one
// consistent order (§4.1 "Scheduling").
type broadcaster struct {
	log *logrus.Logger

	mu     sync.Mutex
	mboxes map[ModuleName]Mailbox
	roles  map[RoleTag][]ModuleName
	events map[EventTag][]ModuleName

	pool      *pool
	followers []Mailbox

	regCh chan broadcastRegCmd
	msgCh chan Message
	doneCh chan struct{}
}

type broadcastRegCmd struct {
	name    ModuleName
	mailbox Mailbox
	roles   []RoleTag
	events  []EventTag
	done    chan struct{}
}

func newBroadcaster(log *logrus.Logger) *broadcaster {
	return &broadcaster{
		log:    log,
		mboxes: make(map[ModuleName]Mailbox),
		roles:  make(map[RoleTag][]ModuleName),
		events: make(map[EventTag][]ModuleName),
		pool:   newPool(),
		regCh:  make(chan broadcastRegCmd),
		msgCh:  make(chan Message, 256),
		doneCh: make(chan struct{}),
	}
}

// run is the broadcaster's owned goroutine. It serializes every role/event
// registration and every fan-out delivery through this single loop, which is
// what makes "broadcast order across recipients is the arrival order at the
// broadcaster stage" (§5) true without extra locking on the indexes.
func (b *broadcaster) run() {
	for {
		select {
		case cmd := <-b.regCh:
			b.handleRegister(cmd)
		case msg := <-b.msgCh:
			b.handleMessage(msg)
		case <-b.doneCh:
			return
		}
	}
}

func (b *broadcaster) handleRegister(cmd broadcastRegCmd) {
	b.mu.Lock()
	b.mboxes[cmd.name] = cmd.mailbox
	for _, r := range cmd.roles {
		b.roles[r] = append(b.roles[r], cmd.name)
	}
	for _, e := range cmd.events {
		b.events[e] = append(b.events[e], cmd.name)
	}
	b.mu.Unlock()

	// Pooled messages go back into the pool after replay so every later
	// registrant within the grace window receives them too.
	for _, r := range cmd.roles {
		key := "role:" + string(r)
		for _, pooled := range b.pool.drain(key) {
			deliverTo(cmd.mailbox, cloneMessage(pooled))
			b.pool.add(key, pooled)
		}
	}
	for _, e := range cmd.events {
		key := "event:" + string(e)
		for _, pooled := range b.pool.drain(key) {
			deliverTo(cmd.mailbox, cloneMessage(pooled))
			b.pool.add(key, pooled)
		}
	}
	close(cmd.done)
}

func (b *broadcaster) handleMessage(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Selector.Kind {
	case SelAll:
		for _, mb := range b.mboxes {
			deliverTo(mb, msg)
		}
		for _, f := range b.followers {
			deliverTo(f, msg)
		}
	case SelRole:
		members := b.roles[msg.Selector.Role]
		b.fanOutLocked(members, msg, msg.Selector.poolKey())
	case SelEvent:
		members := b.events[msg.Selector.Event]
		b.fanOutLocked(members, msg, msg.Selector.poolKey())
	default:
		b.log.WithField("selector", msg.Selector.String()).Warn("busrouter: broadcaster received non-fanout selector")
	}
}

// fanOutLocked delivers msg to every current member, with the last
// registrant receiving the original (moved) payload and the rest clones,
// per §4.1's tie-break optimization contract. It also pools the message
// for this key whenever the grace window is still open (pool.add is a
// no-op once closed), regardless of whether any member already exists, so
// a registrant that joins mid-window still replays traffic that an
// earlier registrant already received (§3 invariant 6, §8 property 6).
// Callers must hold b.mu.
func (b *broadcaster) fanOutLocked(members []ModuleName, msg Message, poolKey string) {
	if poolKey != "" {
		b.pool.add(poolKey, cloneMessage(msg))
	}
	for i, name := range members {
		mb, ok := b.mboxes[name]
		if !ok {
			continue
		}
		if i == len(members)-1 {
			deliverTo(mb, msg)
		} else {
			deliverTo(mb, cloneMessage(msg))
		}
	}
}

func cloneMessage(msg Message) Message {
	clone := msg
	if len(msg.Payload.Binary) > 0 {
		clone.Payload.Binary = append([]byte(nil), msg.Payload.Binary...)
	}
	return clone
}

// deliverTo sends msg to mb without blocking, treating a full mailbox as the
// fatal "fail-stop" condition §4.1 describes for the reference design,
// downgraded here to a dropped-message log rather than a process abort, per
// the implementer's option §4.1 explicitly allows. A closed mailbox is not
// guarded against: sending to it panics.
func deliverTo(mb Mailbox, msg Message) {
	select {
	case mb <- msg:
	default:
		logrus.StandardLogger().WithField("selector", msg.Selector.String()).
			Warn("busrouter: mailbox full, dropping message")
	}
}

// closeGrace disables further pooling once the grace window elapses.
func (b *broadcaster) closeGrace() {
	b.pool.closeForever()
}

func (b *broadcaster) stop() {
	close(b.doneCh)
}
