package busrouter

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Router is the two-stage message fabric of §4.1: a frontdesk goroutine for
// registration and unicast, a broadcaster goroutine for role/event/all
// fan-out, and a grace-window timer that drains and disables both pools
// once it elapses.
type Router struct {
	log *logrus.Logger

	fd *frontdesk
	bc *broadcaster

	graceWindow time.Duration
	stopped     chan struct{}
	metrics     *Metrics
}

// New constructs a Router. Call Run to start its goroutines. followers are
// external mailboxes that receive every All broadcast; they are fixed here
// and cannot be added later.
func New(log *logrus.Logger, graceWindow time.Duration, followers []Mailbox, metrics *Metrics) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	bc := newBroadcaster(log)
	bc.followers = followers
	fd := newFrontdesk(log, bc)
	return &Router{
		log:         log,
		fd:          fd,
		bc:          bc,
		graceWindow: graceWindow,
		stopped:     make(chan struct{}),
		metrics:     metrics,
	}
}

// Run starts both stage goroutines and the grace-window timer. It returns
// immediately; call Wait to block until Stop propagates (§4.1's "router
// exits after fan-out").
func (r *Router) Run() {
	go r.fd.run()
	go r.bc.run()
	go r.watchGraceWindow()
	if r.metrics != nil {
		go r.metrics.watch(r, r.stopped)
	}
}

func (r *Router) watchGraceWindow() {
	select {
	case <-time.After(r.graceWindow):
		r.fd.closeGrace()
		r.bc.closeGrace()
	case <-r.stopped:
	}
}

// Register adds name to the router under the given roles and events,
// draining any pooled traffic addressed to it in arrival order (§4.1).
// Re-registering an already-used name fails with errs.ErrDuplicateModule.
func (r *Router) Register(name ModuleName, mailbox Mailbox, roles []RoleTag, events []EventTag) error {
	result := make(chan error, 1)
	r.fd.registerCh <- registerCmd{name: name, mailbox: mailbox, roles: roles, events: events, result: result}
	return <-result
}

// Deliver routes msg per its selector: unicast goes straight to the
// frontdesk, everything else to the broadcaster via the frontdesk's forward
// step (§4.1). A Stop payload addressed to All also terminates the router
// once fan-out completes.
func (r *Router) Deliver(msg Message) {
	r.fd.deliverCh <- msg
	if msg.Selector.Kind == SelAll && msg.Payload.Kind == PKStop {
		go r.shutdown()
	}
}

// shutdown waits briefly for the Stop broadcast to drain before stopping
// both stage goroutines; the frontdesk's channel is FIFO so any message
// delivered before Stop is guaranteed to have been forwarded first.
func (r *Router) shutdown() {
	time.Sleep(10 * time.Millisecond)
	r.fd.stop()
	r.bc.stop()
	close(r.stopped)
}

// Wait blocks until the router has stopped.
func (r *Router) Wait() { <-r.stopped }

// snapshot reports pool/index sizes for metrics, without exposing the
// underlying maps.
func (r *Router) snapshot() (modules, roles, events int) {
	r.fd.mu.Lock()
	modules = len(r.fd.modules)
	r.fd.mu.Unlock()
	r.bc.mu.Lock()
	roles = len(r.bc.roles)
	events = len(r.bc.events)
	r.bc.mu.Unlock()
	return
}
