package busrouter

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/pkg/errs"
)

// frontdesk is the first stage: it owns the module name -> mailbox registry
// and the unicast pool, dispatches One() traffic directly, and forwards
// everything else to the broadcaster (§4.1).
type frontdesk struct {
	log *logrus.Logger

	mu      sync.Mutex
	modules map[ModuleName]Mailbox

	pool *pool
	b    *broadcaster

	registerCh chan registerCmd
	deliverCh  chan Message
	doneCh     chan struct{}
}

type registerCmd struct {
	name    ModuleName
	mailbox Mailbox
	roles   []RoleTag
	events  []EventTag
	result  chan error
}

func newFrontdesk(log *logrus.Logger, b *broadcaster) *frontdesk {
	return &frontdesk{
		log:        log,
		modules:    make(map[ModuleName]Mailbox),
		pool:       newPool(),
		b:          b,
		registerCh: make(chan registerCmd),
		deliverCh:  make(chan Message, 256),
		doneCh:     make(chan struct{}),
	}
}

func (f *frontdesk) run() {
	for {
		select {
		case cmd := <-f.registerCh:
			f.handleRegister(cmd)
		case msg := <-f.deliverCh:
			f.handleDeliver(msg)
		case <-f.doneCh:
			return
		}
	}
}

func (f *frontdesk) handleRegister(cmd registerCmd) {
	f.mu.Lock()
	if _, exists := f.modules[cmd.name]; exists {
		f.mu.Unlock()
		cmd.result <- errs.Wrapf(errs.ErrDuplicateModule, "module %q already registered", cmd.name)
		return
	}
	f.modules[cmd.name] = cmd.mailbox
	pooled := f.pool.drain(string(cmd.name))
	f.mu.Unlock()

	for _, msg := range pooled {
		deliverTo(cmd.mailbox, msg)
	}

	done := make(chan struct{})
	f.b.regCh <- broadcastRegCmd{name: cmd.name, mailbox: cmd.mailbox, roles: cmd.roles, events: cmd.events, done: done}
	<-done

	cmd.result <- nil
}

func (f *frontdesk) handleDeliver(msg Message) {
	switch msg.Selector.Kind {
	case SelOne:
		f.deliverUnicast(msg)
	default:
		f.b.msgCh <- msg
	}
}

func (f *frontdesk) deliverUnicast(msg Message) {
	name := msg.Selector.Target
	f.mu.Lock()
	mb, ok := f.modules[name]
	f.mu.Unlock()
	if ok {
		deliverTo(mb, msg)
		return
	}

	pooled := f.pool.add(string(name), msg)
	if !pooled {
		f.log.WithField("module", name).Warn("busrouter: dropping unicast for unregistered module past grace window")
	}
}

// closeGrace disables further unicast pooling once the grace window elapses
// (§3 invariant 6).
func (f *frontdesk) closeGrace() {
	f.pool.closeForever()
}

func (f *frontdesk) stop() {
	close(f.doneCh)
}
