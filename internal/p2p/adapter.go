package p2p

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/internal/blockchain"
	"github.com/duniter-go/node/internal/busrouter"
)

const requestsTopic = "duniter/requests"

// wireEnvelope is the JSON shape gossiped on the requests topic: either a
// request for a piece of consensus state or a response to one. Newly
// produced blocks do not use it; they go out as plain block JSON on the
// blocks topic.
type wireEnvelope struct {
	Kind     string                      `json:"kind"`
	ReqID    string                      `json:"reqId,omitempty"`
	Request  *blockchain.RequestContent  `json:"request,omitempty"`
	Response *blockchain.ResponseContent `json:"response,omitempty"`
}

// NetworkModule bridges the blockchain engine's scheduler (the
// blockchain.NetworkAdapter it calls directly) and the router's broadcast
// fabric (the blockchain.EventNewBlock events it subscribes to) onto a
// Node's gossipsub topics. It is the router's "inter-node network" role
// module.
type NetworkModule struct {
	log *logrus.Logger

	node   *Node
	router *busrouter.Router

	self       busrouter.ModuleName
	blockchain busrouter.ModuleName

	mailbox busrouter.Mailbox
}

// NewNetworkModule wires a Node into the router under the given module
// name, answering for the blockchain module named blockchainModule.
func NewNetworkModule(log *logrus.Logger, node *Node, router *busrouter.Router, self, blockchainModule busrouter.ModuleName) *NetworkModule {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NetworkModule{
		log:        log,
		node:       node,
		router:     router,
		self:       self,
		blockchain: blockchainModule,
		mailbox:    busrouter.NewMailbox(256),
	}
}

// Register joins the router, playing the inter-node network role and
// subscribing to EventNewBlock so newly applied blocks get gossiped out.
func (m *NetworkModule) Register() error {
	return m.router.Register(m.self, m.mailbox, []busrouter.RoleTag{"inter-node network"}, []busrouter.EventTag{blockchain.EventNewBlock})
}

// SendRequest implements blockchain.NetworkAdapter: serialize the request
// and gossip it to every connected peer.
func (m *NetworkModule) SendRequest(msg busrouter.Message) {
	content, ok := msg.Payload.Content.(blockchain.RequestContent)
	if !ok {
		m.log.Warn("p2p: SendRequest called with non-RequestContent payload")
		return
	}
	env := wireEnvelope{Kind: "request", ReqID: msg.Payload.ReqID, Request: &content}
	data, err := json.Marshal(env)
	if err != nil {
		m.log.WithError(err).Warn("p2p: failed to encode outgoing request")
		return
	}
	if err := m.node.Broadcast(requestsTopic, data); err != nil {
		m.log.WithError(err).Warn("p2p: failed to broadcast request")
	}
}

// Run drains both halves of the bridge until stop closes: peer gossip
// coming in over libp2p, and router deliveries (block events, request
// answers from the blockchain module) going out over libp2p.
func (m *NetworkModule) Run(stop <-chan struct{}) error {
	inbound, err := m.node.Subscribe(requestsTopic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-stop:
			return nil
		case wireMsg, ok := <-inbound:
			if !ok {
				return nil
			}
			m.handleWire(wireMsg)
		case msg, ok := <-m.mailbox:
			if !ok {
				return nil
			}
			m.handleRouterMessage(msg)
		}
	}
}

func (m *NetworkModule) handleWire(wireMsg Message) {
	var env wireEnvelope
	if err := json.Unmarshal(wireMsg.Data, &env); err != nil {
		m.log.WithError(err).Warn("p2p: failed to decode gossip payload")
		return
	}
	switch env.Kind {
	case "request":
		if env.Request == nil {
			return
		}
		m.router.Deliver(busrouter.Message{
			Selector: busrouter.One(m.blockchain),
			Payload:  busrouter.Request(m.self, m.blockchain, env.ReqID, *env.Request),
		})
	case "response":
		if env.Response == nil {
			return
		}
		m.router.Deliver(busrouter.Message{
			Selector: busrouter.One(m.blockchain),
			Payload:  busrouter.Response(m.self, m.blockchain, env.ReqID, *env.Response),
		})
	default:
		m.log.WithField("kind", env.Kind).Warn("p2p: unknown gossip envelope kind")
	}
}

func (m *NetworkModule) handleRouterMessage(msg busrouter.Message) {
	switch msg.Payload.Kind {
	case busrouter.PKResponse:
		content, ok := msg.Payload.Content.(blockchain.ResponseContent)
		if !ok {
			m.log.Warn("p2p: router response with unexpected content type")
			return
		}
		env := wireEnvelope{Kind: "response", ReqID: msg.Payload.ReqID, Response: &content}
		data, err := json.Marshal(env)
		if err != nil {
			m.log.WithError(err).Warn("p2p: failed to encode outgoing response")
			return
		}
		if err := m.node.Broadcast(requestsTopic, data); err != nil {
			m.log.WithError(err).Warn("p2p: failed to broadcast response")
		}
	case busrouter.PKEvent:
		if msg.Payload.EventKind != blockchain.EventNewBlock {
			return
		}
		b, ok := msg.Payload.Content.(*blockchain.Block)
		if !ok {
			return
		}
		data, err := json.Marshal(b)
		if err != nil {
			m.log.WithError(err).Warn("p2p: failed to encode block for gossip")
			return
		}
		if err := m.node.BroadcastBlock(data); err != nil {
			m.log.WithError(err).Warn("p2p: failed to gossip new block")
		}
	case busrouter.PKStop:
		return
	default:
		m.log.WithField("kind", msg.Payload.Kind).Warn("p2p: unhandled router message kind")
	}
}
