// Package p2p wraps a libp2p host with a gossipsub topic and mDNS discovery
// into the router's "inter-node network" role module. In the shape of
// network.go's NewNode / Broadcast / Subscribe / HandlePeerFound,
// generalized from a generic pubsub node into the two topics this system
// uses (block gossip, and the request/response exchange NetworkModule
// carries) plus peer bookkeeping the blockchain engine's
// scheduler relies on to know where to send requests.
package p2p

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// PeerID is a libp2p peer identifier, kept as a string wrapper so callers
// outside this package need not import libp2p types.
type PeerID string

// Peer records a known remote node.
type Peer struct {
	ID   PeerID
	Addr string
}

// Message is a decoded gossipsub delivery.
type Message struct {
	From  PeerID
	Topic string
	Data  []byte
}

// Config bundles the node's wiring, threaded from internal/config.
type Config struct {
	ListenAddr     string
	DiscoveryTag   string
	BootstrapPeers []string
}

const blocksTopic = "duniter/blocks"

// Node is the network module: it owns the libp2p host and gossipsub
// subscriptions and exposes peer/topic plumbing to the rest of the node.
type Node struct {
	log    *logrus.Logger
	cfg    Config
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[PeerID]*Peer
}

// NewNode creates and bootstraps the p2p node.
func NewNode(log *logrus.Logger, cfg Config) (*Node, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: failed to create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("p2p: failed to create pubsub: %w", err)
	}

	n := &Node{
		log:    log,
		cfg:    cfg,
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[PeerID]*Peer),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		log.Warnf("p2p: DialSeed warning: %v", err)
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	return n, nil
}

// ID returns the node's own libp2p peer identity, the `keys` CLI command's
// peer-id report. Distinct from a WoT member's signing keypair, which this
// package never touches.
func (n *Node) ID() PeerID {
	return PeerID(n.host.ID().String())
}

// Ensure Node implements mdns.Notifee.
var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a discovered peer.
// It ignores self-connections and avoids duplicating existing peers.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}

	n.peerLock.RLock()
	_, exists := n.peers[PeerID(info.ID.String())]
	n.peerLock.RUnlock()
	if exists {
		return
	}

	if err := n.host.Connect(n.ctx, info); err != nil {
		n.log.Warnf("p2p: failed to connect to discovered peer %s: %v", info.ID.String(), err)
		return
	}

	n.peerLock.Lock()
	n.peers[PeerID(info.ID.String())] = &Peer{ID: PeerID(info.ID.String()), Addr: info.String()}
	n.peerLock.Unlock()
	n.log.Infof("p2p: connected to peer %s via mDNS", info.ID.String())
}

// DialSeed connects to a list of bootstrap peers.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.peerLock.Lock()
		n.peers[PeerID(pi.ID.String())] = &Peer{ID: PeerID(pi.ID.String()), Addr: addr}
		n.peerLock.Unlock()
		n.log.Infof("p2p: bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("p2p: dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Broadcast publishes data on the given topic, joining it lazily.
func (n *Node) Broadcast(topic string, data []byte) error {
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return fmt.Errorf("p2p: join topic %s: %w", topic, err)
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()
	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("p2p: publish topic %s: %w", topic, err)
	}
	return nil
}

// BroadcastBlock gossips a serialized block on the blocks topic.
func (n *Node) BroadcastBlock(data []byte) error {
	return n.Broadcast(blocksTopic, data)
}

// Subscribe listens for messages on a topic.
func (n *Node) Subscribe(topic string) (<-chan Message, error) {
	n.topicLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		var err error
		sub, err = n.pubsub.Subscribe(topic)
		if err != nil {
			n.topicLock.Unlock()
			return nil, fmt.Errorf("p2p: subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.topicLock.Unlock()
	out := make(chan Message)
	go func() {
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				n.log.Warnf("p2p: subscription next error: %v", err)
				close(out)
				return
			}
			out <- Message{From: PeerID(msg.GetFrom().String()), Topic: topic, Data: msg.Data}
		}
	}()
	return out, nil
}

// SubscribeBlocks subscribes to the blocks topic.
func (n *Node) SubscribeBlocks() (<-chan Message, error) {
	return n.Subscribe(blocksTopic)
}

// ListenAndServe blocks until the node's context is cancelled.
func (n *Node) ListenAndServe() {
	<-n.ctx.Done()
	n.log.Info("p2p: network node shutting down")
}

// Close tears down the node, closing the host and cancelling its context.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// Peers returns the current peer list.
func (n *Node) Peers() []*Peer {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	list := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		list = append(list, p)
	}
	return list
}
