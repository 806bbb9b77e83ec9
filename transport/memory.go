package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/insthync/reqres/manager"
	"github.com/insthync/reqres/message"
	"go.uber.org/zap"
)

var (
	ErrNotAuthority = errors.New("transport: only the authority can address peers")
	ErrNoAuthority  = errors.New("transport: network has no authority")
	ErrUnknownPeer  = errors.New("transport: unknown peer")
)

// Network is an in-process message fabric connecting one authority endpoint
// with any number of peer endpoints. Delivery is asynchronous and unordered,
// like the datagram transports the engine is written against.
type Network struct {
	mu        sync.RWMutex
	authority *Endpoint
	peers     map[message.PeerID]*Endpoint
	nextPeer  atomic.Uint64

	latency   time.Duration
	drop      func(message.Message) bool
	duplicate bool
	log       *zap.Logger

	inflight sync.WaitGroup
}

type NetworkOption func(*Network)

// WithLatency delays every delivery by d.
func WithLatency(d time.Duration) NetworkOption {
	return func(n *Network) { n.latency = d }
}

// WithDropFunc discards every message for which drop returns true.
func WithDropFunc(drop func(message.Message) bool) NetworkOption {
	return func(n *Network) { n.drop = drop }
}

// WithDuplicates delivers every message twice.
func WithDuplicates() NetworkOption {
	return func(n *Network) { n.duplicate = true }
}

func WithNetworkLogger(l *zap.Logger) NetworkOption {
	return func(n *Network) {
		if l != nil {
			n.log = l
		}
	}
}

func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{
		peers: make(map[message.PeerID]*Endpoint),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Authority returns the authority endpoint, creating it on first use.
func (n *Network) Authority() *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.authority == nil {
		n.authority = &Endpoint{network: n, id: message.AuthorityID, authority: true}
	}
	return n.authority
}

// Host returns the authority endpoint, additionally joined as a peer so the
// same process can issue peer requests to itself.
func (n *Network) Host() *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.authority == nil {
		n.authority = &Endpoint{network: n, authority: true}
	}
	if n.authority.id == message.AuthorityID {
		n.authority.id = message.PeerID(n.nextPeer.Add(1))
		n.peers[n.authority.id] = n.authority
	}
	return n.authority
}

// Join adds a new peer endpoint with a fresh PeerID.
func (n *Network) Join() *Endpoint {
	e := &Endpoint{network: n, id: message.PeerID(n.nextPeer.Add(1))}
	n.mu.Lock()
	n.peers[e.id] = e
	n.mu.Unlock()
	return e
}

// Leave disconnects a peer. Messages addressed to it afterwards fail with
// ErrUnknownPeer; deliveries already in flight are dropped.
func (n *Network) Leave(e *Endpoint) {
	n.mu.Lock()
	if n.peers[e.id] == e {
		delete(n.peers, e.id)
	}
	n.mu.Unlock()
	e.closed.Store(true)
}

// Wait blocks until every message sent so far has been delivered or dropped.
func (n *Network) Wait() {
	n.inflight.Wait()
}

func (n *Network) lookupAuthority() (*Endpoint, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.authority == nil {
		return nil, ErrNoAuthority
	}
	return n.authority, nil
}

func (n *Network) lookupPeer(id message.PeerID) (*Endpoint, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return e, nil
}

func (n *Network) deliver(to *Endpoint, sender message.PeerID, msg message.Message, asAuthority bool) error {
	switch msg.(type) {
	case *message.Request, *message.Response:
	default:
		return fmt.Errorf("transport: unsupported message %T", msg)
	}
	if n.drop != nil && n.drop(msg) {
		n.log.Debug("message dropped", zap.Stringer("to", to.id), zap.Bool("as_authority", asAuthority))
		return nil
	}
	copies := 1
	if n.duplicate {
		copies = 2
	}
	for range copies {
		n.inflight.Add(1)
		go func() {
			defer n.inflight.Done()
			if n.latency > 0 {
				time.Sleep(n.latency)
			}
			in := to.inbound()
			if in == nil || to.closed.Load() {
				return
			}
			switch m := msg.(type) {
			case *message.Request:
				in.HandleRequest(sender, m, asAuthority)
			case *message.Response:
				in.HandleResponse(sender, m, asAuthority)
			}
		}()
	}
	return nil
}

// Endpoint is one participant of a Network. It implements manager.Transport.
type Endpoint struct {
	network   *Network
	id        message.PeerID
	authority bool
	closed    atomic.Bool

	mu sync.RWMutex
	in manager.Inbound
}

// ID returns the endpoint's PeerID; a pure authority reports AuthorityID.
func (e *Endpoint) ID() message.PeerID { return e.id }

func (e *Endpoint) Subscribe(in manager.Inbound) {
	e.mu.Lock()
	e.in = in
	e.mu.Unlock()
}

func (e *Endpoint) inbound() manager.Inbound {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.in
}

// SendToAuthority delivers msg to the authority role, identified as coming
// from this endpoint's PeerID.
func (e *Endpoint) SendToAuthority(msg message.Message) error {
	if e.closed.Load() {
		return ErrClosed
	}
	to, err := e.network.lookupAuthority()
	if err != nil {
		return err
	}
	return e.network.deliver(to, e.id, msg, true)
}

// SendToPeer delivers msg to the peer role of the given endpoint. Only the
// authority may address peers.
func (e *Endpoint) SendToPeer(peer message.PeerID, msg message.Message) error {
	if !e.authority {
		return ErrNotAuthority
	}
	to, err := e.network.lookupPeer(peer)
	if err != nil {
		return err
	}
	return e.network.deliver(to, message.AuthorityID, msg, false)
}

var _ manager.Transport = (*Endpoint)(nil)
