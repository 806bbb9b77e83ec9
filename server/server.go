// Package server is the authority side of the TCP transport.
//
// Connection lifecycle:
//
//	Accept conn → Hello{Version} (semver check) → assign PeerID → Welcome{PeerID}
//	  → heartbeat loop + read loop (frames dispatched to the manager in parallel)
//	  → on read error: forget the peer, close the conn
//
// The server implements manager.Transport for a manager acting as authority.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/manager"
	"github.com/insthync/reqres/message"
	"github.com/insthync/reqres/protocol"
	"github.com/insthync/reqres/registry"
	"github.com/insthync/reqres/transport"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

var (
	ErrAuthorityOnly = errors.New("server: the authority cannot send to itself over TCP")
	ErrUnknownPeer   = errors.New("server: unknown peer")
	ErrNotSubscribed = errors.New("server: no inbound handler subscribed")
)

const (
	DefaultHeartbeat        = 30 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultAcceptVersions   = "^1.0.0"
	DefaultVersion          = "1.0.0"
)

// Server accepts peer connections and routes frames between them and the
// authority role of a manager.
type Server struct {
	codecType        codec.CodecType
	heartbeat        time.Duration
	handshakeTimeout time.Duration
	accept           *semver.Constraints
	version          string // Advertised in the registry
	log              *zap.Logger

	registry      registry.Registry
	realm         string
	ttl           int64
	advertiseAddr string // Address registered in the registry; defaults to the listener's
	weight        int

	onConnect    func(message.PeerID)
	onDisconnect func(message.PeerID)

	listener net.Listener
	shutdown atomic.Bool
	wg       sync.WaitGroup // Tracks connection goroutines for graceful shutdown
	nextPeer atomic.Uint64

	mu    sync.RWMutex
	peers map[message.PeerID]*transport.Conn
	in    manager.Inbound
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func WithCodec(t codec.CodecType) Option {
	return func(s *Server) { s.codecType = t }
}

// WithHeartbeat sets the keepalive interval; zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// WithVersion sets the protocol version advertised in the registry.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) { s.handshakeTimeout = d }
}

// WithRegistry advertises the server under realm while it serves.
// An empty advertiseAddr uses the listener address.
func WithRegistry(reg registry.Registry, realm, advertiseAddr string, ttlSeconds int64, weight int) Option {
	return func(s *Server) {
		s.registry = reg
		s.realm = realm
		s.advertiseAddr = advertiseAddr
		s.ttl = ttlSeconds
		s.weight = weight
	}
}

// WithPeerHooks installs callbacks run after a peer completes the handshake and
// after it disconnects.
func WithPeerHooks(onConnect, onDisconnect func(message.PeerID)) Option {
	return func(s *Server) {
		s.onConnect = onConnect
		s.onDisconnect = onDisconnect
	}
}

// New creates a server that accepts peers whose protocol version satisfies the
// semver constraint acceptVersions.
func New(acceptVersions string, opts ...Option) (*Server, error) {
	if acceptVersions == "" {
		acceptVersions = DefaultAcceptVersions
	}
	constraint, err := semver.NewConstraint(acceptVersions)
	if err != nil {
		return nil, fmt.Errorf("server: accepted versions %q: %w", acceptVersions, err)
	}
	s := &Server{
		codecType:        codec.CodecTypeBinary,
		heartbeat:        DefaultHeartbeat,
		handshakeTimeout: DefaultHandshakeTimeout,
		accept:           constraint,
		version:          DefaultVersion,
		log:              zap.NewNop(),
		peers:            make(map[message.PeerID]*transport.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) Subscribe(in manager.Inbound) {
	s.mu.Lock()
	s.in = in
	s.mu.Unlock()
}

// SendToPeer writes msg on the connection of peer.
func (s *Server) SendToPeer(peer message.PeerID, msg message.Message) error {
	s.mu.RLock()
	conn, ok := s.peers[peer]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	return conn.Send(msg)
}

func (s *Server) SendToAuthority(message.Message) error {
	return ErrAuthorityOnly
}

// Peers lists the currently connected peers.
func (s *Server) Peers() []message.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]message.PeerID, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ListenAndServe listens on the TCP address and calls Serve.
func (s *Server) ListenAndServe(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve advertises the server in the registry, if configured, and accepts peers
// until Shutdown. It returns nil after a Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	in := s.in
	s.listener = l
	if s.advertiseAddr == "" {
		s.advertiseAddr = l.Addr().String()
	}
	s.mu.Unlock()
	if in == nil {
		l.Close()
		return ErrNotSubscribed
	}

	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.registry.Register(ctx, s.realm, registry.Instance{
			Addr:    s.advertiseAddr,
			Weight:  s.weight,
			Version: s.version,
		}, s.ttl)
		cancel()
		if err != nil {
			l.Close()
			return fmt.Errorf("server: register %s: %w", s.advertiseAddr, err)
		}
	}
	s.log.Info("authority listening", zap.String("addr", l.Addr().String()), zap.String("realm", s.realm))

	for {
		raw, err := l.Accept()
		if err != nil {
			// Closing the listener during Shutdown makes Accept fail.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(raw, in)
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConn(raw net.Conn, in manager.Inbound) {
	defer s.wg.Done()
	conn := transport.NewConn(raw, s.codecType)
	defer conn.Close()
	log := s.log.With(zap.String("session", xid.New().String()), zap.Stringer("remote", raw.RemoteAddr()))

	peer, err := s.handshake(conn)
	if err != nil {
		log.Warn("handshake rejected", zap.Error(err))
		return
	}
	log = log.With(zap.Stringer("peer", peer))
	log.Info("peer connected")

	defer func() {
		s.mu.Lock()
		delete(s.peers, peer)
		s.mu.Unlock()
		if s.onDisconnect != nil {
			s.onDisconnect(peer)
		}
		log.Info("peer disconnected")
	}()
	if s.onConnect != nil {
		s.onConnect(peer)
	}

	go conn.HeartbeatLoop(s.heartbeat)
	if err := conn.Serve(in, peer, true); err != nil && !s.shutdown.Load() {
		log.Debug("read loop ended", zap.Error(err))
	}
}

// handshake validates the peer's Hello and answers with its PeerID. The peer
// is reachable through SendToPeer once Welcome has been written.
func (s *Server) handshake(conn *transport.Conn) (message.PeerID, error) {
	var hello message.Hello
	if err := conn.ReadExpect(protocol.MsgTypeHello, &hello, s.handshakeTimeout); err != nil {
		return 0, err
	}
	v, err := semver.NewVersion(hello.Version)
	if err != nil {
		return 0, fmt.Errorf("peer version %q: %w", hello.Version, err)
	}
	if !s.accept.Check(v) {
		return 0, fmt.Errorf("peer version %s does not satisfy %s", v, s.accept)
	}

	peer := message.PeerID(s.nextPeer.Add(1))
	if err := conn.Write(protocol.MsgTypeWelcome, &message.Welcome{PeerID: peer}); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return 0, errors.New("server shutting down")
	}
	s.peers[peer] = conn
	return peer, nil
}

// Shutdown stops accepting peers and tears the server down:
//  1. Deregister from the registry so new peers stop picking this server
//  2. Close the listener
//  3. Close every peer connection and wait for their goroutines, up to timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.registry.Deregister(ctx, s.realm, s.advertiseAddr); err != nil {
			s.log.Warn("deregister failed", zap.Error(err))
		}
		cancel()
	}

	// The flag must be set before the listener closes so Serve returns nil.
	s.shutdown.Store(true)
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, conn := range s.peers {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for connections to close")
	}
}

var _ manager.Transport = (*Server)(nil)
