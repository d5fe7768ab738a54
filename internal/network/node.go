// Package network carries length-prefixed messages between nodes over QUIC.
// Nodes authenticate each other by the ed25519 key in their self-signed
// certificates.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"Tessera/internal/logger"
)

const (
	// defaultReconnectDelay is the first delay before redialing a lost peer.
	defaultReconnectDelay = time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 30 * time.Second

	// alpnProtocol is the ALPN identifier of the node protocol.
	alpnProtocol = "tessera/1"
)

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey     ed25519.PrivateKey // PrivateKey is the node's transport identity
	ListenAddr     string             // ListenAddr is the address to listen on (e.g., ":9000")
	ReconnectDelay time.Duration      // ReconnectDelay is the initial redial delay
}

// Handlers are the callbacks a Node invokes. Any of them may be nil.
type Handlers struct {
	OnConnect    func(*Peer)                         // OnConnect runs when a peer connects
	OnMessage    func(*Peer, []byte)                 // OnMessage runs for each new one-way message
	OnRequest    func(*Peer, []byte) ([]byte, error) // OnRequest answers a request
	OnDisconnect func(*Peer)                         // OnDisconnect runs when a peer is lost
}

// Node accepts and dials QUIC connections.
type Node struct {
	publicKey  ed25519.PublicKey
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config
	log        *slog.Logger

	listener *quic.Listener

	mu       sync.RWMutex
	peers    map[string]*Peer  // peers maps a public key hex to the connected peer
	redial   map[string]string // redial maps a public key hex to the address to redial
	handlers Handlers

	reconnectDelay time.Duration
	dedup          *Dedup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node; Start begins listening.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	cert, err := selfSignedCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("node certificate:\n%w", err)
	}

	delay := cfg.ReconnectDelay
	if delay == 0 {
		delay = defaultReconnectDelay
	}

	pub := cfg.PrivateKey.Public().(ed25519.PublicKey)
	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		publicKey:  pub,
		listenAddr: cfg.ListenAddr,
		tlsConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			ClientAuth:         tls.RequireAnyClientCert,
			InsecureSkipVerify: true, // peers are identified by key, checked in setupPeer
			NextProtos:         []string{alpnProtocol},
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		log:            logger.Component("network").With("key", hex.EncodeToString(pub[:4])),
		peers:          make(map[string]*Peer),
		redial:         make(map[string]string),
		reconnectDelay: delay,
		dedup:          NewDedup(defaultDedupSize, defaultDedupTTL),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// SetHandlers installs the node's callbacks.
func (n *Node) SetHandlers(h Handlers) {
	n.mu.Lock()
	n.handlers = h
	n.mu.Unlock()
}

// PublicKey returns the node's transport key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.publicKey
}

// Addr returns the listener's address, or "" before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start listens for incoming connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", n.listenAddr, err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Connect dials addr. A peer reached through Connect is redialed with
// backoff whenever the connection is lost.
func (n *Node) Connect(ctx context.Context, addr string) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	peer, err := n.setupPeer(conn, addr, true)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	n.callOnConnect(peer)

	return peer, nil
}

// Broadcast sends data to every connected peer and returns the last error.
func (n *Node) Broadcast(data []byte) error {
	var lastErr error

	for _, p := range n.Peers() {
		if err := p.Send(data); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Peers returns the connected peers.
func (n *Node) Peers() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}

	return peers
}

// Close stops the node and closes all connections.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.mu.Lock()
	peers := n.peers
	n.peers = make(map[string]*Peer)
	n.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	n.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections until the listener closes.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		peer, err := n.setupPeer(conn, conn.RemoteAddr().String(), false)
		if err != nil {
			n.log.Debug("rejecting connection", "remote", conn.RemoteAddr(), "error", err)
			conn.CloseWithError(1, "setup failed")
			continue
		}

		n.callOnConnect(peer)
	}
}

// setupPeer registers a connection and starts reading from it.
func (n *Node) setupPeer(conn *quic.Conn, addr string, redial bool) (*Peer, error) {
	pub, err := peerPublicKey(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("identify peer:\n%w", err)
	}

	peer := &Peer{publicKey: pub, address: addr, conn: conn, node: n}
	id := peer.ID()

	n.mu.Lock()
	n.peers[id] = peer
	if redial {
		n.redial[id] = addr
	}
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop(n.ctx)
	}()

	return peer, nil
}

// peerLost unregisters a peer and redials it if it was dialed by us.
func (n *Node) peerLost(p *Peer) {
	id := p.ID()

	n.mu.Lock()
	if n.peers[id] == p {
		delete(n.peers, id)
	}
	addr, redial := n.redial[id]
	n.mu.Unlock()

	n.log.Debug("peer disconnected", "peer", p.address)
	n.callOnDisconnect(p)

	if !redial || n.ctx.Err() != nil {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reconnect(id, addr)
	}()
}

// reconnect redials addr with exponential backoff until it succeeds, the
// peer reconnects on its own, or the node closes.
func (n *Node) reconnect(id, addr string) {
	delay := n.reconnectDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.mu.RLock()
		_, connected := n.peers[id]
		n.mu.RUnlock()

		if connected {
			return
		}

		if _, err := n.Connect(n.ctx, addr); err == nil {
			n.log.Info("peer reconnected", "peer", addr)
			return
		}

		delay = min(delay*2, maxReconnectDelay)
	}
}

func (n *Node) callbacks() Handlers {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.handlers
}

func (n *Node) callOnConnect(p *Peer) {
	if fn := n.callbacks().OnConnect; fn != nil {
		fn(p)
	}
}

func (n *Node) callOnDisconnect(p *Peer) {
	if fn := n.callbacks().OnDisconnect; fn != nil {
		fn(p)
	}
}

// deliver hands a one-way message to OnMessage unless it was seen recently.
func (n *Node) deliver(p *Peer, data []byte) {
	if !n.dedup.Check(data) {
		return
	}

	if fn := n.callbacks().OnMessage; fn != nil {
		fn(p, data)
	}
}

// answer runs OnRequest for a request.
func (n *Node) answer(p *Peer, data []byte) ([]byte, error) {
	fn := n.callbacks().OnRequest
	if fn == nil {
		return nil, fmt.Errorf("no request handler")
	}

	return fn(p, data)
}
