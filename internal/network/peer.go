package network

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// defaultRequestTimeout bounds a Request whose context has no deadline.
const defaultRequestTimeout = 30 * time.Second

// ErrPeerClosed is returned when sending to a closed peer.
var ErrPeerClosed = fmt.Errorf("peer is closed")

// Peer is a connection to a remote node.
type Peer struct {
	publicKey ed25519.PublicKey // publicKey is the remote transport key
	address   string            // address is the remote address
	conn      *quic.Conn        // conn is the underlying QUIC connection
	node      *Node             // node owns the peer
	closed    atomic.Bool       // closed is set once the peer is closed
	mu        sync.Mutex        // mu serializes Send so messages keep their order
}

// ID returns the hex encoding of the peer's public key.
func (p *Peer) ID() string {
	return hex.EncodeToString(p.publicKey)
}

// PublicKey returns the remote transport key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Send writes data on a new one-way stream.
func (p *Peer) Send(data []byte) error {
	if p.closed.Load() {
		return ErrPeerClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return fmt.Errorf("open stream:\n%w", err)
	}

	if err := writeMessage(stream, data); err != nil {
		stream.CancelWrite(0)
		return err
	}

	return stream.Close()
}

// Request sends data on a bidirectional stream and waits for the answer.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrPeerClosed
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	response, err := readMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return response, nil
}

// Close closes the connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// receiveLoop serves the peer's streams until the connection ends.
func (p *Peer) receiveLoop(ctx context.Context) {
	go p.serveRequests(ctx)

	for {
		stream, err := p.conn.AcceptUniStream(ctx)
		if err != nil {
			break
		}

		go func() {
			data, err := readMessage(stream)
			if err != nil {
				p.node.log.Debug("stream read error", "peer", p.address, "error", err)
				return
			}

			p.node.deliver(p, data)
		}()
	}

	if !p.closed.Swap(true) {
		p.node.peerLost(p)
	}
}

// serveRequests answers bidirectional streams.
func (p *Peer) serveRequests(ctx context.Context) {
	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			return
		}

		go func() {
			defer stream.Close()

			data, err := readMessage(stream)
			if err != nil {
				return
			}

			response, err := p.node.answer(p, data)
			if err != nil {
				p.node.log.Debug("request failed", "peer", p.address, "error", err)
				stream.CancelWrite(1)
				return
			}

			writeMessage(stream, response)
		}()
	}
}
