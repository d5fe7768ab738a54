package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"Tessera/internal/logger"
	"Tessera/internal/network"
)

const (
	// catchUpInterval is how often a replica asks for rounds it may have missed.
	catchUpInterval = 5 * time.Second

	// replayTimeout bounds one replay request.
	replayTimeout = 30 * time.Second
)

// ErrNotConnected is returned by Submit while the sequencer is unreachable.
var ErrNotConnected = errors.New("sequencer: not connected")

// Remote is a replica's view of a remote Server. It delivers rounds in
// order without gaps, fetching missed rounds by replay.
type Remote struct {
	node *network.Node
	addr string
	log  *slog.Logger

	buffer  *roundBuffer
	server  atomic.Pointer[network.Peer] // server is the live connection, nil while disconnected
	catchUp atomic.Bool                  // catchUp requests an open-ended replay
	wake    chan struct{}
	out     chan Round
}

// NewRemote takes over node's handlers. Delivery starts at round next.
func NewRemote(node *network.Node, addr string, next uint64) *Remote {
	r := &Remote{
		node:   node,
		addr:   addr,
		log:    logger.Component("sequencer").With("server", addr),
		buffer: newRoundBuffer(max(next, 1)),
		wake:   make(chan struct{}, 1),
		out:    make(chan Round, 64),
	}

	node.SetHandlers(network.Handlers{
		OnConnect:    r.connected,
		OnDisconnect: r.disconnected,
		OnMessage:    r.handleMessage,
	})

	return r
}

// Connect dials the server. The node redials it if the connection drops.
func (r *Remote) Connect(ctx context.Context) error {
	if _, err := r.node.Connect(ctx, r.addr); err != nil {
		return fmt.Errorf("connect to sequencer:\n%w", err)
	}

	return nil
}

// Submit sends a sealed transaction to the sequencer.
func (r *Remote) Submit(ctx context.Context, tx []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	peer := r.server.Load()
	if peer == nil {
		return ErrNotConnected
	}

	return peer.Send(frame(frameSubmit, tx))
}

// Rounds delivers rounds in order. It is closed when Run returns.
func (r *Remote) Rounds() <-chan Round {
	return r.out
}

// Run delivers rounds and fills gaps until ctx is done.
func (r *Remote) Run(ctx context.Context) error {
	defer close(r.out)

	ticker := time.NewTicker(catchUpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.wake:
		case <-ticker.C:
			r.catchUp.Store(true)
		}

		if err := r.deliver(ctx); err != nil {
			return nil
		}

		req, gap := r.buffer.gap()
		if !gap && !r.catchUp.Swap(false) {
			continue
		}

		if err := r.fetch(ctx, req); err != nil {
			r.log.Warn("replay failed", "from", req.From, "error", err)
			continue
		}

		if err := r.deliver(ctx); err != nil {
			return nil
		}
	}
}

// deliver hands the contiguous rounds to the output channel.
func (r *Remote) deliver(ctx context.Context) error {
	for _, round := range r.buffer.release() {
		select {
		case r.out <- round:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// fetch replays the requested rounds into the buffer.
func (r *Remote) fetch(ctx context.Context, req replayRequest) error {
	peer := r.server.Load()
	if peer == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, replayTimeout)
	defer cancel()

	resp, err := peer.Request(ctx, req.encode())
	if err != nil {
		return fmt.Errorf("request replay:\n%w", err)
	}

	rounds, err := decodeReplay(resp)
	if err != nil {
		return err
	}

	for _, round := range rounds {
		r.buffer.add(round)
	}

	if len(rounds) == maxReplayRounds {
		r.catchUp.Store(true)
		r.signal()
	}

	if len(rounds) > 0 {
		r.log.Debug("rounds replayed", "from", rounds[0].Number, "count", len(rounds))
	}

	return nil
}

func (r *Remote) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Remote) connected(p *network.Peer) {
	r.server.Store(p)
	r.catchUp.Store(true)
	r.signal()
	r.log.Info("connected to sequencer", "next_round", r.buffer.nextNumber())
}

func (r *Remote) disconnected(p *network.Peer) {
	if r.server.CompareAndSwap(p, nil) {
		r.log.Warn("sequencer connection lost")
	}
}

func (r *Remote) handleMessage(p *network.Peer, data []byte) {
	kind, payload, err := parseFrame(data)
	if err != nil || kind != frameRound {
		return
	}

	round, err := DecodeRound(payload)
	if err != nil {
		r.log.Warn("invalid round", "error", err)
		return
	}

	if r.buffer.add(round) {
		r.signal()
	}
}
