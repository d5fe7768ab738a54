package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"Tessera/internal/logger"
	"Tessera/internal/network"
)

// Server exposes a Sequencer over QUIC. Replicas send transactions as
// submit frames, receive every round as a round frame, and fetch rounds
// they missed with replay requests.
type Server struct {
	seq  *Sequencer
	node *network.Node
	sub  <-chan Round
	log  *slog.Logger

	mu     sync.RWMutex
	rounds []Round // rounds[i] is round i+1
}

// NewServer subscribes to seq and takes over node's handlers.
func NewServer(seq *Sequencer, node *network.Node) *Server {
	s := &Server{
		seq:  seq,
		node: node,
		sub:  seq.Subscribe(64),
		log:  logger.Component("sequencer"),
	}

	node.SetHandlers(network.Handlers{
		OnMessage: s.handleMessage,
		OnRequest: s.handleRequest,
		OnConnect: func(p *network.Peer) {
			s.log.Info("replica connected", "peer", p.Address())
		},
	})

	return s
}

// Run records and broadcasts rounds until ctx is done or the sequencer
// stops.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-s.sub:
			if !ok {
				return nil
			}

			s.record(r)

			if err := s.node.Broadcast(frame(frameRound, r.Encode())); err != nil {
				s.log.Debug("round broadcast incomplete", "round", r.Number, "error", err)
			}
		}
	}
}

func (s *Server) record(r Round) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Number != uint64(len(s.rounds))+1 {
		s.log.Error("round out of sequence", "round", r.Number, "expected", len(s.rounds)+1)
		return
	}

	s.rounds = append(s.rounds, r)
}

// Rounds returns the recorded rounds from through to, at most
// maxReplayRounds of them. to zero means the latest round.
func (s *Server) Rounds(from, to uint64) []Round {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := uint64(len(s.rounds))
	if to == 0 || to > latest {
		to = latest
	}

	if from == 0 || from > to {
		return nil
	}

	to = min(to, from+maxReplayRounds-1)

	return append([]Round(nil), s.rounds[from-1:to]...)
}

func (s *Server) handleMessage(p *network.Peer, data []byte) {
	kind, payload, err := parseFrame(data)
	if err != nil || kind != frameSubmit {
		s.log.Debug("unexpected frame", "peer", p.Address(), "kind", kind)
		return
	}

	if err := s.seq.Submit(context.Background(), payload); err != nil {
		s.log.Warn("submission dropped", "peer", p.Address(), "error", err)
	}
}

func (s *Server) handleRequest(p *network.Peer, data []byte) ([]byte, error) {
	kind, payload, err := parseFrame(data)
	if err != nil {
		return nil, err
	}

	if kind != frameReplay {
		return nil, fmt.Errorf("unexpected request frame %d", kind)
	}

	req, err := decodeReplayRequest(payload)
	if err != nil {
		return nil, err
	}

	rounds := s.Rounds(req.From, req.To)
	s.log.Debug("replaying rounds", "peer", p.Address(), "from", req.From, "count", len(rounds))

	return encodeReplay(rounds)
}
