package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"Tessera/internal/api"
	"Tessera/internal/config"
	"Tessera/internal/engine"
	"Tessera/internal/hints"
	"Tessera/internal/history"
	"Tessera/internal/logger"
	"Tessera/internal/metrics"
	"Tessera/internal/network"
	"Tessera/internal/sequencer"
	"Tessera/internal/state"
	"Tessera/internal/storage"
	"Tessera/internal/work"
)

// Node represents a running Tessera node: the construction services
// applying rounds from a sequencer, and the HTTP API in front of them.
type Node struct {
	cfg     *Config
	tss     config.TSS
	rosters Rosters
	metrics *metrics.Metrics

	storage      *storage.Storage
	network      *network.Node
	pool         *work.Pool
	hintsStore   *state.HintsStore
	historyStore *state.HistoryStore
	hints        *hints.Service
	history      *history.Service
	engine       *engine.Engine
	api          *api.Server

	sequencer *sequencer.Sequencer   // sequencer is set when this node orders rounds
	seqServer *sequencer.Server      // seqServer serves the local sequencer to replicas
	remote    *sequencer.Remote      // remote is set when another node orders rounds
	rounds    <-chan sequencer.Round // rounds feeds the engine
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	tss, err := loadTSSConfig(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}

	rosters, err := loadRosters(cfg.RosterPath)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		tss:     tss,
		rosters: rosters,
		metrics: metrics.New(),
	}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initServices(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initEngine(); err != nil {
		n.Close()
		return nil, err
	}

	n.initOrdering()
	n.initAPI()

	return n, nil
}

// Run starts the node and blocks until a shutdown signal or a fatal error.
func (n *Node) Run() error {
	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if n.sequencer != nil {
		g.Go(func() error { return n.sequencer.Run(ctx) })
		g.Go(func() error { return n.seqServer.Run(ctx) })
	} else {
		g.Go(func() error {
			if err := n.connectSequencer(ctx); err != nil {
				return nil
			}
			return n.remote.Run(ctx)
		})
	}

	g.Go(func() error {
		if err := n.engine.Run(ctx, n.rounds); err != nil {
			return fmt.Errorf("apply rounds:\n%w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	})

	return g.Wait()
}

// Close releases every resource the node holds.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.pool != nil {
		n.pool.Close()
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}
