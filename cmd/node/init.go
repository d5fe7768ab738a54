package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Tessera/internal/api"
	"Tessera/internal/config"
	"Tessera/internal/engine"
	"Tessera/internal/hints"
	"Tessera/internal/history"
	"Tessera/internal/logger"
	"Tessera/internal/network"
	"Tessera/internal/sequencer"
	"Tessera/internal/state"
	"Tessera/internal/storage"
	"Tessera/internal/submit"
	"Tessera/internal/tsslib"
	"Tessera/internal/work"
)

// initStorage opens the Pebble database in the data directory.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initNetwork creates the QUIC node. It starts listening in Run.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	n.network = node

	return nil
}

// initServices creates the enabled construction services and their stores.
func (n *Node) initServices() error {
	lib := tsslib.New()

	blsKey, proofKey, err := deriveKeys(lib, n.cfg.PrivateKey)
	if err != nil {
		return err
	}

	n.pool = work.NewPool(n.tss.Workers)
	channel := submit.New(n.cfg.NodeID, n.submitTx)

	if n.tss.HintsEnabled {
		if n.hintsStore, err = state.OpenHintsStore(n.storage); err != nil {
			return fmt.Errorf("open hints store:\n%w", err)
		}

		n.hints, err = hints.NewService(hints.Options{
			SelfID:  n.cfg.NodeID,
			BLSKey:  blsKey,
			Store:   n.hintsStore,
			Library: lib,
			Pool:    n.pool,
			Submit:  channel,
			Config:  &n.tss,
			Metrics: n.metrics,
		})
		if err != nil {
			return fmt.Errorf("init hints:\n%w", err)
		}
	}

	if n.tss.HistoryEnabled {
		if n.historyStore, err = state.OpenHistoryStore(n.storage); err != nil {
			return fmt.Errorf("open history store:\n%w", err)
		}

		n.history = history.NewService(history.Options{
			SelfID:   n.cfg.NodeID,
			ProofKey: proofKey,
			Store:    n.historyStore,
			Library:  lib,
			Pool:     n.pool,
			Submit:   channel,
			Config:   &n.tss,
			Metrics:  n.metrics,
		})
	}

	return nil
}

// initEngine restores the applied state and the roster phase.
func (n *Node) initEngine() error {
	e, err := engine.New(engine.Options{
		SelfID:       n.cfg.NodeID,
		Hints:        n.hints,
		HintsStore:   n.hintsStore,
		History:      n.history,
		HistoryStore: n.historyStore,
		Storage:      n.storage,
		Metrics:      n.metrics,
		Genesis:      n.rosters.Genesis,
		Candidate:    n.rosters.Candidate,
		Active:       n.rosters.Includes(n.cfg.NodeID),
		AutoAdopt:    n.cfg.AutoAdopt,
	})
	if err != nil {
		return fmt.Errorf("init engine:\n%w", err)
	}

	n.engine = e

	return nil
}

// initOrdering sets up the local sequencer or the link to the remote one.
func (n *Node) initOrdering() {
	if n.cfg.Sequencer {
		n.sequencer = sequencer.New(n.cfg.Interval)
		n.seqServer = sequencer.NewServer(n.sequencer, n.network)
		n.rounds = n.sequencer.Subscribe(64)
		return
	}

	n.remote = sequencer.NewRemote(n.network, n.cfg.SequencerAddr, n.engine.NextRound())
	n.rounds = n.remote.Rounds()
}

// initAPI creates the HTTP server. It starts listening in Run.
func (n *Node) initAPI() {
	n.api = api.New(n.cfg.HTTPAddress, n.engine, n.engine, n.metrics.Handler())
}

// submitTx hands a sealed transaction to the orderer.
func (n *Node) submitTx(ctx context.Context, tx []byte) error {
	if n.sequencer != nil {
		return n.sequencer.Submit(ctx, tx)
	}

	if n.remote != nil {
		return n.remote.Submit(ctx, tx)
	}

	return sequencer.ErrNotConnected
}

// connectSequencer dials the remote sequencer until it answers.
func (n *Node) connectSequencer(ctx context.Context) error {
	delay := 250 * time.Millisecond

	for {
		err := n.remote.Connect(ctx)
		if err == nil {
			logger.Info("connected to sequencer", "addr", n.cfg.SequencerAddr)
			return nil
		}

		logger.Debug("sequencer unreachable", "addr", n.cfg.SequencerAddr, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = min(delay*2, 5*time.Second)
	}
}

// loadTSSConfig reads the protocol parameters.
func loadTSSConfig(path string) (config.TSS, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load tss config:\n%w", err)
	}

	return cfg, nil
}
