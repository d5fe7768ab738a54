package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"time"
)

// Config holds the node configuration.
type Config struct {
	// NodeID is this node's id in the rosters.
	NodeID uint64

	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the QUIC listen address.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 identity. The BLS and proof keys are
	// derived from it.
	PrivateKey ed25519.PrivateKey

	// ConfigPath is the TSS parameter file, empty for the defaults.
	ConfigPath string

	// RosterPath is the file listing the genesis and candidate rosters.
	RosterPath string

	// Sequencer makes this node the orderer for the others.
	Sequencer bool

	// SequencerAddr is the QUIC address of the remote sequencer.
	SequencerAddr string

	// Interval is how often the sequencer cuts a round.
	Interval time.Duration

	// AutoAdopt hands off to the candidate roster once it is ready.
	AutoAdopt bool

	// LogLevel is the minimum level logged.
	LogLevel string
}

// parseFlags parses command-line arguments into Config.
func parseFlags(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	fs.Uint64Var(&cfg.NodeID, "node-id", 0, "Node id in the roster file")
	fs.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	fs.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	fs.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC address")
	fs.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	fs.StringVar(&cfg.ConfigPath, "config", "", "TSS parameter file (TOML)")
	fs.StringVar(&cfg.RosterPath, "roster", "", "Roster file (TOML)")
	fs.BoolVar(&cfg.Sequencer, "sequencer", false, "Run the sequencer for the other nodes")
	fs.StringVar(&cfg.SequencerAddr, "sequencer-addr", "", "QUIC address of the sequencer")
	fs.DurationVar(&cfg.Interval, "interval", 200*time.Millisecond, "Round interval of the sequencer")
	fs.BoolVar(&cfg.AutoAdopt, "auto-adopt", false, "Adopt the candidate roster as soon as it is ready")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks the flag combination.
func (c *Config) validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("-node-id is required")
	}

	if c.RosterPath == "" {
		return fmt.Errorf("-roster is required")
	}

	if c.Sequencer == (c.SequencerAddr != "") {
		return fmt.Errorf("exactly one of -sequencer and -sequencer-addr is required")
	}

	if c.Sequencer && c.Interval <= 0 {
		return fmt.Errorf("-interval must be positive")
	}

	return nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
