package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"Tessera/internal/roster"
)

// rosterFile is the on-disk form of the roster file:
//
//	[[genesis]]
//	node_id = 1
//	weight  = 10
//	address = "127.0.0.1:9001"
//
// An optional [[candidate]] list names the roster to transition to.
type rosterFile struct {
	Genesis   []rosterEntry `toml:"genesis"`
	Candidate []rosterEntry `toml:"candidate"`
}

type rosterEntry struct {
	NodeID  uint64 `toml:"node_id"`
	Weight  uint64 `toml:"weight"`
	Address string `toml:"address"`
}

// Rosters are the rosters a node is started with.
type Rosters struct {
	Genesis   *roster.Roster // Genesis is the bootstrap roster
	Candidate *roster.Roster // Candidate is nil when no transition is planned
}

// Includes reports whether nodeID is in either roster.
func (r Rosters) Includes(nodeID uint64) bool {
	if r.Genesis.Contains(nodeID) {
		return true
	}

	return r.Candidate != nil && r.Candidate.Contains(nodeID)
}

// loadRosters reads and validates a roster file.
func loadRosters(path string) (Rosters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rosters{}, fmt.Errorf("read roster file:\n%w", err)
	}

	return parseRosters(string(data))
}

// parseRosters decodes roster TOML.
func parseRosters(data string) (Rosters, error) {
	var f rosterFile
	if _, err := toml.Decode(data, &f); err != nil {
		return Rosters{}, fmt.Errorf("decode roster file:\n%w", err)
	}

	genesis, err := roster.New(toEntries(f.Genesis))
	if err != nil {
		return Rosters{}, fmt.Errorf("genesis roster:\n%w", err)
	}

	r := Rosters{Genesis: genesis}
	if len(f.Candidate) == 0 {
		return r, nil
	}

	r.Candidate, err = roster.New(toEntries(f.Candidate))
	if err != nil {
		return Rosters{}, fmt.Errorf("candidate roster:\n%w", err)
	}

	if r.Candidate.Hash() == genesis.Hash() {
		return Rosters{}, fmt.Errorf("candidate roster equals the genesis roster")
	}

	return r, nil
}

func toEntries(in []rosterEntry) []roster.Entry {
	out := make([]roster.Entry, len(in))
	for i, e := range in {
		out[i] = roster.Entry{NodeID: e.NodeID, Weight: e.Weight, Address: e.Address}
	}

	return out
}
