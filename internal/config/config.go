package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TSS holds the timing and sizing parameters of the construction protocol.
type TSS struct {
	HintsEnabled   bool // HintsEnabled turns on the hinTS scheme construction
	HistoryEnabled bool // HistoryEnabled turns on the chain-of-trust proof construction

	BootstrapHintsKeyGracePeriod  time.Duration // BootstrapHintsKeyGracePeriod bounds hinTS key gathering at genesis
	TransitionHintsKeyGracePeriod time.Duration // TransitionHintsKeyGracePeriod bounds hinTS key gathering on roster change
	BootstrapProofKeyGracePeriod  time.Duration // BootstrapProofKeyGracePeriod bounds proof key gathering at genesis
	TransitionProofKeyGracePeriod time.Duration // TransitionProofKeyGracePeriod bounds proof key gathering on roster change

	CRSUpdateContributionTime time.Duration // CRSUpdateContributionTime is each contributor's window
	CRSFinalizationDelay      time.Duration // CRSFinalizationDelay separates the last contribution from adoption

	SigningAttemptTimeout               time.Duration // SigningAttemptTimeout expires unfinished signing sessions
	InsufficientSignaturesCheckInterval time.Duration // InsufficientSignaturesCheckInterval paces the proof liveness check

	CRSParties         int // CRSParties is the number of parties the initial CRS supports
	Workers            int // Workers is the number of background crypto workers
	SignatureCacheSize int // SignatureCacheSize bounds the partial signature validation cache
}

// Default returns the parameters used when no config file overrides them.
func Default() TSS {
	return TSS{
		HintsEnabled:                        true,
		HistoryEnabled:                      true,
		BootstrapHintsKeyGracePeriod:        3 * time.Minute,
		TransitionHintsKeyGracePeriod:       time.Minute,
		BootstrapProofKeyGracePeriod:        3 * time.Minute,
		TransitionProofKeyGracePeriod:       time.Minute,
		CRSUpdateContributionTime:           30 * time.Second,
		CRSFinalizationDelay:                10 * time.Second,
		SigningAttemptTimeout:               10 * time.Second,
		InsufficientSignaturesCheckInterval: 10 * time.Second,
		CRSParties:                          256,
		Workers:                             4,
		SignatureCacheSize:                  1024,
	}
}

// Validate rejects non-positive durations and sizes.
func (c TSS) Validate() error {
	durations := map[string]time.Duration{
		"bootstrap_hints_key_grace_period":       c.BootstrapHintsKeyGracePeriod,
		"transition_hints_key_grace_period":      c.TransitionHintsKeyGracePeriod,
		"bootstrap_proof_key_grace_period":       c.BootstrapProofKeyGracePeriod,
		"transition_proof_key_grace_period":      c.TransitionProofKeyGracePeriod,
		"crs_update_contribution_time":           c.CRSUpdateContributionTime,
		"crs_finalization_delay":                 c.CRSFinalizationDelay,
		"signing_attempt_timeout":                c.SigningAttemptTimeout,
		"insufficient_signatures_check_interval": c.InsufficientSignaturesCheckInterval,
	}

	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.CRSParties < 2 || c.CRSParties&(c.CRSParties-1) != 0 {
		return fmt.Errorf("crs_parties must be a power of two of at least 2, got %d", c.CRSParties)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}

	if c.SignatureCacheSize <= 0 {
		return fmt.Errorf("signature_cache_size must be positive, got %d", c.SignatureCacheSize)
	}

	return nil
}

// file mirrors the [tss] table of the node config file.
// It is pre-filled from the current values so absent keys keep them.
type file struct {
	TSS struct {
		HintsEnabled   bool `toml:"hints_enabled"`
		HistoryEnabled bool `toml:"history_enabled"`

		BootstrapHintsKeyGracePeriod        string `toml:"bootstrap_hints_key_grace_period"`
		TransitionHintsKeyGracePeriod       string `toml:"transition_hints_key_grace_period"`
		BootstrapProofKeyGracePeriod        string `toml:"bootstrap_proof_key_grace_period"`
		TransitionProofKeyGracePeriod       string `toml:"transition_proof_key_grace_period"`
		CRSUpdateContributionTime           string `toml:"crs_update_contribution_time"`
		CRSFinalizationDelay                string `toml:"crs_finalization_delay"`
		SigningAttemptTimeout               string `toml:"signing_attempt_timeout"`
		InsufficientSignaturesCheckInterval string `toml:"insufficient_signatures_check_interval"`

		CRSParties         int `toml:"crs_parties"`
		Workers            int `toml:"workers"`
		SignatureCacheSize int `toml:"signature_cache_size"`
	} `toml:"tss"`
}

// Load reads the TOML file at path over the defaults. An empty path yields the defaults.
func Load(path string) (TSS, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config %s:\n%w", path, err)
	}

	cfg, err := Parse(string(data))
	if err != nil {
		return cfg, fmt.Errorf("config %s:\n%w", path, err)
	}

	return cfg, nil
}

// Parse decodes TOML text over the defaults and validates the result.
func Parse(data string) (TSS, error) {
	cfg := Default()
	f := toFile(cfg)

	if _, err := toml.Decode(data, &f); err != nil {
		return cfg, fmt.Errorf("decode config:\n%w", err)
	}

	if err := cfg.fromFile(f); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// toFile renders c in its file form.
func toFile(c TSS) file {
	var f file

	f.TSS.HintsEnabled = c.HintsEnabled
	f.TSS.HistoryEnabled = c.HistoryEnabled
	f.TSS.BootstrapHintsKeyGracePeriod = c.BootstrapHintsKeyGracePeriod.String()
	f.TSS.TransitionHintsKeyGracePeriod = c.TransitionHintsKeyGracePeriod.String()
	f.TSS.BootstrapProofKeyGracePeriod = c.BootstrapProofKeyGracePeriod.String()
	f.TSS.TransitionProofKeyGracePeriod = c.TransitionProofKeyGracePeriod.String()
	f.TSS.CRSUpdateContributionTime = c.CRSUpdateContributionTime.String()
	f.TSS.CRSFinalizationDelay = c.CRSFinalizationDelay.String()
	f.TSS.SigningAttemptTimeout = c.SigningAttemptTimeout.String()
	f.TSS.InsufficientSignaturesCheckInterval = c.InsufficientSignaturesCheckInterval.String()
	f.TSS.CRSParties = c.CRSParties
	f.TSS.Workers = c.Workers
	f.TSS.SignatureCacheSize = c.SignatureCacheSize

	return f
}

// fromFile parses the file form back into c.
func (c *TSS) fromFile(f file) error {
	t := f.TSS

	c.HintsEnabled = t.HintsEnabled
	c.HistoryEnabled = t.HistoryEnabled
	c.CRSParties = t.CRSParties
	c.Workers = t.Workers
	c.SignatureCacheSize = t.SignatureCacheSize

	durations := []struct {
		dst  *time.Duration
		text string
		name string
	}{
		{&c.BootstrapHintsKeyGracePeriod, t.BootstrapHintsKeyGracePeriod, "bootstrap_hints_key_grace_period"},
		{&c.TransitionHintsKeyGracePeriod, t.TransitionHintsKeyGracePeriod, "transition_hints_key_grace_period"},
		{&c.BootstrapProofKeyGracePeriod, t.BootstrapProofKeyGracePeriod, "bootstrap_proof_key_grace_period"},
		{&c.TransitionProofKeyGracePeriod, t.TransitionProofKeyGracePeriod, "transition_proof_key_grace_period"},
		{&c.CRSUpdateContributionTime, t.CRSUpdateContributionTime, "crs_update_contribution_time"},
		{&c.CRSFinalizationDelay, t.CRSFinalizationDelay, "crs_finalization_delay"},
		{&c.SigningAttemptTimeout, t.SigningAttemptTimeout, "signing_attempt_timeout"},
		{&c.InsufficientSignaturesCheckInterval, t.InsufficientSignaturesCheckInterval, "insufficient_signatures_check_interval"},
	}

	for _, d := range durations {
		parsed, err := time.ParseDuration(d.text)
		if err != nil {
			return fmt.Errorf("parse %s:\n%w", d.name, err)
		}

		*d.dst = parsed
	}

	return nil
}
