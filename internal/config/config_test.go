package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverridesOnlyPresentKeys(t *testing.T) {
	cfg, err := Parse(`
[tss]
crs_update_contribution_time = "5s"
workers = 2
history_enabled = false
`)
	require.NoError(t, err)

	require.Equal(t, 5*time.Second, cfg.CRSUpdateContributionTime)
	require.Equal(t, 2, cfg.Workers)
	require.False(t, cfg.HistoryEnabled)
	require.True(t, cfg.HintsEnabled)
	require.Equal(t, 10*time.Second, cfg.CRSFinalizationDelay)
}

func TestParseRejectsBadValues(t *testing.T) {
	_, err := Parse("[tss]\nworkers = 0\n")
	require.Error(t, err)

	_, err = Parse("[tss]\ncrs_parties = 12\n")
	require.Error(t, err)

	_, err = Parse("[tss]\nsigning_attempt_timeout = \"soon\"\n")
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte("[tss]\ncrs_finalization_delay = \"2s\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.CRSFinalizationDelay)

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
