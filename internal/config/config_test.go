package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsApplyWithNoOverrides(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, ":1109", cfg.Addr)
	require.Equal(t, 10, cfg.AofFlushIntervalMS)
	require.Equal(t, 60, cfg.SnapshotIntervalS)
	require.Equal(t, -1, cfg.Workers) // absent --workers means "online CPU count", not in-process
}

func TestExplicitWorkersZeroSelectsInProcessMode(t *testing.T) {
	cfg, err := Parse([]string{"--workers", "0"})
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Workers) // distinguishable from the -1 "absent" default
}

func TestFlagsOverrideEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ramforge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"addr": ":7000", "workers": 2}`), 0644))

	t.Setenv("RAMFORGE_ADDR", ":8000")

	cfg, err := Parse([]string{"--config", path, "--addr", ":9000"})
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.Addr) // flag wins
	require.Equal(t, 2, cfg.Workers)    // file value survives (not overridden)
}

func TestEnvOverridesFileWhenNoFlagGiven(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ramforge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"addr": ":7000"}`), 0644))

	t.Setenv("RAMFORGE_ADDR", ":8000")

	cfg, err := Parse([]string{"--config", path})
	require.NoError(t, err)
	require.Equal(t, ":8000", cfg.Addr)
}

func TestDurationHelpersConvertUnits(t *testing.T) {
	cfg := Default()
	cfg.AofFlushIntervalMS = 50
	cfg.SnapshotIntervalS = 30
	cfg.DrainTimeoutS = 5

	require.Equal(t, "50ms", cfg.AofFlushInterval().String())
	require.Equal(t, "30s", cfg.SnapshotInterval().String())
	require.Equal(t, "5s", cfg.DrainTimeout().String())
}
