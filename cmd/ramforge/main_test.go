package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ramforge/ramforge/internal/config"
	"github.com/ramforge/ramforge/internal/logging"
	"github.com/ramforge/ramforge/internal/record"
	"github.com/ramforge/ramforge/internal/worker"
)

// exitHelperEnv marks the re-exec'd subprocess branch of
// Test_CorruptAOFExitsProcessWithCode2, the same self-re-exec trick
// pkg/fs/crash_failpoint_test.go uses to observe a real process exit code
// rather than a library-level error return.
const exitHelperEnv = "RAMFORGE_CORRUPT_EXIT_HELPER"

// Test_CorruptAOFExitsProcessWithCode2 drives the corrupt-AOF startup
// scenario end to end: a worker booting against an AOF whose CRC footer
// does not match must exit the whole process with status 2, not merely
// return a library error.
func Test_CorruptAOFExitsProcessWithCode2(t *testing.T) {
	if os.Getenv(exitHelperEnv) == "1" {
		cfg, err := config.Parse(nil)
		if err != nil {
			os.Exit(1)
		}
		logger := logging.New(cfg.LogLevel, "worker", 0)
		_ = worker.Bootstrap(context.Background(), cfg, 0, logger)
		// Bootstrap calls os.Exit(worker.ExitCorrupt) itself on corruption;
		// reaching here means it didn't, which the outer assertion catches.
		return
	}

	dir := t.TempDir()
	workerDir := filepath.Join(dir, "worker-0")
	require.NoError(t, os.MkdirAll(workerDir, 0755))

	raw := record.EncodeAOF(1, []byte("neo"))
	raw[len(raw)-1] ^= 0xFF // flip a byte inside the CRC footer
	require.NoError(t, os.WriteFile(filepath.Join(workerDir, "append.aof"), raw, 0644))

	cmd := exec.Command(os.Args[0], "-test.run=^Test_CorruptAOFExitsProcessWithCode2$")
	cmd.Env = append(os.Environ(),
		exitHelperEnv+"=1",
		"RAMFORGE_DATA_DIR="+dir,
		"RAMFORGE_WORKERS=0",
	)

	err := cmd.Run()
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, worker.ExitCorrupt, exitErr.ExitCode())
}
