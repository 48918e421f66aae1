// Package worker bootstraps a single ramforge worker process: it pins
// itself to a CPU, recovers its slice of the data directory, and serves
// HTTP until told to drain.
//
// Grounded on the teacher's cmd/flashdb/main.go boot sequence (create data
// dir, open the durability engine, wire the server, wait on a signal
// channel), generalized to the per-worker data directory and
// persistence.Controller this spec's multi-worker model requires.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/ramforge/ramforge/internal/config"
	"github.com/ramforge/ramforge/internal/cpuaffinity"
	"github.com/ramforge/ramforge/internal/httpapi"
	"github.com/ramforge/ramforge/internal/index"
	"github.com/ramforge/ramforge/internal/persistence"
	"github.com/ramforge/ramforge/internal/ramerr"
)

// ExitCorrupt is the process exit code spec.md §7 mandates for
// unrecoverable recovery errors encountered at boot.
const ExitCorrupt = 2

// Bootstrap runs a worker to completion: boot, serve, and block until ctx
// is cancelled (by the supervisor's signal handling), then drain.
func Bootstrap(ctx context.Context, cfg *config.Config, id int, logger log.Logger) error {
	if err := cpuaffinity.Pin(id); err != nil {
		level.Warn(logger).Log("msg", "cpu pin failed, continuing unpinned", "worker_id", id, "err", err)
	}

	dataDir := filepath.Join(cfg.DataDir, fmt.Sprintf("worker-%d", id))
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("worker %d: create data dir: %w", id, err)
	}

	ix := index.New()
	ctrl, err := persistence.Init(persistence.Config{
		RDBPath:          filepath.Join(dataDir, "dump.rdb"),
		AOFPath:          filepath.Join(dataDir, "append.aof"),
		RingCapacity:     cfg.RingCapacity,
		AOFFlushInterval: cfg.AofFlushInterval(),
		SnapshotInterval: cfg.SnapshotInterval(),
	}, ix, logger)
	if err != nil {
		var corrupt *ramerr.Corrupt
		if errors.As(err, &corrupt) {
			level.Error(logger).Log("msg", "unrecoverable corruption during recovery", "worker_id", id, "err", err)
			os.Exit(ExitCorrupt)
		}
		return fmt.Errorf("worker %d: persistence init: %w", id, err)
	}

	app := httpapi.New(ix, ctrl, logger)
	ln, err := app.Listen(cfg.Addr)
	if err != nil {
		ctrl.Shutdown()
		return fmt.Errorf("worker %d: listen %s: %w", id, cfg.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.Serve(ln)
	}()

	level.Info(logger).Log("msg", "worker ready", "worker_id", id, "addr", cfg.Addr)

	select {
	case <-ctx.Done():
		level.Info(logger).Log("msg", "worker draining", "worker_id", id)
		return drain(ln, ctrl, cfg.DrainTimeout(), logger, id)
	case err := <-serveErr:
		ctrl.Shutdown()
		if err != nil {
			return fmt.Errorf("worker %d: serve: %w", id, err)
		}
		return nil
	}
}

// drain stops accepting new connections and gives the persistence
// controller up to timeout to flush and close cleanly (SPEC_FULL.md §13's
// graceful drain timeout, default 5s).
func drain(ln net.Listener, ctrl *persistence.Controller, timeout time.Duration, logger log.Logger, id int) error {
	_ = ln.Close()

	done := make(chan error, 1)
	go func() { done <- ctrl.Shutdown() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		level.Warn(logger).Log("msg", "drain timeout exceeded, exiting anyway", "worker_id", id)
		return nil
	}
}
