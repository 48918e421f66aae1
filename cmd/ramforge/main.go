// ramforge - a durable, multi-worker key/value engine.
//
// Usage:
//
//	ramforge [flags]
//
// Flags:
//
//	--addr string                  Listen address (default ":1109")
//	--data-dir string               Data directory (default "data")
//	--workers int                   Worker process count (0 = in-process, unsupervised; default: one per CPU)
//	--aof-flush-interval-ms int     AOF flush interval in ms (0 = sync mode)
//	--ring-capacity int             Batched-mode AOF ring buffer capacity
//	--snapshot-interval-s int       Periodic RDB snapshot interval, seconds
//	--drain-timeout-s int           Graceful drain timeout, seconds
//	--log-level string              debug, info, warn, error
//	--config string                 Path to a ramforge.json config file
//
// A single binary plays two roles, selected by the presence of the
// RAMFORGE_WORKER_ID environment variable: absent, it is the supervisor
// that re-execs itself once per worker; present, it is the worker itself
// (see internal/supervisor). With --workers 0 and the variable absent, the
// process runs one worker in-process with no supervisor.
package main

import (
	"fmt"
	"os"

	"github.com/ramforge/ramforge/internal/config"
	"github.com/ramforge/ramforge/internal/logging"
	"github.com/ramforge/ramforge/internal/supervisor"
	"github.com/ramforge/ramforge/internal/version"
	"github.com/ramforge/ramforge/internal/worker"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ramforge:", err)
		os.Exit(1)
	}

	if id, ok := supervisor.RunningInWorker(); ok {
		logger := logging.New(cfg.LogLevel, "worker", id)
		ctx, cancel := supervisor.WorkerContext()
		defer cancel()
		if err := worker.Bootstrap(ctx, cfg, id, logger); err != nil {
			fmt.Fprintf(os.Stderr, "ramforge worker %d: %v\n", id, err)
			os.Exit(1)
		}
		return
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fmt.Fprintln(os.Stderr, "ramforge: create data dir:", err)
		os.Exit(1)
	}

	// cfg.Workers == 0 is spec.md §4.6/§6's "run one worker in-process and
	// do not supervise": no re-exec, no supervisor process/state machine,
	// just this process calling worker.Bootstrap directly. Any other value
	// (including the -1 "flag absent" sentinel) goes through the supervisor.
	if cfg.Workers == 0 {
		logger := logging.New(cfg.LogLevel, "worker", 0)
		logger.Log("msg", "ramforge starting in-process", "version", version.Version, "data_dir", cfg.DataDir, "addr", cfg.Addr)
		ctx, cancel := supervisor.WorkerContext()
		defer cancel()
		if err := worker.Bootstrap(ctx, cfg, 0, logger); err != nil {
			fmt.Fprintln(os.Stderr, "ramforge:", err)
			os.Exit(1)
		}
		return
	}

	logger := logging.New(cfg.LogLevel, "supervisor", -1)
	logger.Log("msg", "ramforge starting", "version", version.Version, "data_dir", cfg.DataDir, "addr", cfg.Addr)

	if err := supervisor.Run(cfg, logger); err != nil {
		fmt.Fprintln(os.Stderr, "ramforge:", err)
		os.Exit(1)
	}
}
