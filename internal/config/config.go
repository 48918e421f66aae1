// Package config resolves ramforge's configuration, layering compiled
// defaults, an optional JSON file, environment variables, and CLI flags
// (each layer overriding the last) into a single Config.
//
// Grounded on the teacher's internal/config/config.go (a DefaultConfig +
// JSON Load/Save pair), generalized here with an env-var layer taken from
// the teacher's own cmd/flashdb/main.go envOrDefault helpers, and a CLI
// flag layer built on spf13/pflag rather than hand-rolled flag parsing.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds one worker's (or the supervisor's) fully resolved settings.
type Config struct {
	Addr    string `json:"addr"`
	DataDir string `json:"data_dir"`

	// Workers distinguishes three states per spec.md §4.6/§6: -1 (the
	// compiled default, and what an absent --workers flag resolves to)
	// means "online CPU count, supervised"; 0 means "run one worker
	// in-process and do not supervise"; a positive N supervises exactly
	// N re-exec'd workers.
	Workers int `json:"workers"`

	AofFlushIntervalMS int `json:"aof_flush_interval_ms"` // 0 selects sync mode
	RingCapacity        int `json:"ring_capacity"`
	SnapshotIntervalS   int `json:"snapshot_interval_s"`
	DrainTimeoutS       int `json:"drain_timeout_s"`

	LogLevel string `json:"log_level"`
}

// Default returns ramforge's compiled defaults: batched AOF mode with a
// 10ms flush interval (set AofFlushIntervalMS to 0 for sync mode), a 60s
// snapshot interval, and a 5s drain grace period per SPEC_FULL.md §13.
func Default() *Config {
	return &Config{
		Addr:               ":1109",
		DataDir:            "data",
		Workers:            -1,
		AofFlushIntervalMS: 10,
		RingCapacity:       4096,
		SnapshotIntervalS:  60,
		DrainTimeoutS:      5,
		LogLevel:           "info",
	}
}

// LoadFile overlays a JSON config file onto cfg, if it exists. A missing
// file is not an error — it simply leaves cfg at its current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, cfg)
}

// applyEnv overlays RAMFORGE_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RAMFORGE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("RAMFORGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RAMFORGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("RAMFORGE_AOF_FLUSH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AofFlushIntervalMS = n
		}
	}
	if v := os.Getenv("RAMFORGE_RING_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RingCapacity = n
		}
	}
	if v := os.Getenv("RAMFORGE_SNAPSHOT_INTERVAL_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotIntervalS = n
		}
	}
	if v := os.Getenv("RAMFORGE_DRAIN_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DrainTimeoutS = n
		}
	}
	if v := os.Getenv("RAMFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Parse resolves a Config from, in increasing precedence: compiled
// defaults, an optional --config JSON file, RAMFORGE_* env vars, then CLI
// flags parsed from args.
func Parse(args []string) (*Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("ramforge", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a ramforge.json config file")
	addr := fs.String("addr", "", "listen address (default \":1109\")")
	dataDir := fs.String("data-dir", "", "data directory")
	workers := fs.Int("workers", -1, "number of worker processes (0 = in-process, unsupervised; default: one per CPU)")
	aofFlushMS := fs.Int("aof-flush-interval-ms", -1, "AOF flush interval in ms (0 = sync mode)")
	ringCap := fs.Int("ring-capacity", 0, "batched-mode AOF ring buffer capacity")
	snapshotS := fs.Int("snapshot-interval-s", 0, "periodic RDB snapshot interval in seconds")
	drainS := fs.Int("drain-timeout-s", 0, "graceful drain timeout in seconds")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := LoadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	// fs.Changed, not *workers != 0, distinguishes "--workers 0" (explicit
	// in-process mode) from an absent flag (which must keep whatever env/
	// file/default already resolved, not collapse to 0).
	if fs.Changed("workers") {
		cfg.Workers = *workers
	}
	if *aofFlushMS >= 0 {
		cfg.AofFlushIntervalMS = *aofFlushMS
	}
	if *ringCap != 0 {
		cfg.RingCapacity = *ringCap
	}
	if *snapshotS != 0 {
		cfg.SnapshotIntervalS = *snapshotS
	}
	if *drainS != 0 {
		cfg.DrainTimeoutS = *drainS
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	return cfg, nil
}

// AofFlushInterval returns AofFlushIntervalMS as a time.Duration.
func (c *Config) AofFlushInterval() time.Duration {
	return time.Duration(c.AofFlushIntervalMS) * time.Millisecond
}

// SnapshotInterval returns SnapshotIntervalS as a time.Duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalS) * time.Second
}

// DrainTimeout returns DrainTimeoutS as a time.Duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutS) * time.Second
}
