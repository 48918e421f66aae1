// Package logging builds the structured go-kit/log logger shared by the
// supervisor and every worker.
package logging

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New builds a leveled, timestamped logger writing logfmt to stderr. role is one
// of "supervisor" or "worker" and id disambiguates multiple workers' logs
// once interleaved on the same stderr.
func New(levelName, role string, id int) log.Logger {
	base := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	base = log.With(base, "ts", log.DefaultTimestampUTC, "role", role)
	if id >= 0 {
		base = log.With(base, "worker_id", id)
	}
	return filterLevel(base, levelName)
}

func filterLevel(logger log.Logger, name string) log.Logger {
	var opt level.Option
	switch name {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}
