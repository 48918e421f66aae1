// Package version provides the ramforge version string.
package version

// Version is the current ramforge version.
// Override at build time: go build -ldflags "-X github.com/ramforge/ramforge/internal/version.Version=1.0.0"
var Version = "0.1.0"

// BuildTime is the build timestamp.
// Override at build time: go build -ldflags "-X github.com/ramforge/ramforge/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var BuildTime = "unknown"
