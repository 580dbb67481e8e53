// Package version exposes build metadata injected at link time:
//
//	go build -ldflags "-X github.com/HerbHall/mailpulse/internal/version.Version=v0.3.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "none"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Short returns the version string alone.
func Short() string {
	return Version
}

// Map returns build metadata as a map for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     Commit,
		"build_time": BuildTime,
		"go":         runtime.Version(),
	}
}

// Info returns a one-line human-readable summary.
func Info() string {
	return fmt.Sprintf("mailpulse %s (commit %s, built %s, %s)", Version, Commit, BuildTime, runtime.Version())
}
