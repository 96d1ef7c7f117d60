// Package version carries build metadata stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/storyloom/storyloom/pkg/version.Version=v0.3.0"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("storyloom %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// Fields returns the build metadata as logger key/value pairs.
func Fields() []any {
	return []any{"version", Version, "gitCommit", GitCommit, "buildTime", BuildTime}
}
