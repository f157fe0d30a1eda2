// Package version carries build metadata reported by /healthz and the startup log.
package version

// These variables are set at build time via -ldflags
// Example: go build -ldflags "-X github.com/jamesacres/bubblyclouds-auth/internal/version.Version=v1.2.0"
var (
	// Version is the semantic version of the application
	Version = "dev"

	// Commit is the git commit hash
	Commit = "none"

	// BuildTime is the timestamp of the build
	BuildTime = "unknown"
)
