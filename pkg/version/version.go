package version

import (
	_ "embed"
	"runtime"
	"strings"
)

//go:embed VERSION
var version string

// Git commit hash, injected at build time via
// -ldflags "-X github.com/openvacs/vacs/pkg/version.gitCommit=...".
var gitCommit = "unknown"

// Get returns the current version of the application.
func Get() string {
	return strings.TrimSpace(version)
}

// GitCommit returns the git commit the binary was built from.
func GitCommit() string {
	return gitCommit
}

// GoVersion returns the Go toolchain version the binary was built with.
func GoVersion() string {
	return runtime.Version()
}
