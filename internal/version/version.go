// Package version holds build-time version metadata, set with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// GoVersion reports the toolchain the binary was built with.
func GoVersion() string { return runtime.Version() }

// String renders the one-line version banner.
func String() string {
	return fmt.Sprintf("ioloop %s (commit %s, built %s, %s)", Version, Commit, Date, GoVersion())
}

// Detail renders the multi-line report printed by `ioloop --version`, ending
// in a newline. It names the platform because the loop and spawner are
// Linux-only.
func Detail() string {
	return fmt.Sprintf("ioloop %s\n  commit:  %s\n  built:   %s\n  go:      %s\n  os/arch: %s/%s\n",
		Version, Commit, Date, GoVersion(), runtime.GOOS, runtime.GOARCH)
}
