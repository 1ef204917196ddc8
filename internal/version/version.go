// Package version provides version information for the server and CLI.
package version

import (
	"fmt"
	"runtime/debug"
)

const (
	// Version is the current version of trace-mcp
	Version = "0.2.0"

	// Name is the server name announced to MCP clients
	Name = "trace-mcp"
)

// String returns the version with the VCS revision the binary was built
// from, when the toolchain recorded one.
func String() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return Version
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if dirty {
		revision += "-dirty"
	}
	return fmt.Sprintf("%s (%s)", Version, revision)
}
