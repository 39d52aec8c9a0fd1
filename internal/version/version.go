// Package version holds the build version of pldbg-mcp.
package version

import "fmt"

// Version is the current version of pldbg-mcp. Release builds override it
// with -ldflags "-X github.com/ctagard/pldbg-mcp/internal/version.Version=...".
var Version = "0.1.0"

// String returns the version line printed by --version.
func String() string {
	return fmt.Sprintf("pldbg-mcp version %s", Version)
}
