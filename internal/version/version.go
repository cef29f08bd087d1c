// Package version holds the build identity stamped into release binaries.
package version

import "fmt"

// Set at link time through -ldflags "-X". A plain `go build` leaves the
// dev placeholders in place.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String renders the full build identity for the version command.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
