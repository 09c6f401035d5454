package buildinfo

import (
	"fmt"

	"github.com/cordum/blackboard/core/infra/logging"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// Fields returns the build summary for JSON health payloads.
func Fields() map[string]string {
	return map[string]string{"version": Version, "commit": Commit, "date": Date}
}

// Log writes the build summary under the service's log component.
func Log(service string) {
	logging.Info(service, "starting", "version", Version, "commit", Commit, "date", Date)
}
