// Package logging initializes the process-wide zerowrap/zerolog logger.
package logging

import "github.com/bnema/zerowrap"

// Setup builds the process logger from the configured level and format.
// Unlike the dashboard/CLI tooling this system is distilled from, there is
// no log-file rotation here: a control plane's own logs are expected to be
// captured by the surrounding process supervisor (systemd, a container
// runtime), not managed by this process itself.
func Setup(level, format string) zerowrap.Logger {
	return zerowrap.New(zerowrap.Config{
		Level:  level,
		Format: format,
	})
}
