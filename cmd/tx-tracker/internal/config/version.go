//nolint:gochecknoglobals // allow global variables
package config

var (
	// Version is the tx-tracker version number, which is injected during build time.
	Version = "0.0.0"

	// CommitHash is the tx-tracker git commit hash, which is injected during build time.
	CommitHash = ""

	// BuildTimestamp is the timestamp at which tx-tracker was built, injected during build time.
	BuildTimestamp = ""

	// Branch is the git branch from which tx-tracker was built, injected during build time.
	Branch = ""
)
