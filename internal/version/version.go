// Package version identifies the build. Values are set with -ldflags.
package version

var (
	Name    = "evac"
	Version = "dev"
	Commit  = "unknown"
)

// String formats the build for logs and the CLI
func String() string {
	return Name + " " + Version + " (" + Commit + ")"
}
