// Package version carries build metadata injected via -ldflags.
package version

var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
)

// String formats the version for --version output.
func String() string {
	return Version + " (" + GitSHA + ")"
}
