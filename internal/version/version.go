package version

// Version information set via ldflags during build
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// FullVersion returns a formatted version string
func FullVersion() string {
	if Version == "dev" {
		return "tcplat development build"
	}
	return "tcplat " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ")"
}

// UserAgent identifies tcplat in HTTP responses
func UserAgent() string {
	return "tcplat/" + Version
}
