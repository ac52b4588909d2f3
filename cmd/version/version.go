
package version

import (
	"fmt"
	"runtime"
)

// Set at build time, e.g. -ldflags "-X github.com/shaowenchen/mcp-tool-forge/cmd/version.BuildVersion=v1.2.0"
var (
	BuildVersion = "latest"
	BuildDate    = "unknown"
	GitCommitID  = "unknown"
)

// Info contains version information
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Version:   BuildVersion,
		BuildDate: BuildDate,
		GitCommit: GitCommitID,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a formatted version string
func String() string {
	info := Get()
	return fmt.Sprintf("mcp-tool-forge %s (built on %s, commit %s, %s %s)",
		info.Version, info.BuildDate, info.GitCommit, info.GoVersion, info.Platform)
}

// Short returns a short version string with build date and commit
func Short() string {
	return fmt.Sprintf("%s (built on %s, commit %s)",
		BuildVersion, BuildDate, GitCommitID)
}

// Labels returns the build info as Prometheus label values: version, commit, build date
func Labels() (string, string, string) {
	return BuildVersion, GitCommitID, BuildDate
}
