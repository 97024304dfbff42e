// Package version reports build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Name is the program name used in user agents and client names.
const Name = "posenode"

var (
	// Version is set via -X github.com/smazurov/posenode/internal/version.Version.
	Version = "dev"
	// GitCommit is the short commit hash.
	GitCommit = "unknown"
	// BuildDate is an RFC 3339 timestamp.
	BuildDate = "unknown"
)

// Info contains version and build metadata.
type Info struct {
	Name      string `json:"name" doc:"Program name"`
	Version   string `json:"version" doc:"Release version"`
	GitCommit string `json:"git_commit" doc:"Commit the binary was built from"`
	BuildDate string `json:"build_date" doc:"Build timestamp"`
	GoVersion string `json:"go_version" doc:"Go toolchain"`
	Platform  string `json:"platform" doc:"GOOS/GOARCH"`
}

// Get returns version and build information.
func Get() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the info on one line, e.g.
// "posenode 1.2.0 (commit 3f2a9c1, built 2024-05-01T10:00:00Z, go1.24.11 linux/arm64)".
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", i.Name, i.Version)
	var meta []string
	if i.GitCommit != "" && i.GitCommit != "unknown" {
		meta = append(meta, "commit "+i.GitCommit)
	}
	if i.BuildDate != "" && i.BuildDate != "unknown" {
		meta = append(meta, "built "+i.BuildDate)
	}
	meta = append(meta, i.GoVersion+" "+i.Platform)
	fmt.Fprintf(&b, " (%s)", strings.Join(meta, ", "))
	return b.String()
}

// String returns the application version.
func String() string {
	return Version
}

// UserAgent identifies posenode in outgoing HTTP requests.
func UserAgent() string {
	return Name + "/" + Version
}
