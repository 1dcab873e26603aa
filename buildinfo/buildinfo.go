package buildinfo

import (
	"encoding/json"
	"fmt"
)

// Values are set at build time with -ldflags "-X".
var (
	// GitCommit is the git commit the binary was built from.
	GitCommit = "<unknown>"
	// GitBranch is the git branch the binary was built from.
	GitBranch = "<unknown>"
	// GitState is clean or dirty.
	GitState = "<unknown>"
	// GitSummary is the output of git describe --tags --dirty --always.
	GitSummary = "<unknown>"
	// BuildDate is the build date in RFC3339.
	BuildDate = "<unknown>"
	// Version is the released version.
	Version = "<unknown>"
)

// Info is the build information in structured form.
type Info struct {
	GitCommit  string `json:"gitCommit"`
	GitBranch  string `json:"gitBranch"`
	GitState   string `json:"gitState"`
	GitSummary string `json:"gitSummary"`
	BuildDate  string `json:"buildDate"`
	Version    string `json:"version"`
}

// Get returns the build Info.
func Get() Info {
	return Info{
		GitCommit:  GitCommit,
		GitBranch:  GitBranch,
		GitState:   GitState,
		GitSummary: GitSummary,
		BuildDate:  BuildDate,
		Version:    Version,
	}
}

// Summary returns a one-line build summary.
func Summary() string {
	return fmt.Sprintf("bidledger %s (%s, %s, built %s)", Version, GitSummary, GitBranch, BuildDate)
}

// JSON returns the build Info as indented JSON.
func JSON() []byte {
	b, _ := json.MarshalIndent(Get(), "", "  ")
	return b
}
