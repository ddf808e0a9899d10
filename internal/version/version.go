// Package version carries build metadata stamped in with -ldflags, filled
// from the embedded build info when not stamped.
package version

import (
	"runtime/debug"
	"strconv"
)

// AppName identifies the service in logs, metrics and traces.
const AppName = "compliance-web"

// set with -ldflags "-X .../internal/version.Version=..."
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	info := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		info.fill(bi.Settings)
	}
	return info
}

// fill takes the vcs stamps the go toolchain embeds; ldflags values win
// except for vcs.modified, which is only known from the build itself.
func (i *Info) fill(settings []debug.BuildSetting) {
	for _, s := range settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "none" {
				i.Commit = s.Value
			}
		case "vcs.time":
			i.CommitDate = s.Value
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			if b, err := strconv.ParseBool(s.Value); err == nil {
				i.VCSDirty = &b
			}
		}
	}
}

// UserAgent is what outbound requests to the legacy origin identify as,
// e.g. "compliance-web-server/1.4.2".
func (i Info) UserAgent(component string) string {
	ua := AppName
	if component != "" {
		ua += "-" + component
	}
	return ua + "/" + i.Version
}
