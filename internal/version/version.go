package version

import (
	"runtime/debug"
)

var (
	Version = "0.3.0"
	Commit  = ""
)

// Resolve returns the version string. Release builds set Commit through
// -ldflags and report the bare version; local builds append the VCS revision
// recorded by the Go toolchain.
func Resolve() string {
	info, _ := debug.ReadBuildInfo()
	return resolveVersion(Version, Commit, info)
}

func resolveVersion(base, commit string, info *debug.BuildInfo) string {
	if base == "" {
		base = "0.0.0"
	}
	if commit != "" {
		return base
	}

	revision, dirty := vcsState(info)
	if revision == "" {
		return base
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		return base + "-" + revision + "-dirty"
	}
	return base + "-" + revision
}

func vcsState(info *debug.BuildInfo) (string, bool) {
	if info == nil {
		return "", false
	}

	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return revision, dirty
}
