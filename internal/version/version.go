package version

import (
	"runtime/debug"
	"time"
)

// Set at build time via -ldflags. Resolve falls back to the build info the
// Go toolchain embeds in the binary when these are left empty.
var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

// Info is the resolved build identity.
type Info struct {
	Version   string
	Commit    string
	BuildTime string
}

// Resolve merges the ldflags values with the binary's embedded build info.
// ldflags win; VCS stamps fill the gaps; a build with neither reports
// "devel" and the current time.
func Resolve() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			}
		}
	}

	if info.Version == "" {
		info.Version = "devel"
	}
	if info.BuildTime == "" {
		info.BuildTime = time.Now().UTC().Format(time.RFC3339)
	}
	return info
}

// String renders the resolved version with a shortened commit when one is
// known.
func String() string {
	info := Resolve()
	commit := info.Commit
	if commit == "" {
		return info.Version
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return info.Version + " (" + commit + ")"
}
