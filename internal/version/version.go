// Package version reports the vibepanel build. Version and Commit are set
// at build time with -ldflags "-X".
package version

import (
	"runtime"
	"runtime/debug"
)

const unknownCommit = "unknown"

var (
	Version = "development"
	Commit  = unknownCommit
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// String returns the version with the commit appended when it is known.
func String() string {
	if c := commit(); c != unknownCommit {
		return Version + "+" + c
	}
	return Version
}

// Get returns the build information.
func Get() Info {
	return Info{Version: Version, Commit: commit(), GoVersion: runtime.Version()}
}

// commit falls back to the VCS revision the toolchain stamped into the
// binary.
func commit() string {
	if Commit != unknownCommit {
		return Commit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return unknownCommit
}
