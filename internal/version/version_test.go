package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		commit   string
		expected string
	}{
		{name: "release version with commit", version: "1.0.0", commit: "abc1234", expected: "1.0.0+abc1234"},
		{name: "version with commit hash", version: "0.5.0", commit: "def5678", expected: "0.5.0+def5678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origVersion, origCommit := Version, Commit
			defer func() { Version, Commit = origVersion, origCommit }()

			Version, Commit = tt.version, tt.commit
			require.Equal(t, tt.expected, String())
		})
	}
}

func TestGet(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	Version, Commit = "2.0.0", "0123abc"
	require.Equal(t, Info{Version: "2.0.0", Commit: "0123abc", GoVersion: runtime.Version()}, Get())
}
