// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info()

	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS, info.GoOS)
	assert.Equal(t, runtime.GOARCH, info.GoArch)
}

func TestVersionValues(t *testing.T) {
	testCases := []struct {
		name   string
		ver    string
		time   string
		branch string
		commit string
	}{
		{
			name:   "typical values",
			ver:    "v1.2.3",
			time:   "2025-04-01T12:00:00Z",
			branch: "main",
			commit: "abcdef123456",
		},
		{
			name:   "dev values",
			ver:    "dev",
			time:   "unknown",
			branch: "feature-branch",
			commit: "deadbeef",
		},
	}

	t.Cleanup(func() {
		version, buildTime, gitBranch, gitCommit = "", "", "", ""
	})

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			version = tc.ver
			buildTime = tc.time
			gitBranch = tc.branch
			gitCommit = tc.commit

			info := Info()
			assert.Equal(t, tc.ver, info.Version)
			assert.Equal(t, tc.time, info.BuildTime)
			assert.Equal(t, tc.branch, info.GitBranch)
			assert.Equal(t, tc.commit, info.GitCommit)
		})
	}
}

func TestVersionString(t *testing.T) {
	v := VersionInfo{Version: "v0.3.0", GitCommit: "abc123", GoVersion: "go1.24.0", GoOS: "linux", GoArch: "amd64"}
	assert.Equal(t, "v0.3.0 (commit abc123, go1.24.0 linux/amd64)", v.String())

	v.Version = ""
	assert.Contains(t, v.String(), "unknown (commit abc123")
}
