package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfoString(t *testing.T) {
	tests := []struct {
		name     string
		info     Info
		contains []string
		absent   []string
	}{
		{
			name:     "release build",
			info:     Info{Name: Name, Version: "1.2.0", GitCommit: "3f2a9c1", BuildDate: "2024-05-01T10:00:00Z", GoVersion: "go1.24.11", Platform: "linux/arm64"},
			contains: []string{"posenode 1.2.0", "commit 3f2a9c1", "built 2024-05-01T10:00:00Z", "go1.24.11 linux/arm64"},
		},
		{
			name:     "dev build",
			info:     Info{Name: Name, Version: "dev", GitCommit: "unknown", BuildDate: "unknown", GoVersion: "go1.24.11", Platform: "linux/amd64"},
			contains: []string{"posenode dev (go1.24.11 linux/amd64)"},
			absent:   []string{"commit", "built"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info.String()
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("String() = %q, missing %q", got, want)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(got, bad) {
					t.Errorf("String() = %q, should not contain %q", got, bad)
				}
			}
		})
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Name != Name || info.Version != Version {
		t.Errorf("Get() = %+v", info)
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Platform = %q", info.Platform)
	}
}

func TestUserAgent(t *testing.T) {
	if got, want := UserAgent(), "posenode/"+Version; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
