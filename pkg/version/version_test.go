package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	tests := []struct {
		v    Version
		want string
	}{
		{Version{Major: "1", Minor: "2", Patch: "3", Build: "abc"}, "Version: 1.2.3\nBuild: abc"},
		{Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abc"}, "Version: 1.2.3-rc1\nBuild: abc"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
	if !strings.HasPrefix(IntrinVersion.String(), "Version: ") {
		t.Fatalf("unexpected %q", IntrinVersion.String())
	}
}

func TestBuildInfo(t *testing.T) {
	if !strings.HasPrefix(BuildInfo(), runtime.Version()) {
		t.Fatalf("build info does not start with the Go version: %q", BuildInfo())
	}
}
