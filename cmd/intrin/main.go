package main

import (
	"os"

	"github.com/go-delve/intrinsics/cmd/intrin/cmds"
	"github.com/go-delve/intrinsics/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.IntrinVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
