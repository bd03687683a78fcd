// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"runtime/debug"
	"sync"
)

// Set with -ldflags -X.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

var stampOnce sync.Once

// stamp fills unset variables from the embedded VCS information.
func stamp() {
	stampOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if GitCommit == "unknown" && len(setting.Value) >= 7 {
					GitCommit = setting.Value[:7]
				}
			case "vcs.time":
				if BuildTime == "unknown" {
					BuildTime = setting.Value
				}
			case "vcs.modified":
				if setting.Value == "true" {
					GitDirty = "true"
				}
			}
		}
	})
}

// Info returns "0.1.0-dev (abc1234-dirty, 2026-...)".
func Info() string {
	stamp()
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Print writes "name Info()" to w.
func Print(w io.Writer, name string) {
	fmt.Fprintf(w, "%s %s\n", name, Info())
}
