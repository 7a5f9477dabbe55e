/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Version is the current version of Ripple.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/ripple/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the source revision, set at build time.
var Commit = ""

// String returns a one-line description of the build.
func String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ripple %s", Version)
	if Commit != "" {
		fmt.Fprintf(&b, " (%s)", shortCommit(Commit))
	}
	fmt.Fprintf(&b, " %s/%s", runtime.GOOS, runtime.GOARCH)
	return b.String()
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
