/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import "fmt"

// Version is the current version of catchup.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/catchup/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the git commit the binary was built from.
var Commit = "unknown"

// String returns the version with the commit suffix when known.
func String() string {
	if Commit == "" || Commit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
