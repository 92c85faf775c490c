// Package version reports the magentic build version.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is set at build time with -ldflags "-X .../internal/version.Commit=<sha>".
var Commit = ""

// Get returns the current version, with whitespace trimmed
func Get() string {
	return strings.TrimSpace(versionContent)
}

// String returns the version with the commit, when known.
func String() string {
	if Commit == "" {
		return Get()
	}
	return Get() + " (" + Commit + ")"
}
