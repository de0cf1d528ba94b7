// Package versionutil normalizes the build version string.
package versionutil

import (
	"os/exec"
	"strings"
)

// Dev is the version of binaries built without -ldflags.
const Dev = "dev"

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
func EnsureVPrefix(s string) string {
	if s != "" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

// Resolve returns the display version for a build version. Release builds
// get a "v" prefix; dev builds are described from git when available.
func Resolve(build string, describe func() (string, error)) string {
	build = strings.TrimSpace(build)
	if build == "" || build == Dev {
		if describe != nil {
			if desc, err := describe(); err == nil {
				if v := strings.TrimSpace(desc); v != "" {
					return EnsureVPrefix(v) + "-" + Dev
				}
			}
		}
		return Dev
	}
	return EnsureVPrefix(build)
}

// GitDescribe runs `git describe --tags --always` in the working directory.
func GitDescribe() (string, error) {
	out, err := exec.Command("git", "describe", "--tags", "--always").Output()
	return string(out), err
}
