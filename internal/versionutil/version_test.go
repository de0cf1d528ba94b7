package versionutil

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	noGit := func() (string, error) { return "", errors.New("not a repository") }
	tagged := func() (string, error) { return "v0.3.1-4-gabc123\n", nil }

	tests := []struct {
		build    string
		describe func() (string, error)
		want     string
	}{
		{"1.2.0", noGit, "v1.2.0"},
		{"v1.2.0", nil, "v1.2.0"},
		{"dev", noGit, "dev"},
		{"", nil, "dev"},
		{"dev", tagged, "v0.3.1-4-gabc123-dev"},
	}
	for _, tc := range tests {
		if got := Resolve(tc.build, tc.describe); got != tc.want {
			t.Fatalf("Resolve(%q): got %q, want %q", tc.build, got, tc.want)
		}
	}
}
