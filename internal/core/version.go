package core

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Version is the build version, resolved from the embedded build info
var Version = resolveVersion(debug.ReadBuildInfo())

// resolveVersion prefers the module version of tagged releases and falls
// back to "devel-<short revision>[-dirty]" for local builds
func resolveVersion(info *debug.BuildInfo, ok bool) string {
	if !ok || info == nil {
		return "devel"
	}

	// Go 1.24+ stamps local builds with a pseudo-version; VCS info reads better
	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		return v
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return "devel"
	}

	if len(revision) > 7 {
		revision = revision[:7]
	}
	v := fmt.Sprintf("devel-%s", revision)
	if dirty {
		v += "-dirty"
	}
	return v
}

// FormatVersion strips the "v" prefix of tagged releases for display;
// devel versions pass through as-is
func FormatVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// UserAgent identifies relaunch in outgoing HTTP requests
func UserAgent() string {
	return "relaunch/" + FormatVersion(Version)
}

// isPseudoVersion reports whether v ends in the 12 hex digit commit hash of
// a Go module pseudo-version, e.g. v0.0.0-20260217105831-82903d1d8810
func isPseudoVersion(v string) bool {
	if i := strings.Index(v, "+"); i >= 0 {
		v = v[:i]
	}
	i := strings.LastIndex(v, "-")
	if i < 0 {
		return false
	}
	hash := v[i+1:]
	if len(hash) != 12 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
