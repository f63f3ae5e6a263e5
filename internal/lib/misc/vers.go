package misc

import (
	"runtime/debug"
	"slices"
)

// GetVersionInfo returns the short vcs revision baked into the binary.
func GetVersionInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "(unknown)"
	}
	fnd := slices.IndexFunc(info.Settings, func(v debug.BuildSetting) bool { return v.Key == "vcs.revision" })
	if fnd == -1 {
		return "(unknown)"
	}
	return shortRev(info.Settings[fnd].Value)
}

func shortRev(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
