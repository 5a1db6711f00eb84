package shell

import "strings"

// FormatCwd renders a working directory for display.
//
// The workspace root is checked before the home directory: a path equal to
// either becomes "~", a descendant becomes "~/<rel>", anything else is
// returned unchanged.
func FormatCwd(cwd, workspaceRoot, home string) string {
	if label, ok := relativeTo(cwd, workspaceRoot); ok {
		return label
	}
	if label, ok := relativeTo(cwd, home); ok {
		return label
	}
	return cwd
}

func relativeTo(cwd, base string) (string, bool) {
	if base == "" {
		return "", false
	}
	if cwd == base {
		return "~", true
	}
	if rest, ok := strings.CutPrefix(cwd, base+"/"); ok {
		return "~/" + rest, true
	}
	return "", false
}
