// Package shell chooses the interactive shell for a terminal session and
// the launch profile that keeps its prompt predictable.
package shell

import (
	"sort"
	"strings"
)

// TermType is exported to every spawned shell as TERM.
const TermType = "xterm-256color"

// Profile describes how to launch a shell: the command, its arguments,
// and environment variables layered over the inherited environment.
type Profile struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Detect returns the shell to launch. On Windows it is always PowerShell;
// elsewhere the preferred shell (usually $SHELL) wins, falling back to bash.
func Detect(preferred, goos string) string {
	if goos == "windows" {
		return "powershell.exe"
	}
	if preferred != "" {
		return preferred
	}
	return "bash"
}

// ProfileFor builds the launch profile for the given shell path.
// Rc files are skipped and the prompt is pinned so user customisation
// cannot leak into the session.
func ProfileFor(shell string) Profile {
	switch {
	case strings.Contains(shell, "powershell") || strings.Contains(shell, "pwsh"):
		return Profile{
			Command: shell,
			Args:    []string{"-NoLogo", "-NoProfile"},
			Env:     map[string]string{},
		}
	case strings.Contains(shell, "zsh"):
		return Profile{
			Command: shell,
			Args:    []string{"-f", "-i"},
			Env:     map[string]string{"PS1": "%# ", "PROMPT": "%# "},
		}
	case strings.Contains(shell, "bash"):
		return Profile{
			Command: shell,
			Args:    []string{"--noprofile", "--norc", "-i"},
			Env:     map[string]string{"PS1": "$ ", "PROMPT_COMMAND": ""},
		}
	default:
		return Profile{
			Command: shell,
			Args:    []string{"-i"},
			Env:     map[string]string{"PS1": "$ "},
		}
	}
}

// Environ returns base with TERM and the profile overlay applied.
// Existing entries for overridden keys are dropped so each key appears once.
func (p Profile) Environ(base []string) []string {
	overlay := make(map[string]string, len(p.Env)+1)
	overlay["TERM"] = TermType
	for k, v := range p.Env {
		overlay[k] = v
	}

	env := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overlay[key]; ok {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}
	return env
}
