package config

import "os"

// DefaultWorkspaceRoot is used when WORKSPACE_ROOT is unset.
const DefaultWorkspaceRoot = "/home/ubuntu/workspace"

// Env is a source of environment variables. Session settings are read
// through it each time a session opens, never cached at startup.
type Env interface {
	Getenv(key string) string
}

// OSEnv reads the live process environment.
type OSEnv struct{}

// Getenv implements Env.
func (OSEnv) Getenv(key string) string { return os.Getenv(key) }

// MapEnv is a fixed environment, used by tests and embedders.
type MapEnv map[string]string

// Getenv implements Env.
func (m MapEnv) Getenv(key string) string { return m[key] }

// Session is the per-session environment snapshot.
type Session struct {
	Shell         string
	WorkspaceRoot string
	Home          string
}

// SessionEnv reads the session settings from env.
func SessionEnv(env Env) Session {
	root := env.Getenv("WORKSPACE_ROOT")
	if root == "" {
		root = DefaultWorkspaceRoot
	}
	return Session{
		Shell:         env.Getenv("SHELL"),
		WorkspaceRoot: root,
		Home:          env.Getenv("HOME"),
	}
}
