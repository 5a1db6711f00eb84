package pty

import "errors"

// ErrCwdUnsupported is returned by probers on platforms that cannot
// resolve another process's working directory.
var ErrCwdUnsupported = errors.New("pty: cwd lookup unsupported on this platform")

// CwdProber resolves the current working directory of a running process.
// Lookups are best-effort; callers treat any error as "unknown".
type CwdProber interface {
	Cwd(pid int) (string, error)
}

// CwdProberFunc adapts a function to the CwdProber interface.
type CwdProberFunc func(pid int) (string, error)

// Cwd calls f(pid).
func (f CwdProberFunc) Cwd(pid int) (string, error) {
	return f(pid)
}

type unsupportedProber struct{}

func (unsupportedProber) Cwd(int) (string, error) {
	return "", ErrCwdUnsupported
}
