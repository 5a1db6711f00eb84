//go:build !linux

package pty

// NewCwdProber returns a prober that always fails: there is no
// proc filesystem to read on this platform.
func NewCwdProber() CwdProber {
	return unsupportedProber{}
}
