//go:build !linux

package pty

import "errors"

// awaitExit is unavailable here; Wait marks the process exited after it is
// reaped instead.
func awaitExit(int) error {
	return errors.ErrUnsupported
}
