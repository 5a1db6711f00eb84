//go:build !unix

package main

import "context"

// watchResize never fires; there is no SIGWINCH here.
func watchResize(context.Context) <-chan struct{} {
	return nil
}
