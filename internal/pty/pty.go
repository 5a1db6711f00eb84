// Package pty spawns interactive processes attached to a pseudo-terminal.
package pty

import (
	"errors"
	"io"
	"os"
	"sync"
)

// ErrUnsupported is returned by Start on platforms without PTY support.
var ErrUnsupported = errors.New("pty: unsupported on this platform")

// StartOptions contains options for starting a PTY process.
type StartOptions struct {
	// Command is the executable to run.
	Command string

	// Args are the arguments to pass to the command.
	Args []string

	// Env is the full environment for the process.
	// If nil, the current process environment is used.
	Env []string

	// Dir is the working directory for the process.
	// If empty, the current directory is used.
	Dir string

	// InitialRows is the initial number of rows for the PTY.
	InitialRows uint16

	// InitialCols is the initial number of columns for the PTY.
	InitialCols uint16
}

// terminal is the platform side of a pseudo-terminal. Close must unblock a
// pending Read.
type terminal interface {
	io.ReadWriteCloser
	resize(rows, cols uint16) error
}

// Process is a running command attached to a pseudo-terminal.
// Reads return its output, writes become its input.
type Process struct {
	proc *os.Process
	term terminal

	// exited is set once the process can no longer be signalled.
	mu     sync.Mutex
	exited bool

	closeOnce sync.Once
	closeErr  error
}

// Read reads process output.
func (p *Process) Read(b []byte) (int, error) {
	return p.term.Read(b)
}

// Write writes to the process input.
func (p *Process) Write(b []byte) (int, error) {
	return p.term.Write(b)
}

// PID returns the process ID.
func (p *Process) PID() int {
	return p.proc.Pid
}

// Resize changes the terminal window size.
func (p *Process) Resize(rows, cols uint16) error {
	return p.term.resize(rows, cols)
}

// Wait waits for the process to exit and returns the exit code.
// Returns -1 if the process was killed by a signal.
func (p *Process) Wait() (int, error) {
	// Until it is reaped the exited process keeps its pid and group id.
	if awaitExit(p.proc.Pid) == nil {
		p.markExited()
	}
	state, err := p.proc.Wait()
	p.markExited()
	if err != nil {
		return -1, err
	}
	return state.ExitCode(), nil
}

func (p *Process) markExited() {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
}

// Kill terminates the process and everything in its process group. It does
// nothing once Wait has seen the process exit.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return nil
	}
	return p.kill()
}

// Close releases the terminal and unblocks a pending Read. It is safe to
// call more than once.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.term.Close()
	})
	return p.closeErr
}

func defaultSize(opts *StartOptions) {
	if opts.InitialRows == 0 {
		opts.InitialRows = 24
	}
	if opts.InitialCols == 0 {
		opts.InitialCols = 80
	}
}

func environ(opts StartOptions) []string {
	if opts.Env == nil {
		return os.Environ()
	}
	return opts.Env
}
