//go:build !windows

package pty

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Start starts a new process attached to a fresh PTY.
// The process becomes a session leader with the PTY as its controlling terminal.
func Start(opts StartOptions) (*Process, error) {
	defaultSize(&opts)

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = environ(opts)
	cmd.Dir = opts.Dir

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: opts.InitialRows,
		Cols: opts.InitialCols,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	term, err := pollable(master)
	if err != nil {
		cmd.Process.Kill()
		cmd.Process.Wait()
		return nil, fmt.Errorf("failed to set up pty master: %w", err)
	}

	return &Process{proc: cmd.Process, term: term}, nil
}

// pollable reopens the master on a non-blocking descriptor so reads go
// through the runtime poller and Close interrupts them. Jobs the shell put
// in their own process group can hold the slave open after the shell is
// gone, so EOF cannot be relied on.
func pollable(master *os.File) (unixTerminal, error) {
	fd, err := unix.FcntlInt(master.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	master.Close()
	if err != nil {
		return unixTerminal{}, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return unixTerminal{}, err
	}
	return unixTerminal{os.NewFile(uintptr(fd), master.Name())}, nil
}

type unixTerminal struct {
	*os.File
}

// resize goes through SyscallConn; File.Fd would switch the descriptor back
// to blocking mode.
func (t unixTerminal) resize(rows, cols uint16) error {
	conn, err := t.SyscallConn()
	if err != nil {
		return err
	}
	var ioctlErr error
	err = conn.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, &unix.Winsize{Row: rows, Col: cols})
	})
	if err != nil {
		return err
	}
	return ioctlErr
}

// kill sends SIGKILL to the process group and then to the process itself.
// The shell is a session leader, so its pid is also the group id.
func (p *Process) kill() error {
	_ = unix.Kill(-p.proc.Pid, unix.SIGKILL)
	return p.proc.Kill()
}
