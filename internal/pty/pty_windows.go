//go:build windows

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procCreatePseudoConsole = windows.NewLazySystemDLL("kernel32.dll").NewProc("CreatePseudoConsole")

// Start starts a new process attached to a ConPTY pseudo console.
// ConPTY needs Windows 10 1809 or later.
func Start(opts StartOptions) (*Process, error) {
	if err := procCreatePseudoConsole.Find(); err != nil {
		return nil, fmt.Errorf("%w: ConPTY not available: %v", ErrUnsupported, err)
	}
	defaultSize(&opts)

	path, err := exec.LookPath(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	// The console reads conIn and writes conOut; we keep the other ends.
	var conIn, input, output, conOut windows.Handle
	if err := windows.CreatePipe(&conIn, &input, nil, 0); err != nil {
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}
	if err := windows.CreatePipe(&output, &conOut, nil, 0); err != nil {
		closeHandles(conIn, input)
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	var hpc windows.Handle
	size := windows.Coord{X: int16(opts.InitialCols), Y: int16(opts.InitialRows)}
	err = windows.CreatePseudoConsole(size, conIn, conOut, 0, &hpc)
	// The console holds its own duplicates.
	closeHandles(conIn, conOut)
	if err != nil {
		closeHandles(input, output)
		return nil, fmt.Errorf("CreatePseudoConsole failed: %w", err)
	}

	term := &conPTY{
		hpc: hpc,
		in:  os.NewFile(uintptr(input), "conpty-input"),
		out: os.NewFile(uintptr(output), "conpty-output"),
	}
	proc, err := spawn(path, opts, hpc)
	if err != nil {
		term.Close()
		return nil, err
	}
	return &Process{proc: proc, term: term}, nil
}

// spawn creates the process with hpc as its console.
func spawn(path string, opts StartOptions, hpc windows.Handle) (*os.Process, error) {
	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate attribute list: %w", err)
	}
	defer attrs.Delete()
	if err := attrs.Update(windows.PROC_THREAD_ATTRIBUTE_PSEUDOCONSOLE, unsafe.Pointer(hpc), unsafe.Sizeof(hpc)); err != nil {
		return nil, fmt.Errorf("failed to attach pseudo console: %w", err)
	}

	si := &windows.StartupInfoEx{ProcThreadAttributeList: attrs.List()}
	si.Cb = uint32(unsafe.Sizeof(*si))

	cmdline, err := windows.UTF16PtrFromString(windows.ComposeCommandLine(append([]string{path}, opts.Args...)))
	if err != nil {
		return nil, fmt.Errorf("invalid command line: %w", err)
	}
	var dir *uint16
	if opts.Dir != "" {
		if dir, err = windows.UTF16PtrFromString(opts.Dir); err != nil {
			return nil, fmt.Errorf("invalid directory: %w", err)
		}
	}
	env := envBlock(environ(opts))

	var pi windows.ProcessInformation
	err = windows.CreateProcess(nil, cmdline, nil, nil, false,
		windows.EXTENDED_STARTUPINFO_PRESENT|windows.CREATE_UNICODE_ENVIRONMENT,
		&env[0], dir, &si.StartupInfo, &pi)
	if err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	defer closeHandles(pi.Thread, pi.Process)

	proc, err := os.FindProcess(int(pi.ProcessId))
	if err != nil {
		windows.TerminateProcess(pi.Process, 1)
		return nil, fmt.Errorf("failed to open process: %w", err)
	}
	return proc, nil
}

// envBlock encodes env as a double-NUL-terminated UTF-16 block.
func envBlock(env []string) []uint16 {
	var block []uint16
	for _, kv := range env {
		block = append(block, utf16.Encode([]rune(kv))...)
		block = append(block, 0)
	}
	if len(block) == 0 {
		block = append(block, 0)
	}
	return append(block, 0)
}

func closeHandles(handles ...windows.Handle) {
	for _, h := range handles {
		windows.CloseHandle(h)
	}
}

// conPTY is a pseudo console and our ends of its pipes.
type conPTY struct {
	hpc windows.Handle
	in  *os.File
	out *os.File

	closeOnce sync.Once
	closeErr  error
}

func (c *conPTY) Read(b []byte) (int, error)  { return c.out.Read(b) }
func (c *conPTY) Write(b []byte) (int, error) { return c.in.Write(b) }

func (c *conPTY) resize(rows, cols uint16) error {
	if err := windows.ResizePseudoConsole(c.hpc, windows.Coord{X: int16(cols), Y: int16(rows)}); err != nil {
		return fmt.Errorf("ResizePseudoConsole failed: %w", err)
	}
	return nil
}

// Close closes the console, which ends its output and unblocks Read.
func (c *conPTY) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.in.Close()
		windows.ClosePseudoConsole(c.hpc)
		if err := c.out.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// kill terminates the process. Windows has no process groups here.
func (p *Process) kill() error {
	return p.proc.Kill()
}
